package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cuewise/pkg/api/middleware"
	"cuewise/pkg/cluster"
	"cuewise/pkg/history"
	"cuewise/pkg/intent"
	"cuewise/pkg/resume"
)

// Client talks to a running agent's control API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a control-API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// StateResponse mirrors GET /api/v1/state.
type StateResponse struct {
	Intent    intent.Intent `json:"intent"`
	Instance  string        `json:"instance"`
	Leader    bool          `json:"leader"`
	Degraded  bool          `json:"degraded"`
	SyncState string        `json:"sync_state"`
	LastError string        `json:"last_error,omitempty"`
}

// LeaderResponse mirrors GET /api/v1/cluster/leader.
type LeaderResponse struct {
	Leader   string `json:"leader"`
	IsSelf   bool   `json:"is_self"`
	Degraded bool   `json:"degraded"`
}

type instancesResponse struct {
	Instances []cluster.Instance `json:"instances"`
}

type sessionsResponse struct {
	Sessions []history.Session `json:"sessions"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (c *Client) State() (*StateResponse, error) {
	var out StateResponse
	if err := c.get("/api/v1/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetSource(source string) error {
	return c.post("/api/v1/source", map[string]string{"source": source})
}

func (c *Client) SetTransport(transport string) error {
	return c.post("/api/v1/transport", map[string]string{"transport": transport})
}

func (c *Client) SetVolume(source string, volume int) error {
	return c.post("/api/v1/volume", map[string]any{"source": source, "volume": volume})
}

func (c *Client) Select(source, id string) error {
	return c.post("/api/v1/select", map[string]string{"source": source, "id": id})
}

func (c *Client) Instances() ([]cluster.Instance, error) {
	var out instancesResponse
	if err := c.get("/api/v1/cluster/instances", &out); err != nil {
		return nil, err
	}
	return out.Instances, nil
}

func (c *Client) Leader() (*LeaderResponse, error) {
	var out LeaderResponse
	if err := c.get("/api/v1/cluster/leader", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Sessions(limit int) ([]history.Session, error) {
	var out sessionsResponse
	if err := c.get(fmt.Sprintf("/api/v1/history/sessions?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) ResumePoint(itemID string) (*resume.Point, error) {
	var out resume.Point
	if err := c.get("/api/v1/resume/"+itemID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.APIKey != "" {
		req.Header.Set(middleware.APIKeyHeaderKey, c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("agent returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
