package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client speaks JSON/HTTP to the embedded video renderer (the excluded
// video-embedding layer). Commands are small POSTs; playback position
// comes back from the status endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a renderer client with the given command timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type loadRequest struct {
	ItemID          string  `json:"item_id"`
	PositionSeconds float64 `json:"position_seconds"`
	Volume          int     `json:"volume"`
}

type seekRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
}

type volumeRequest struct {
	Volume int `json:"volume"`
}

// StatusResponse is the renderer's playback report.
type StatusResponse struct {
	ItemID          string  `json:"item_id"`
	SubItemID       string  `json:"sub_item_id"`
	PositionSeconds float64 `json:"position_seconds"`
	State           string  `json:"state"`
}

// Load starts playback of an item at the given offset.
func (c *Client) Load(ctx context.Context, itemID string, resumeAt time.Duration, volume int) error {
	return c.post(ctx, "/player/load", loadRequest{
		ItemID:          itemID,
		PositionSeconds: resumeAt.Seconds(),
		Volume:          volume,
	})
}

// Pause pauses the current item.
func (c *Client) Pause(ctx context.Context) error {
	return c.post(ctx, "/player/pause", nil)
}

// Resume resumes a paused item.
func (c *Client) Resume(ctx context.Context) error {
	return c.post(ctx, "/player/resume", nil)
}

// Stop unloads the current item and releases the renderer.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/player/stop", nil)
}

// Seek jumps to an absolute position.
func (c *Client) Seek(ctx context.Context, offset time.Duration) error {
	return c.post(ctx, "/player/seek", seekRequest{PositionSeconds: offset.Seconds()})
}

// SetVolume applies a 0-100 volume.
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	return c.post(ctx, "/player/volume", volumeRequest{Volume: volume})
}

// Status fetches the renderer's current playback report.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/player/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned status: %d", resp.StatusCode)
	}
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	var reader *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(payload)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("renderer returned status: %d", resp.StatusCode)
	}
	return nil
}
