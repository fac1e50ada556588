package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cuewise/pkg/intent"
)

type setSourceRequest struct {
	Source intent.Source `json:"source" binding:"required"`
}

type setTransportRequest struct {
	Transport intent.Transport `json:"transport" binding:"required"`
}

type setVolumeRequest struct {
	Source intent.Source `json:"source" binding:"required"`
	Volume int           `json:"volume"`
}

type setSelectionRequest struct {
	Source intent.Source `json:"source" binding:"required"`
	ID     string        `json:"id" binding:"required"`
}

// getState returns the replicated intent plus this instance's local
// view of it.
func (s *Server) getState(c *gin.Context) {
	current, err := s.intents.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read state", "detail": err.Error()})
		return
	}

	resp := gin.H{
		"intent":     current,
		"instance":   s.registry.Self().ID,
		"leader":     s.election.IsLeader(),
		"degraded":   s.election.Degraded(),
		"sync_state": s.sync.State().String(),
	}
	if err := s.sync.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) setSource(c *gin.Context) {
	var req setSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	s.applyMutation(c, s.intents.SetActiveSource(c.Request.Context(), req.Source))
}

func (s *Server) setTransport(c *gin.Context) {
	var req setTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	s.applyMutation(c, s.intents.SetTransport(c.Request.Context(), req.Transport))
}

func (s *Server) setVolume(c *gin.Context) {
	var req setVolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	s.applyMutation(c, s.intents.SetVolume(c.Request.Context(), req.Source, req.Volume))
}

func (s *Server) setSelection(c *gin.Context) {
	var req setSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	s.applyMutation(c, s.intents.SetSelection(c.Request.Context(), req.Source, req.ID))
}

// selectAndActivate is the one-call "play this now" path: activate the
// source and set its selection in a single replicated write.
func (s *Server) selectAndActivate(c *gin.Context) {
	var req setSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	s.applyMutation(c, s.intents.Select(c.Request.Context(), req.Source, req.ID))
}

// applyMutation maps intent-store errors to HTTP statuses and, on
// success, echoes the state the write produced.
func (s *Server) applyMutation(c *gin.Context, err error) {
	switch {
	case err == nil:
	case errors.Is(err, intent.ErrInvalidSource), errors.Is(err, intent.ErrInvalidTransport):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, intent.ErrSourceInactive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to apply change", "detail": err.Error()})
		return
	}

	current, err := s.intents.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"applied": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "intent": current})
}

func (s *Server) getResumePoint(c *gin.Context) {
	itemID := c.Param("item")

	point, found, err := s.tracker.ResumePoint(c.Request.Context(), itemID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read resume point", "detail": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no resume point for item"})
		return
	}
	c.JSON(http.StatusOK, point)
}
