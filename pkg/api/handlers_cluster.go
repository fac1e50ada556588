package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) listInstances(c *gin.Context) {
	instances, err := s.registry.Instances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to list instances", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instances": instances,
		"count":     len(instances),
	})
}

func (s *Server) getLeader(c *gin.Context) {
	leaderID, err := s.registry.Leader(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read leader", "detail": err.Error()})
		return
	}
	if leaderID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no leader elected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"leader":   leaderID,
		"is_self":  leaderID == s.registry.Self().ID,
		"degraded": s.election.Degraded(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	sessions, err := s.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to list sessions", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) listRoutines(c *gin.Context) {
	if s.routines == nil {
		c.JSON(http.StatusOK, gin.H{"routines": []any{}, "count": 0})
		return
	}
	routines := s.routines.Routines()
	c.JSON(http.StatusOK, gin.H{
		"routines": routines,
		"count":    len(routines),
	})
}
