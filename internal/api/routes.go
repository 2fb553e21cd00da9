package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/network"
	"github.com/energizer-project/chatforwarder/internal/util"
)

// defaultLimit applies when a list endpoint has no limit parameter.
const defaultLimit = 50

type sendRequest struct {
	Command string `json:"command"`
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "cfclient",
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session_id":  s.session,
		"target":      s.network.RemoteAddr(),
		"listen_port": s.network.ListenPort,
		"show_types":  s.network.ShowTypes,
		"counters":    s.metrics.Snapshot(),
	})
}

func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	c.JSON(http.StatusOK, resp)
}

// parseLimit reads ?limit=N, capped at ceiling.
func parseLimit(c *gin.Context, ceiling int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		if defaultLimit < ceiling {
			return defaultLimit, true
		}
		return ceiling, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > ceiling {
		n = ceiling
	}
	return n, true
}

func (s *Server) handleMessages(c *gin.Context) {
	limit, ok := parseLimit(c, s.history.Cap())
	if !ok {
		return
	}

	messages := s.history.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"total":    len(messages),
	})
}

func (s *Server) handleTranscript(c *gin.Context) {
	if s.transcript == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript disabled"})
		return
	}

	limit, ok := parseLimit(c, 1000)
	if !ok {
		return
	}

	entries, err := s.transcript.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read transcript")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read transcript"})
		return
	}

	sessionTotal, err := s.transcript.Count(c.Request.Context(), s.session)
	if err != nil {
		log.Error().Err(err).Msg("failed to count transcript entries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read transcript"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":       entries,
		"total":         len(entries),
		"session_total": sessionTotal,
	})
}

// handleSend forwards a command like a console line. quit and exit have no
// special meaning here and are sent to the game.
func (s *Server) handleSend(c *gin.Context) {
	if s.sender == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sending disabled"})
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	if err := s.sender.Send(c.Request.Context(), network.SourceAPI, req.Command); err != nil {
		log.Error().Err(err).Msg("send failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "sent",
		"command": req.Command,
	})
}
