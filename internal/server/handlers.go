package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/johnayoung/llm-council/internal/consensus"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/storage"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

type updateConfigRequest struct {
	CouncilModels []string `json:"council_models"`
	ChairmanModel string   `json:"chairman_model"`
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "LLM Council API"})
}

func (s *Server) health(c *gin.Context) {
	snap := s.settings.Snapshot()
	c.JSON(http.StatusOK, provider.CheckAvailability(c.Request.Context(), s.models, snap.CouncilModels, snap.ChairmanModel))
}

func (s *Server) availableModels(c *gin.Context) []string {
	models, err := s.models.ListModels(c.Request.Context())
	if err != nil {
		s.logger.Warn("list models failed", "error", err)
		return []string{}
	}
	return models
}

func (s *Server) getConfig(c *gin.Context) {
	snap := s.settings.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"council_models":   snap.CouncilModels,
		"chairman_model":   snap.ChairmanModel,
		"shuffle_labels":   snap.ShuffleLabels,
		"available_models": s.availableModels(c),
	})
}

func (s *Server) updateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := s.settings.Update(req.CouncilModels, strings.TrimSpace(req.ChairmanModel))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("council updated", "council", updated.CouncilModels, "chairman", updated.ChairmanModel)
	c.JSON(http.StatusOK, gin.H{
		"council_models": updated.CouncilModels,
		"chairman_model": updated.ChairmanModel,
	})
}

func (s *Server) listConversations(c *gin.Context) {
	list, err := s.conversations.ListConversations(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createConversation(c *gin.Context) {
	conv, err := s.conversations.CreateConversation(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.conversations.GetConversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func bindContent(c *gin.Context) (string, bool) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return "", false
	}
	return req.Content, true
}

func (s *Server) sendMessage(c *gin.Context) {
	content, ok := bindContent(c)
	if !ok {
		return
	}

	res, err := s.conversations.SendMessage(c.Request.Context(), c.Param("id"), content)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, consensus.ErrSynthesis), errors.Is(err, council.ErrNoResponses):
		// Partial results are still surfaced.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": res})
	case errors.Is(err, council.ErrCanceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.internalError(c, err)
	}
}

func (s *Server) sendMessageStream(c *gin.Context) {
	content, ok := bindContent(c)
	if !ok {
		return
	}

	events, err := s.conversations.SendMessageStream(c.Request.Context(), c.Param("id"), content)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for e := range events {
		if err := writeEvent(c.Writer, e); err != nil {
			s.logger.Warn("write event failed", "type", e.Type, "error", err)
			return
		}
		c.Writer.Flush()
		if e.Terminal() {
			return
		}
	}
}

// writeEvent writes one server-sent event: "data: <json>\n\n".
func writeEvent(w io.Writer, e council.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
