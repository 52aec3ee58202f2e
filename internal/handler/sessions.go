package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"codex-bridge/internal/hub"
	"codex-bridge/internal/plan"
	"codex-bridge/internal/sessionlog"
	"codex-bridge/internal/translate"
)

type SessionHandler struct {
	Sessions   *sessionlog.Store
	Plans      *plan.Store
	Translator *translate.Service
	Hub        *hub.Hub
}

type createSessionRequest struct {
	Cwd string `json:"cwd"`
}

func (h *SessionHandler) List(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{"sessions": h.Sessions.ListRecent(limit)})
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	summary, err := h.Sessions.Create(req.Cwd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.Hub != nil {
		h.Hub.Broadcast(hub.NewEvent("session.created", map[string]any{
			"sessionId": summary.ID,
			"cwd":       summary.Cwd,
		}))
	}
	c.JSON(http.StatusCreated, summary)
}

func (h *SessionHandler) Messages(c *gin.Context) {
	limit := intQuery(c, "limit", 200)
	messages := h.Sessions.ReadMessages(c.Param("id"), limit)
	if messages == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	if h.Translator != nil && h.Translator.Enabled() {
		for i := range messages {
			for j := range messages[i].Trace {
				h.Translator.ApplyCachedToTrace(&messages[i].Trace[j])
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *SessionHandler) Plan(c *gin.Context) {
	snapshot, ok := h.Plans.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No plan for this session"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *SessionHandler) Settings(c *gin.Context) {
	snapshot := h.Sessions.LatestSettings(c.Param("id"))
	if snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	err := h.Sessions.Delete(c.Param("id"))
	if errors.Is(err, sessionlog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
