// Package api exposes the messaging core to the UI client over HTTP and a
// websocket event stream.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/bus"
	"github.com/rafaelbarros/feira/internal/messaging"
	"github.com/rafaelbarros/feira/internal/store"
	"go.uber.org/zap"
)

// Handler serves the UI-facing routes backed by the messaging facade.
type Handler struct {
	svc    *messaging.Service
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc *messaging.Service, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, bus: b, logger: logger}
}

// Router builds the gin engine with all routes mounted.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.GET("/conversations", h.listConversations)
	v1.POST("/conversations", h.createConversation)
	v1.GET("/conversations/:id/messages", h.listMessages)
	v1.POST("/conversations/:id/read", h.markRead)
	v1.POST("/messages", h.sendMessage)
	v1.GET("/queue/stats", h.queueStats)
	v1.POST("/queue/retry", h.retryFailed)
	v1.GET("/events", h.streamEvents)

	return r
}

func (h *Handler) listConversations(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	convos, err := h.svc.Conversations(c.Request.Context(), userID, c.Query("refresh") == "1")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convos})
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
	IsGroup        bool     `json:"is_group"`
	GroupName      string   `json:"group_name"`
}

func (h *Handler) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.svc.StartConversation(c.Request.Context(), req.ParticipantIDs, req.IsGroup, req.GroupName)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (h *Handler) listMessages(c *gin.Context) {
	msgs, err := h.svc.Messages(c.Request.Context(), c.Param("id"), c.Query("refresh") == "1")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type markReadRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) markRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.svc.MarkRead(c.Param("id"), req.UserID)
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	ChatID      string             `json:"chat_id" binding:"required"`
	Content     string             `json:"content" binding:"required"`
	Sender      backend.User       `json:"sender" binding:"required"`
	Attachments []store.Attachment `json:"attachments"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Sender.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sender.id"})
		return
	}
	msg, err := h.svc.Send(req.ChatID, req.Content, req.Sender, req.Attachments)
	if err != nil {
		// The optimistic entry is already marked failed; report the
		// storage problem to the client.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "message": msg})
		return
	}
	// Accepted, not created: delivery is asynchronous.
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

func (h *Handler) queueStats(c *gin.Context) {
	pending, err := h.svc.PendingCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	failed, err := h.svc.FailedCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "failed": failed})
}

func (h *Handler) retryFailed(c *gin.Context) {
	n, err := h.svc.RetryFailed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}
