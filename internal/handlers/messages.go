package handlers

import (
	"github.com/gin-gonic/gin"

	"consultation-queue-server/internal/utils"
)

// IdempotencyKeyHeader can carry the client key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// MessageHandler handles appointment threads and conversations.
type MessageHandler struct {
	svc MessageService
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(svc MessageService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// SendMessageRequest represents the request body for posting to a thread.
// Content is checked by the thread policy so blank content reports
// empty_content.
type SendMessageRequest struct {
	Content   string `json:"content"`
	ClientKey string `json:"clientKey" validate:"max=64"`
}

// GetThread returns the appointment's messages in order.
func (h *MessageHandler) GetThread(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	thread, err := h.svc.Thread(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Messages fetched successfully", thread)
}

// SendMessage posts to the appointment's thread. A retry with the same
// client key answers 200 with the original message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if req.ClientKey == "" {
		req.ClientKey = c.GetHeader(IdempotencyKeyHeader)
	}

	msg, created, err := h.svc.SendMessage(c.Request.Context(), actor, c.Param("id"), req.Content, req.ClientKey)
	if err != nil {
		utils.AppError(c, err)
		return
	}
	if !created {
		utils.Success(c, "Message already sent", msg)
		return
	}
	utils.Created(c, "Message sent successfully", msg)
}

// GetConversations lists the caller's conversations.
func (h *MessageHandler) GetConversations(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	inbox, err := h.svc.Inbox(c.Request.Context(), actor)
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Conversations fetched successfully", inbox)
}

// GetConversation resolves the caller's conversation with one counterpart.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	conv, err := h.svc.Conversation(c.Request.Context(), actor, c.Param("counterpartId"))
	if err != nil {
		utils.AppError(c, err)
		return
	}
	utils.Success(c, "Conversation fetched successfully", conv)
}
