package handler

import (
	"pdf-tutor-go/internal/middleware"
	"pdf-tutor-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理会话的创建、查询与改名。
type ConversationHandler struct {
	service service.SessionService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.SessionService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// CreateSessionRequest 是 POST /chat/sessions 的请求体。
type CreateSessionRequest struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
}

// RenameRequest 是 PATCH /chat/:chatId 的请求体。
type RenameRequest struct {
	Title string `json:"title"`
}

// ListSessions 按最近更新时间倒序返回调用者的会话。
func (h *ConversationHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.List(c.Request.Context(), middleware.Owner(c))
	if err != nil {
		fail(c, "Failed to retrieve chat sessions", err)
		return
	}
	success(c, "success", sessions)
}

func (h *ConversationHandler) GetSession(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), middleware.Owner(c), c.Param("chatId"))
	if err != nil {
		fail(c, "Failed to retrieve chat session", err)
		return
	}
	success(c, "success", session)
}

// GetMessages 返回会话的完整消息记录。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	msgs, err := h.service.Messages(c.Request.Context(), middleware.Owner(c), c.Param("chatId"))
	if err != nil {
		fail(c, "Failed to retrieve messages", err)
		return
	}
	success(c, "success", msgs)
}

func (h *ConversationHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.service.Create(c.Request.Context(), middleware.Owner(c), req.DocumentID, req.Title)
	if err != nil {
		fail(c, "Failed to create chat session", err)
		return
	}
	success(c, "created", session)
}

func (h *ConversationHandler) RenameSession(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chatID := c.Param("chatId")
	if err := h.service.Rename(c.Request.Context(), middleware.Owner(c), chatID, req.Title); err != nil {
		fail(c, "Failed to rename chat session", err)
		return
	}
	success(c, "renamed", gin.H{"chatId": chatID})
}
