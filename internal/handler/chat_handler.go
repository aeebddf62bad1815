package handler

import (
	"pdf-tutor-go/internal/middleware"
	"pdf-tutor-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler 处理一次检索增强问答。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 是 POST /chat 的请求体。
type ChatRequest struct {
	DocumentID string `json:"documentId"`
	Question   string `json:"question"`
	ChatID     string `json:"chatId"`
}

// Chat 执行一轮问答。任何失败都返回统一的 "Chat failed" 响应，不会返回半成品答案。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.chatService.Turn(c.Request.Context(), service.TurnRequest{
		OwnerID:    middleware.Owner(c),
		ChatID:     req.ChatID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
	})
	if err != nil {
		fail(c, "Chat failed", err)
		return
	}
	success(c, "success", resp)
}
