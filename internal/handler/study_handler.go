package handler

import (
	"pdf-tutor-go/internal/middleware"
	"pdf-tutor-go/internal/service"

	"github.com/gin-gonic/gin"
)

// StudyHandler 提供会话总结与段落讲解。
type StudyHandler struct {
	study service.StudyService
}

func NewStudyHandler(study service.StudyService) *StudyHandler {
	return &StudyHandler{study: study}
}

type SummaryRequest struct {
	ChatID string `json:"chatId"`
}

type ExplainRequest struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

func (h *StudyHandler) Summary(c *gin.Context) {
	var req SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	summary, err := h.study.Summary(c.Request.Context(), middleware.Owner(c), req.ChatID)
	if err != nil {
		fail(c, "Summary failed", err)
		return
	}
	success(c, "success", gin.H{"summary": summary})
}

func (h *StudyHandler) Explain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	explanation, err := h.study.Explain(c.Request.Context(), req.Text, req.Style)
	if err != nil {
		fail(c, "Explain failed", err)
		return
	}
	success(c, "success", gin.H{"explanation": explanation})
}
