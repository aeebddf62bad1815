package handler

import (
	"pdf-tutor-go/internal/middleware"
	"pdf-tutor-go/internal/service"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责文档访问链接与入库状态查询。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// SignedURL 返回原始 PDF 的短期下载链接。
func (h *DocumentHandler) SignedURL(c *gin.Context) {
	info, err := h.docService.SignedURL(c.Request.Context(), middleware.Owner(c), c.Param("documentId"))
	if err != nil {
		fail(c, "Failed to generate document url", err)
		return
	}
	success(c, "success", info)
}

// Status 返回文档的入库进度。
func (h *DocumentHandler) Status(c *gin.Context) {
	status, err := h.docService.Status(c.Request.Context(), middleware.Owner(c), c.Param("documentId"))
	if err != nil {
		fail(c, "Failed to get document status", err)
		return
	}
	success(c, "success", status)
}
