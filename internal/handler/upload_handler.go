package handler

import (
	"errors"
	"fmt"
	"net/http"

	"pdf-tutor-go/internal/middleware"
	"pdf-tutor-go/internal/service"
	"pdf-tutor-go/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 是文件之外 multipart 边界与表单头的余量。
const multipartOverhead = 64 << 10

// UploadHandler 负责处理 PDF 上传请求。
type UploadHandler struct {
	uploadService service.UploadService
	maxBytes      int64
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。maxBytes <= 0 时不限制请求体大小。
func NewUploadHandler(uploadService service.UploadService, maxBytes int64) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, maxBytes: maxBytes}
}

// Upload 接收 multipart 表单中的 file 字段，返回 documentId 与 chatId。
func (h *UploadHandler) Upload(c *gin.Context) {
	// 解析表单前就限制请求体，超大文件不会被写进临时文件
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}
	file, header, err := c.Request.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		fail(c, "upload failed", apperr.Validation(fmt.Sprintf("file exceeds %d bytes", h.maxBytes)))
		return
	}
	if err != nil {
		fail(c, "upload failed", apperr.Validation("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	result, err := h.uploadService.Upload(c.Request.Context(), middleware.Owner(c), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		fail(c, "upload failed", err)
		return
	}
	success(c, "uploaded", result)
}
