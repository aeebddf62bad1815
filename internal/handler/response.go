// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": message,
		"data":    data,
	})
}

// fail 按错误类别输出失败响应，error 为类别名，debug 为完整错误信息。
func fail(c *gin.Context, message string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorw("[Handler] 请求失败", "path", c.Request.URL.Path, "status", status, "error", err)
	} else {
		log.Warnw("[Handler] 请求被拒绝", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"error":   apperr.KindOf(err).String(),
		"debug":   err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	fail(c, "invalid request", apperr.Validation(err.Error()))
}
