package handler

import (
	"net/http"

	"pdf-tutor-go/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总了所有路由需要的处理器。
type Handlers struct {
	Upload       *UploadHandler
	Chat         *ChatHandler
	Conversation *ConversationHandler
	Document     *DocumentHandler
	Study        *StudyHandler
}

// RegisterRoutes 注册全部 HTTP 路由。auth 作用于除健康检查外的所有路由，
// limiter 额外作用于会调用大模型的接口。
func RegisterRoutes(r *gin.Engine, h Handlers, auth gin.HandlerFunc, limiter *middleware.OwnerRateLimiter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": nil})
	})

	authed := r.Group("/")
	authed.Use(auth)
	{
		authed.POST("/upload", h.Upload.Upload)

		// 先注册静态路径，再注册带参数的路径
		chat := authed.Group("/chat")
		{
			chat.POST("", limiter.Middleware(), h.Chat.Chat)
			chat.GET("", h.Conversation.ListSessions)
			chat.POST("/sessions", h.Conversation.CreateSession)
			chat.GET("/:chatId", h.Conversation.GetSession)
			chat.GET("/:chatId/messages", h.Conversation.GetMessages)
			chat.PATCH("/:chatId", h.Conversation.RenameSession)
		}

		pdf := authed.Group("/pdf")
		{
			pdf.GET("/:documentId", h.Document.SignedURL)
			pdf.GET("/:documentId/status", h.Document.Status)
		}

		authed.POST("/summary", limiter.Middleware(), h.Study.Summary)
		authed.POST("/explain", limiter.Middleware(), h.Study.Explain)
	}
}
