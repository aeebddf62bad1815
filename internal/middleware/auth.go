// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// OwnerKey 是 gin 上下文中保存调用方用户 ID 的键。
const OwnerKey = "ownerID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并把用户 ID 与 claims 存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 Authorization 请求头中获取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortAuth(c, apperr.Auth("missing Authorization header", nil))
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortAuth(c, apperr.Auth("malformed Authorization header", nil))
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			abortAuth(c, apperr.Auth("invalid or expired token", err))
			return
		}

		c.Set(OwnerKey, claims.Owner())
		c.Set("claims", claims)
		c.Next()
	}
}

func abortAuth(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": "unauthorized",
		"error":   apperr.KindAuth.String(),
		"debug":   err.Error(),
	})
}

// Owner 返回 AuthMiddleware 写入的用户 ID。
func Owner(c *gin.Context) string {
	return c.GetString(OwnerKey)
}
