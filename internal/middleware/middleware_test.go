package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthedRouter(m *token.JWTManager, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(m)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, Owner(c))
	})
	r.GET("/me", handlers...)
	return r
}

func get(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	m := token.NewJWTManager("secret", "")
	r := newAuthedRouter(m)

	valid, err := m.GenerateToken("owner-1", time.Hour)
	require.NoError(t, err)
	expired, err := m.GenerateToken("owner-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := token.NewJWTManager("other", "").GenerateToken("owner-1", time.Hour)
	require.NoError(t, err)

	w := get(r, "Bearer "+valid)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner-1", w.Body.String())

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token " + valid,
		"expired":   "Bearer " + expired,
		"foreign":   "Bearer " + foreign,
	} {
		t.Run(name, func(t *testing.T) {
			w := get(r, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "AuthError", body["error"])
		})
	}
}

func TestOwnerRateLimiter(t *testing.T) {
	m := token.NewJWTManager("secret", "")
	limiter := NewOwnerRateLimiter(config.RateLimitConfig{PerMinute: 1, Burst: 2})
	r := newAuthedRouter(m, limiter.Middleware())

	alice, _ := m.GenerateToken("alice", time.Hour)
	bob, _ := m.GenerateToken("bob", time.Hour)

	assert.Equal(t, http.StatusOK, get(r, "Bearer "+alice).Code)
	assert.Equal(t, http.StatusOK, get(r, "Bearer "+alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "Bearer "+alice).Code)
	// 每个用户独立计数
	assert.Equal(t, http.StatusOK, get(r, "Bearer "+bob).Code)
}

func TestOwnerRateLimiterEvictsIdleOwners(t *testing.T) {
	limiter := NewOwnerRateLimiter(config.RateLimitConfig{PerMinute: 60, Burst: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	require.Equal(t, time.Minute, limiter.idleTTL)

	for i := 0; i < 100; i++ {
		limiter.limiter(fmt.Sprintf("owner-%d", i))
	}
	assert.Len(t, limiter.limiters, 100)

	now = now.Add(30 * time.Second)
	limiter.limiter("active")
	now = now.Add(40 * time.Second)
	limiter.limiter("newcomer")

	// owner-* 空闲 70s 被回收，active 只空闲 40s 保留
	assert.Len(t, limiter.limiters, 2)
	assert.Contains(t, limiter.limiters, "active")
	assert.Contains(t, limiter.limiters, "newcomer")
}

func TestOwnerRateLimiterKeepsBusyOwnerThrottled(t *testing.T) {
	limiter := NewOwnerRateLimiter(config.RateLimitConfig{PerMinute: 1, Burst: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.limiter("alice").AllowN(now, 1))
	now = now.Add(10 * time.Second)
	assert.False(t, limiter.limiter("alice").AllowN(now, 1))
	now = now.Add(time.Minute)
	assert.True(t, limiter.limiter("alice").AllowN(now, 1))
}

func TestDisabledRateLimiterPassesThrough(t *testing.T) {
	limiter := NewOwnerRateLimiter(config.RateLimitConfig{})
	assert.Nil(t, limiter)

	m := token.NewJWTManager("secret", "")
	r := newAuthedRouter(m, limiter.Middleware())
	tok, _ := m.GenerateToken("alice", time.Hour)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "Bearer "+tok).Code)
	}
}

func TestRequestLoggerKeepsBodyReadable(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(b))
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString(`{"q":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, `{"q":"hi"}`, w.Body.String())

	assert.True(t, isMultipart("multipart/form-data"))
	assert.False(t, isMultipart("application/json"))
	assert.Len(t, clipBody(bytes.Repeat([]byte("x"), 3000)), maxLoggedBody+3)
}
