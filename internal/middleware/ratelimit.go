package middleware

import (
	"net/http"
	"sync"
	"time"

	"pdf-tutor-go/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// OwnerRateLimiter 为每个用户维护一个令牌桶，限制调用大模型的接口。
type OwnerRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ownerLimiter
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type ownerLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewOwnerRateLimiter 根据配置创建限流器。PerMinute <= 0 时返回 nil，表示不限流。
func NewOwnerRateLimiter(cfg config.RateLimitConfig) *OwnerRateLimiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := time.Minute / time.Duration(cfg.PerMinute)
	// 空闲超过桶被完全填满所需的时间后，令牌桶与新建的没有区别，可以回收
	idleTTL := interval * time.Duration(burst)
	if idleTTL < time.Minute {
		idleTTL = time.Minute
	}
	return &OwnerRateLimiter{
		limiters: make(map[string]*ownerLimiter),
		limit:    rate.Every(interval),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (l *OwnerRateLimiter) limiter(owner string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	lim, ok := l.limiters[owner]
	if !ok {
		lim = &ownerLimiter{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[owner] = lim
	}
	lim.lastSeen = now
	return lim.Limiter
}

// sweep 删除空闲超过 idleTTL 的用户，调用方持有 mu。
func (l *OwnerRateLimiter) sweep(now time.Time) {
	for owner, lim := range l.limiters {
		if now.Sub(lim.lastSeen) >= l.idleTTL {
			delete(l.limiters, owner)
		}
	}
	l.lastSweep = now
}

// Middleware 必须挂在 AuthMiddleware 之后。超过频率的请求直接返回 429，不排队等待。
func (l *OwnerRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		if !l.limiter(Owner(c)).AllowN(l.now(), 1) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests",
				"data":    nil,
			})
			return
		}
		c.Next()
	}
}
