package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/checkin/utils"
)

const limiterIdle = 5 * time.Minute

type clientLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

// limiterSet keeps one token bucket per client key and forgets idle ones.
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

func newLimiterSet(perMinute int) *limiterSet {
	perMinute = max(perMinute, 1)
	return &limiterSet{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   max(perMinute/2, 1),
		clients: map[string]*clientLimiter{},
	}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.clients {
		if now.Sub(c.seen) > limiterIdle {
			delete(s.clients, k)
		}
	}
	c, ok := s.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = c
	}
	c.seen = now
	return c.limiter.AllowN(now, 1)
}

// RateLimitMiddleware throttles requests per caller with a token bucket. The
// caller is the identity set by Identity when present, otherwise the client IP.
func RateLimitMiddleware(perMinute int) gin.HandlerFunc {
	set := newLimiterSet(perMinute)

	return func(ctx *gin.Context) {
		key := UserID(ctx)
		if key == "" {
			key = "ip:" + ctx.ClientIP()
		}
		if !set.allow(key, time.Now()) {
			utils.Error(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
