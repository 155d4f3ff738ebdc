package handler

import (
	"net/http"
	"strings"
	"sync"

	"Parley/internal/identity"
	"Parley/internal/repo"
	"Parley/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sessionKey = "parley.session"

// limiterPool hands out one token bucket per client key.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimit rejects requests from a client IP once its bucket is empty.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	pool := &limiterPool{rps: rps, burst: burst}
	return func(c *gin.Context) {
		if !pool.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"HttpStatusCode": http.StatusTooManyRequests,
				"ResponseBody":   nil,
				"IsSuccess":      false,
				"Message":        "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter used by the websocket route.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// RequireSession verifies the bearer token and attaches the caller's
// session, profile included when it exists.
func RequireSession(dir identity.Directory, users repo.UserRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		id, err := dir.Verify(c.Request.Context(), token)
		if err != nil {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		id.Token = token

		profile, err := users.Get(c.Request.Context(), id.UID)
		if err != nil {
			logger.Warn("profile load failed", zap.String("uid", id.UID), zap.Error(err))
		}

		c.Set(sessionKey, &session.Session{Identity: id, Profile: profile})
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*session.Session)
	return sess
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"HttpStatusCode": status,
		"ResponseBody":   nil,
		"IsSuccess":      false,
		"Message":        message,
	})
}
