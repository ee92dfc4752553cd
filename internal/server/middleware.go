package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"alarmflow/internal/model"
)

const ctxUserKey = "alarmflow_user"

// bearerAuth validates the Authorization header and stores the current
// user on the request context.
func (s *Server) bearerAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
		return
	}

	data, err := s.auth.DecodeToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	user, err := s.store.GetUserByID(c.Request.Context(), data.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	c.Set(ctxUserKey, user)
	c.Next()
}

// currentUser returns the user placed on the context by bearerAuth.
func currentUser(c *gin.Context) model.User {
	user, _ := c.MustGet(ctxUserKey).(model.User)
	return user
}

// ipRateLimiter bounds request rates per client IP. Limiters are kept
// for the life of the process; the login endpoint sees few distinct IPs
// in practice.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter.Allow()
}

// rateLimitLogin guards the credential-verification path against
// brute-force attempts.
func (s *Server) rateLimitLogin(c *gin.Context) {
	if !s.loginLimit.allow(c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}
	c.Next()
}
