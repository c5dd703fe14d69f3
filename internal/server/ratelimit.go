package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAuthPerMinute = 30
	defaultAuthBurst     = 10
	limiterIdleTTL       = 10 * time.Minute
)

// RateLimitConfig bounds sign-in attempts per client IP.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
	Clock     func() time.Time
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type rateLimiter struct {
	limit     rate.Limit
	burst     int
	clock     func() time.Time
	logger    *zap.Logger
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newRateLimiter(cfg RateLimitConfig, logger *zap.Logger) *rateLimiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = defaultAuthPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultAuthBurst
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &rateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		clock:   clock,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
	}
}

func (rl *rateLimiter) middleware(c *gin.Context) {
	clientIP := c.ClientIP()
	if rl.allow(clientIP) {
		c.Next()
		return
	}
	retryAfter := int(math.Ceil(1.0 / float64(rl.limit)))
	if retryAfter < 1 {
		retryAfter = 1
	}
	rl.logger.Warn("sign-in rate limit exceeded", zap.String("client_ip", clientIP))
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		for key, client := range rl.clients {
			if now.Sub(client.lastAccess) > limiterIdleTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	client, exists := rl.clients[clientIP]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = client
	}
	client.lastAccess = now
	return client.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
