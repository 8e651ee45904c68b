package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	every   time.Duration
	burst   int
	log     *zap.Logger
	now     func() time.Time
}

// NewRateLimiter allows perMinute requests per client IP with an equal burst.
func NewRateLimiter(perMinute int, log *zap.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		every:   time.Minute / time.Duration(perMinute),
		burst:   perMinute,
		log:     log,
		now:     time.Now,
	}
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = l.now()
	return cl.limiter.AllowN(cl.lastSeen, 1)
}

// Prune forgets clients not seen for idle. Their buckets have refilled by
// then, so a returning client starts from the same state. Returns the
// number of entries removed.
func (l *RateLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, cl := range l.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked clients.
func (l *RateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Handler returns the fiber middleware. Used on login, register and
// password reset.
func (l *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		if !l.allow(ip) {
			l.log.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", c.Path()))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded, try again later")
		}
		return c.Next()
	}
}

// RateLimit is shorthand for NewRateLimiter(perMinute, log).Handler().
func RateLimit(perMinute int, log *zap.Logger) fiber.Handler {
	return NewRateLimiter(perMinute, log).Handler()
}
