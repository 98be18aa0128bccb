package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/shared/server/respond"
)

// RateLimitRule is a token bucket: Rate tokens per second refill up to Burst.
// A zero rule leaves the group unlimited.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RateLimitConfig maps each request to a group and each group to a rule. Groups without a rule
// are not limited.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
}

// RateLimiter keeps one bucket per caller and group.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
	idle    time.Duration
	swept   time.Time
}

type rateBucket struct {
	tokens float64
	last   time.Time
}

const bucketIdleTTL = 10 * time.Minute

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{buckets: map[string]*rateBucket{}, now: now, idle: bucketIdleTTL}
}

// RateLimit keys buckets by the authenticated user, falling back to the client IP, so it must
// run after Auth.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = "DEFAULT"
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		caller := UserIDFromContext(c)
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		wait, allowed := cfg.Limiter.Allow(caller+"|"+group, rule)
		if allowed {
			c.Next()
			return
		}
		ms := max(int(wait/time.Millisecond), 1)
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(float64(ms)/1000))))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "Too many requests", gin.H{
			"group":        group,
			"retryAfterMs": ms,
		})
	}
}

// Allow takes a token from key's bucket. When none is left it reports how long until one is.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (time.Duration, bool) {
	if l == nil || rule.Rate <= 0 || rule.Burst <= 0 {
		return 0, true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &rateBucket{tokens: float64(rule.Burst), last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(rule.Burst), b.tokens+elapsed*rule.Rate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	wait := (1 - b.tokens) / rule.Rate
	return time.Duration(math.Ceil(wait*1000)) * time.Millisecond, false
}

// sweep drops buckets untouched for longer than the idle TTL, at most once per TTL.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.idle {
		return
	}
	l.swept = now
	for k, b := range l.buckets {
		if now.Sub(b.last) > l.idle {
			delete(l.buckets, k)
		}
	}
}
