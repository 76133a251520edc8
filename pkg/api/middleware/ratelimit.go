package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-IP token bucket limiter with idle-entry cleanup.
type RateLimiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.RWMutex
	rate       rate.Limit
	burst      int
	logger     *zap.Logger
	cleanupTTL time.Duration
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter constructs a RateLimiter and starts its background cleanup.
func NewRateLimiter(ratePerSecond float64, burst int, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters:   make(map[string]*limiterEntry, 256),
		rate:       rate.Limit(ratePerSecond),
		burst:      burst,
		logger:     logger,
		cleanupTTL: 10 * time.Minute,
	}
	go rl.autoCleanup()
	return rl
}

func (rl *RateLimiter) autoCleanup() {
	ticker := time.NewTicker(rl.cleanupTTL)
	defer ticker.Stop()
	for range ticker.C {
		rl.CleanupLimiters()
	}
}

// CleanupLimiters drops entries idle for longer than cleanupTTL.
func (rl *RateLimiter) CleanupLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.cleanupTTL)
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[ip]
	rl.mu.RUnlock()
	if exists {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, exists = rl.limiters[ip]
	if exists {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[ip] = &limiterEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

// Allow reports whether a request from ip is within its bucket.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip).Allow()
}

// LimiterCount returns the number of tracked IPs.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// RateLimit returns an IP-keyed rate limiting middleware for the operator API.
func RateLimit(ratePerSecond float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(ratePerSecond, burst, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r)
			if !limiter.Allow(ip) {
				logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded","message":"too many requests, please retry later"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP prefers X-Forwarded-For/X-Real-IP over RemoteAddr, falling
// back to RemoteAddr when neither header carries a parseable address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip := strings.TrimSpace(xri)
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
