package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"peercall/pkg/config"
	"peercall/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client address. Buckets unused
// for limiterIdleTTL are evicted lazily.
type clientLimiters struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	nextSweep time.Time
}

func newClientLimiters(limit rate.Limit, burst int, now time.Time) *clientLimiters {
	return &clientLimiters{
		limit:     limit,
		burst:     burst,
		buckets:   make(map[string]*clientBucket),
		nextSweep: now.Add(limiterIdleTTL),
	}
}

// reserve takes a token for client at now. When none is available it
// returns how long the client should wait instead.
func (l *clientLimiters) reserve(client string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		l.evict(now)
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *clientLimiters) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, k)
		}
	}
	l.nextSweep = now.Add(limiterIdleTTL)
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfter(d time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(d.Seconds()))))
}

// NewHTTPRateLimitMiddleware limits requests per client address and, when
// configured, the number of requests in flight across all clients.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	httpCfg := cfg.RateLimiting.HTTP
	limiters := newClientLimiters(rate.Limit(httpCfg.RequestsPerSecond), httpCfg.Burst, time.Now())

	var inFlight chan struct{}
	if httpCfg.MaxConcurrent > 0 {
		inFlight = make(chan struct{}, httpCfg.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if ok, wait := limiters.reserve(clientIP(c.Request), time.Now()); !ok {
			c.Header("Retry-After", retryAfter(wait))
			c.Error(errors.RateLimited())
			c.Abort()
			return
		}

		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				c.Error(errors.ServiceUnavailable("too many concurrent requests"))
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
