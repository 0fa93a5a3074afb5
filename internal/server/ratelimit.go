package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	clientIdleThreshold = 1 * time.Hour
	cleanupInterval     = 30 * time.Minute
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu          sync.Mutex
	rps         rate.Limit
	burst       int
	clients     map[string]*clientEntry
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &clientLimiter{
		rps:         rate.Limit(rps),
		burst:       burst,
		clients:     make(map[string]*clientEntry),
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *clientLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *clientLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, entry := range l.clients {
		if now.Sub(entry.lastSeen) > clientIdleThreshold {
			delete(l.clients, ip)
		}
	}
}

func (l *clientLimiter) stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

func (l *clientLimiter) allow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.clients[ip]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()
	return entry.limiter.Allow()
}

// middleware rejects requests over the client's budget with 429.
func (l *clientLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
