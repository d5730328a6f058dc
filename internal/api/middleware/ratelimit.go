package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// idleTimeout: Limiter ohne Anfragen werden danach verworfen
const idleTimeout = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter begrenzt Anfragen pro Client-IP mit einem Token-Bucket
type RateLimiter struct {
	bucket    map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
	mutex     sync.Mutex
	now       func() time.Time
}

// NewRateLimiter erstellt einen Limiter mit perSecond Anfragen und burst
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		bucket:    make(map[string]*clientLimiter),
		rate:      rate.Limit(perSecond),
		burstSize: burst,
		now:       time.Now,
	}
}

// Allow verbraucht ein Token für ip
func (r *RateLimiter) Allow(ip string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	cl, exists := r.bucket[ip]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = cl
	}
	cl.lastSeen = now
	r.prune(now)

	return cl.limiter.AllowN(now, 1)
}

// prune entfernt Limiter, die länger als idleTimeout unbenutzt sind
func (r *RateLimiter) prune(now time.Time) {
	for ip, cl := range r.bucket {
		if now.Sub(cl.lastSeen) > idleTimeout {
			delete(r.bucket, ip)
		}
	}
}

// Clients gibt die Anzahl verfolgter IPs zurück
func (r *RateLimiter) Clients() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.bucket)
}

// RateLimit ist die Gin-Middleware zum Limiter. rate <= 0 deaktiviert die Begrenzung.
func RateLimit(r *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil || r.rate <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !r.Allow(ip) {
			log.Warnf("Too many requests for IP %s", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
