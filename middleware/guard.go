// middleware/guard.go
// Purpose: Gin middleware gluing the pipeline together: global overload
// guard, client classification, penalty and rate-limit checks, response
// headers, and security event emission.

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/carebot/secore/classifier"
	"github.com/carebot/secore/limiter"
	"github.com/carebot/secore/security"
)

// SessionResolver extracts the authenticated session from a request, or nil
// for anonymous callers. Wire this to the platform's session middleware.
type SessionResolver func(c *gin.Context) *classifier.Session

// GuardConfig configures the Guard middleware.
type GuardConfig struct {
	Engine  *limiter.Engine
	Tracker *security.Tracker // optional; nil disables event emission
	Session SessionResolver   // optional; nil means all traffic is anonymous

	// GlobalRate caps total throughput across all clients before any
	// per-client evaluation runs. Zero disables the guard.
	GlobalRate  rate.Limit
	GlobalBurst int
}

// Guard enforces the security pipeline on every request.
type Guard struct {
	engine  *limiter.Engine
	tracker *security.Tracker
	session SessionResolver
	global  *rate.Limiter
}

// NewGuard creates the middleware.
func NewGuard(config *GuardConfig) *Guard {
	g := &Guard{
		engine:  config.Engine,
		tracker: config.Tracker,
		session: config.Session,
	}
	if config.GlobalRate > 0 {
		burst := config.GlobalBurst
		if burst <= 0 {
			burst = int(config.GlobalRate)
		}
		g.global = rate.NewLimiter(config.GlobalRate, burst)
	}
	return g
}

// Handler returns the gin middleware function.
func (g *Guard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.global != nil && !g.global.Allow() {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "service is handling too many requests",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		client := g.classify(c)
		decision := g.engine.Check(c.Request.Context(), client, c.FullPath())

		if decision.Penalized {
			g.emit(client, c, security.Event{
				Type:        "blocked_client_request",
				Description: "request from client with an active abuse penalty",
				Level:       security.LevelWarning,
				Category:    security.CategoryRateLimiting,
			})
			c.Header("Retry-After", retryAfterSeconds(decision.RetryAfter))
			c.JSON(http.StatusForbidden, gin.H{
				"error":         "temporarily blocked due to repeated rate limit violations",
				"blocked_until": decision.ResetTime.Format(time.RFC3339),
				"retry_after":   int(decision.RetryAfter.Seconds()),
			})
			c.Abort()
			return
		}

		setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			g.emit(client, c, security.Event{
				Type:        "rate_limit_exceeded",
				Description: "rate limit exceeded on " + c.FullPath(),
				Level:       security.LevelInfo,
				Category:    security.CategoryRateLimiting,
				TechnicalDetails: map[string]interface{}{
					"algorithm": decision.Algorithm,
					"limit":     decision.Limit,
					"endpoint":  c.FullPath(),
				},
			})
			c.Header("Retry-After", retryAfterSeconds(decision.RetryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       decision.Reason,
				"limit":       decision.Limit,
				"window":      decision.Window.String(),
				"retry_after": int(decision.RetryAfter.Seconds()),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (g *Guard) classify(c *gin.Context) classifier.Client {
	var session *classifier.Session
	if g.session != nil {
		session = g.session(c)
	}
	return classifier.Classify(classifier.Request{
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Header:     c.Request.Header,
		RemoteAddr: c.Request.RemoteAddr,
		Session:    session,
	})
}

// emit records a security event off the request path.
func (g *Guard) emit(client classifier.Client, c *gin.Context, event security.Event) {
	if g.tracker == nil {
		return
	}
	event.SourceIP = client.IP
	event.UserID = client.UserID
	if event.TechnicalDetails == nil {
		event.TechnicalDetails = map[string]interface{}{}
	}
	event.TechnicalDetails["client_id"] = client.ID
	event.TechnicalDetails["client_type"] = client.Type.String()

	go g.tracker.Track(context.Background(), event)
}

func setRateLimitHeaders(c *gin.Context, decision limiter.Decision) {
	if decision.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
