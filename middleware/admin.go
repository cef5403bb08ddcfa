// middleware/admin.go
// Purpose: Admin HTTP surface: security dashboard, recent events, manual
// client block/unblock, and engine statistics. Mount behind the platform's
// admin authentication.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebot/secore/limiter"
	"github.com/carebot/secore/security"
)

// Admin exposes operator endpoints over the engine and tracker.
type Admin struct {
	engine  *limiter.Engine
	tracker *security.Tracker
}

// NewAdmin creates the admin handler set.
func NewAdmin(engine *limiter.Engine, tracker *security.Tracker) *Admin {
	return &Admin{engine: engine, tracker: tracker}
}

// Register mounts the admin routes on a router group.
func (a *Admin) Register(group *gin.RouterGroup) {
	group.GET("/security/dashboard", a.Dashboard)
	group.GET("/security/events", a.RecentEvents)
	group.GET("/rate-limit/stats", a.Stats)
	group.POST("/rate-limit/block/:client", a.BlockClient)
	group.DELETE("/rate-limit/block/:client", a.UnblockClient)
}

// Dashboard returns the security snapshot with blocked clients and store
// health attached.
func (a *Admin) Dashboard(c *gin.Context) {
	dashboard, err := a.tracker.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	blocked, err := a.engine.Abuse().PenalizedClients(c.Request.Context())
	if err == nil {
		dashboard.BlockedClients = blocked
	}

	c.JSON(http.StatusOK, gin.H{
		"dashboard":    dashboard,
		"engine_stats": a.engine.GetStats(),
		"store":        a.engine.Store().Info(),
	})
}

// RecentEvents returns today's most recent events. ?limit= caps the count,
// default 50.
func (a *Admin) RecentEvents(c *gin.Context) {
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events, err := a.tracker.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// Stats returns engine counters.
func (a *Admin) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, a.engine.GetStats())
}

// BlockClient applies a manual penalty. ?duration= accepts a Go duration,
// default 30m.
func (a *Admin) BlockClient(c *gin.Context) {
	clientID := c.Param("client")

	duration := a.engine.Abuse().PenaltyDuration()
	if raw := c.Query("duration"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration must be a positive Go duration"})
			return
		}
		duration = parsed
	}

	if err := a.engine.Abuse().ApplyPenalty(c.Request.Context(), clientID, duration); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client":        clientID,
		"blocked_until": time.Now().Add(duration).Format(time.RFC3339),
	})
}

// UnblockClient clears an active penalty.
func (a *Admin) UnblockClient(c *gin.Context) {
	clientID := c.Param("client")

	if err := a.engine.Abuse().ClearPenalty(c.Request.Context(), clientID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": clientID, "blocked": false})
}
