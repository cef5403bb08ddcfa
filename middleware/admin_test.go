package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebot/secore/limiter"
	"github.com/carebot/secore/security"
	"github.com/carebot/secore/storage"
)

func newAdminFixture(t *testing.T) (*gin.Engine, *limiter.Engine, *security.Tracker) {
	t.Helper()

	store := storage.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	engine, err := limiter.NewEngine(&limiter.Config{Store: store})
	require.NoError(t, err)

	dispatcher := security.NewDispatcher(&security.DispatcherConfig{
		Store:    store,
		Channels: []security.AlertChannel{security.NewLogChannel()},
	})
	tracker, err := security.NewTracker(&security.TrackerConfig{
		Store:      store,
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)

	router := gin.New()
	NewAdmin(engine, tracker).Register(router.Group("/admin"))
	return router, engine, tracker
}

func TestAdmin_BlockAndUnblock(t *testing.T) {
	router, engine, _ := newAdminFixture(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost,
		"/admin/rate-limit/block/anon:203.0.113.7?duration=10m", nil))
	require.Equal(t, http.StatusOK, w.Code)

	penalized, _, err := engine.Abuse().IsPenalized(ctx, "anon:203.0.113.7")
	require.NoError(t, err)
	assert.True(t, penalized)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete,
		"/admin/rate-limit/block/anon:203.0.113.7", nil))
	require.Equal(t, http.StatusOK, w.Code)

	penalized, _, err = engine.Abuse().IsPenalized(ctx, "anon:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, penalized)
}

func TestAdmin_BlockRejectsBadDuration(t *testing.T) {
	router, _, _ := newAdminFixture(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost,
		"/admin/rate-limit/block/anon:1.2.3.4?duration=soon", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Dashboard(t *testing.T) {
	router, engine, tracker := newAdminFixture(t)
	ctx := context.Background()

	tracker.Track(ctx, security.Event{
		Type:        "failed_login",
		Description: "invalid credentials",
		Level:       security.LevelWarning,
		Category:    security.CategoryAuthentication,
		SourceIP:    "203.0.113.7",
	})
	require.NoError(t, engine.Abuse().ApplyPenalty(ctx, "anon:203.0.113.7", engine.Abuse().PenaltyDuration()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/security/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Dashboard struct {
			RecentEvents   []security.Event `json:"recent_events"`
			BlockedClients []string         `json:"blocked_clients"`
		} `json:"dashboard"`
		Store storage.StoreInfo `json:"store"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Len(t, body.Dashboard.RecentEvents, 1)
	assert.Contains(t, body.Dashboard.BlockedClients, "anon:203.0.113.7")
	assert.Equal(t, storage.MemoryStoreType, body.Store.Type)
}

func TestAdmin_RecentEvents(t *testing.T) {
	router, _, tracker := newAdminFixture(t)

	for i := 0; i < 3; i++ {
		tracker.Track(context.Background(), security.Event{
			Type:        "phi_access",
			Description: "record viewed",
			Level:       security.LevelInfo,
			Category:    security.CategoryPHIAccess,
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/security/events?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Events []security.Event `json:"events"`
		Count  int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/security/events?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Stats(t *testing.T) {
	router, _, _ := newAdminFixture(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/rate-limit/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats limiter.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.False(t, stats.StartTime.IsZero())
}
