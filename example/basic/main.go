// Minimal wiring example: memory store, default alert rules, log-only
// alerting, and a single chat endpoint behind the guard.
package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebot/secore/classifier"
	"github.com/carebot/secore/limiter"
	"github.com/carebot/secore/middleware"
	"github.com/carebot/secore/security"
	"github.com/carebot/secore/storage"
)

func main() {
	store, err := storage.New(&storage.Config{Type: storage.MemoryStoreType})
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	rules := limiter.NewRuleset()
	mustAdd := func(endpoint string, clientType classifier.ClientType, rule limiter.RateLimit) {
		if err := rules.Add(endpoint, clientType, rule); err != nil {
			log.Fatalf("invalid rate limit rule: %v", err)
		}
	}
	mustAdd("/api/chat", classifier.Anonymous, limiter.RateLimit{
		Algorithm: limiter.SlidingWindow, MaxRequests: 10, WindowSeconds: 60,
	})
	mustAdd("/api/chat", classifier.Authenticated, limiter.RateLimit{
		Algorithm: limiter.SlidingWindow, MaxRequests: 60, WindowSeconds: 60,
	})
	mustAdd(limiter.DefaultEndpoint, classifier.Anonymous, limiter.RateLimit{
		Algorithm: limiter.FixedWindow, MaxRequests: 30, WindowSeconds: 60,
	})

	engine, err := limiter.NewEngine(&limiter.Config{
		Store:         store,
		Rules:         rules,
		EnableLogging: true,
	})
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	dispatcher := security.NewDispatcher(&security.DispatcherConfig{
		Store:         store,
		Channels:      []security.AlertChannel{security.NewLogChannel()},
		EnableLogging: true,
	})

	tracker, err := security.NewTracker(&security.TrackerConfig{
		Store:      store,
		Dispatcher: dispatcher,
	})
	if err != nil {
		log.Fatalf("failed to create tracker: %v", err)
	}

	guard := middleware.NewGuard(&middleware.GuardConfig{
		Engine:     engine,
		Tracker:    tracker,
		GlobalRate: 100,
	})

	router := gin.Default()
	router.Use(guard.Handler())

	router.POST("/api/chat", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reply": "hello"})
	})

	admin := middleware.NewAdmin(engine, tracker)
	admin.Register(router.Group("/admin"))

	log.Println("listening on :8080")
	if err := router.Run(":8080"); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
