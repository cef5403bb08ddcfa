// limiter/abuse.go
// Purpose: Abuse tracking. Counts rule violations per client in a rolling
// window and escalates to a timed, client-scoped penalty that blocks the
// client across all endpoints.

package limiter

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/carebot/secore/storage"
)

const (
	abuseKeyPrefix   = "abuse:"
	penaltyKeyPrefix = "penalty:"
)

// AbuseConfig configures the abuse tracker.
type AbuseConfig struct {
	// Threshold is the violation count that triggers a penalty. Default 5.
	Threshold int
	// CounterWindow is the rolling window for the violation counter.
	// Default 1 hour. The counter resets only by aging out, never by the
	// penalty itself.
	CounterWindow time.Duration
	// PenaltyDuration is the fixed (non-escalating) block duration.
	// Default 30 minutes.
	PenaltyDuration time.Duration
	EnableLogging   bool
}

func (c *AbuseConfig) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.CounterWindow <= 0 {
		c.CounterWindow = time.Hour
	}
	if c.PenaltyDuration <= 0 {
		c.PenaltyDuration = 30 * time.Minute
	}
}

// AbuseTracker escalates repeated rate-limit violations to temporary blocks.
type AbuseTracker struct {
	store  storage.CounterStore
	config AbuseConfig
}

// NewAbuseTracker creates an abuse tracker over the shared counter store.
func NewAbuseTracker(store storage.CounterStore, config AbuseConfig) *AbuseTracker {
	config.applyDefaults()
	return &AbuseTracker{store: store, config: config}
}

// RecordViolation increments the client's rolling violation counter and
// applies a penalty once the threshold is crossed.
func (t *AbuseTracker) RecordViolation(ctx context.Context, clientID string) error {
	count, err := t.store.Increment(ctx, abuseKeyPrefix+clientID, t.config.CounterWindow)
	if err != nil {
		return err
	}

	if count >= int64(t.config.Threshold) {
		return t.ApplyPenalty(ctx, clientID, t.config.PenaltyDuration)
	}
	return nil
}

// ApplyPenalty blocks the client for the given duration. The penalty is
// client-scoped: every endpoint check for this client short-circuits to a
// denial until it expires.
func (t *AbuseTracker) ApplyPenalty(ctx context.Context, clientID string, duration time.Duration) error {
	until := time.Now().Add(duration)
	if err := t.store.SetMarker(ctx, penaltyKeyPrefix+clientID, until.Format(time.RFC3339), duration); err != nil {
		return err
	}

	if t.config.EnableLogging {
		log.Printf("[ABUSE] penalty applied to %s until %s", clientID, until.Format(time.RFC3339))
	}
	return nil
}

// IsPenalized reports whether the client has an active penalty, and how
// long it has left.
func (t *AbuseTracker) IsPenalized(ctx context.Context, clientID string) (bool, time.Duration, error) {
	_, remaining, err := t.store.GetMarker(ctx, penaltyKeyPrefix+clientID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, remaining, nil
}

// ClearPenalty removes an active penalty (admin unblock).
func (t *AbuseTracker) ClearPenalty(ctx context.Context, clientID string) error {
	return t.store.Delete(ctx, penaltyKeyPrefix+clientID)
}

// PenalizedClients lists client ids with active penalties.
func (t *AbuseTracker) PenalizedClients(ctx context.Context) ([]string, error) {
	keys, err := t.store.ListKeys(ctx, penaltyKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	clients := make([]string, 0, len(keys))
	for _, key := range keys {
		clients = append(clients, strings.TrimPrefix(key, penaltyKeyPrefix))
	}
	return clients, nil
}

// Threshold returns the configured violation threshold.
func (t *AbuseTracker) Threshold() int { return t.config.Threshold }

// PenaltyDuration returns the configured penalty duration.
func (t *AbuseTracker) PenaltyDuration() time.Duration { return t.config.PenaltyDuration }
