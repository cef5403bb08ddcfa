// security/tracker.go
// Purpose: Security event tracking. Every event is recorded to the hot
// per-day list and the durable audit store, then evaluated against the
// alert rules; a rule whose windowed counter crosses its threshold raises
// an alert and resets its counter.

package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/carebot/secore/storage"
)

const (
	eventListKeyPrefix = "security_events:"
	ruleKeyPrefix      = "alert_rule:"

	// Hot event lists are capped and age out after a week; long-term
	// retention lives in the audit store.
	eventListMaxLen = 1000
	eventListTTL    = 7 * 24 * time.Hour
)

// TrackerConfig configures the security event tracker.
type TrackerConfig struct {
	Store      storage.CounterStore
	Audit      *AuditStore
	Dispatcher *Dispatcher

	// Rules evaluated for every event. Defaults to DefaultRules().
	Rules         []Rule
	EnableLogging bool
}

// TrackerStats tracks event processing counters.
type TrackerStats struct {
	EventsTracked int64 `json:"events_tracked"`
	RulesFired    int64 `json:"rules_fired"`
	TrackErrors   int64 `json:"track_errors"`
}

// Dashboard is the operator-facing snapshot of recent security activity.
type Dashboard struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	EventsLastHour int             `json:"events_last_hour"`
	EventsLastDay  int             `json:"events_last_day"`
	AlertsByLevel  map[string]int  `json:"alerts_by_level"`
	RecentEvents   []Event         `json:"recent_events"`
	BlockedClients []string        `json:"blocked_clients"`
	Tracker        TrackerStats    `json:"tracker_stats"`
	Dispatch       DispatcherStats `json:"dispatch_stats"`
}

// Tracker records security events and drives rule-based alerting.
type Tracker struct {
	store      storage.CounterStore
	audit      *AuditStore
	dispatcher *Dispatcher
	rules      []Rule
	logging    bool

	eventsTracked atomic.Int64
	rulesFired    atomic.Int64
	trackErrors   atomic.Int64
}

// NewTracker validates the rule set and creates a tracker. A malformed rule
// is a startup error, not something to limp along with.
func NewTracker(config *TrackerConfig) (*Tracker, error) {
	if config == nil || config.Store == nil {
		return nil, fmt.Errorf("tracker requires a counter store")
	}

	rules := config.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid alert rule: %w", err)
		}
	}

	return &Tracker{
		store:      config.Store,
		audit:      config.Audit,
		dispatcher: config.Dispatcher,
		rules:      rules,
		logging:    config.EnableLogging,
	}, nil
}

// Track records one security event. Recording is best-effort: a storage
// failure is logged and counted but never surfaces to the request path
// that emitted the event.
func (t *Tracker) Track(ctx context.Context, event Event) {
	event.fill()
	t.eventsTracked.Add(1)

	payload, err := json.Marshal(event)
	if err != nil {
		t.trackErrors.Add(1)
		log.Printf("[SECURITY] failed to encode event %s: %v", event.ID, err)
		return
	}

	key := eventListKeyPrefix + event.Timestamp.Format("2006-01-02")
	if err := t.store.PushEvent(ctx, key, payload, eventListMaxLen, eventListTTL); err != nil {
		t.trackErrors.Add(1)
		log.Printf("[SECURITY] failed to record event %s: %v", event.ID, err)
	}

	if t.audit != nil {
		if err := t.audit.InsertEvent(ctx, &event); err != nil {
			t.trackErrors.Add(1)
			log.Printf("[SECURITY] audit insert failed for event %s: %v", event.ID, err)
		}
	}

	t.evaluateRules(ctx, event)
}

// evaluateRules counts the event against each matching rule and raises an
// alert when a rule's threshold is crossed within its window. The counter
// is cleared after firing so the next alert needs a full new burst.
func (t *Tracker) evaluateRules(ctx context.Context, event Event) {
	for i := range t.rules {
		rule := &t.rules[i]
		if !rule.Enabled || !rule.Matches(event) {
			continue
		}

		key := ruleKeyPrefix + rule.ID
		if err := t.store.AddRequest(ctx, key, event.Timestamp, rule.TimeWindow); err != nil {
			t.trackErrors.Add(1)
			log.Printf("[SECURITY] rule %s counter update failed: %v", rule.ID, err)
			continue
		}

		count, err := t.store.CountRequests(ctx, key, rule.TimeWindow)
		if err != nil {
			t.trackErrors.Add(1)
			log.Printf("[SECURITY] rule %s counter read failed: %v", rule.ID, err)
			continue
		}

		if count < rule.Threshold {
			continue
		}

		t.fireRule(ctx, rule, event, count)

		if err := t.store.Delete(ctx, key); err != nil {
			log.Printf("[SECURITY] rule %s counter reset failed: %v", rule.ID, err)
		}
	}
}

func (t *Tracker) fireRule(ctx context.Context, rule *Rule, event Event, count int) {
	t.rulesFired.Add(1)

	alert := NewAlert(
		fmt.Sprintf("Security Rule Triggered: %s", rule.Name),
		fmt.Sprintf("Rule %q fired: %d matching events within %v (threshold %d). Last event: %s",
			rule.Name, count, rule.TimeWindow, rule.Threshold, event.Description),
		rule.Level,
		event.Category,
		rule.Channels...,
	)
	alert.SourceIP = event.SourceIP
	alert.UserID = event.UserID
	alert.TechnicalDetails = map[string]interface{}{
		"rule_id":       rule.ID,
		"event_pattern": rule.EventPattern,
		"event_count":   count,
		"time_window":   rule.TimeWindow.String(),
		"last_event_id": event.ID,
	}

	if t.logging {
		log.Printf("[SECURITY] rule %s fired (%d events in %v)", rule.ID, count, rule.TimeWindow)
	}

	if t.dispatcher != nil {
		t.dispatcher.Process(ctx, alert)
	}
}

// RecentEvents returns up to limit events recorded today, newest last.
func (t *Tracker) RecentEvents(ctx context.Context, limit int64) ([]Event, error) {
	key := eventListKeyPrefix + time.Now().Format("2006-01-02")
	payloads, err := t.store.RecentEvents(ctx, key, limit)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(payloads))
	for _, payload := range payloads {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Printf("[SECURITY] skipping undecodable event record: %v", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Snapshot builds the dashboard. BlockedClients is left for the caller to
// fill: penalty state belongs to the limiter, not the tracker.
func (t *Tracker) Snapshot(ctx context.Context) (*Dashboard, error) {
	now := time.Now()
	dashboard := &Dashboard{
		GeneratedAt:   now,
		AlertsByLevel: make(map[string]int),
		Tracker:       t.GetStats(),
	}
	if t.dispatcher != nil {
		dashboard.Dispatch = t.dispatcher.GetStats()
	}

	if t.audit != nil {
		hour, err := t.audit.EventCountSince(ctx, now.Add(-time.Hour))
		if err != nil {
			return nil, fmt.Errorf("failed to count recent events: %w", err)
		}
		day, err := t.audit.EventCountSince(ctx, now.Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("failed to count recent events: %w", err)
		}
		alerts, err := t.audit.AlertCountsByLevel(ctx, now.Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("failed to count recent alerts: %w", err)
		}
		dashboard.EventsLastHour = hour
		dashboard.EventsLastDay = day
		dashboard.AlertsByLevel = alerts
	}

	recent, err := t.RecentEvents(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	dashboard.RecentEvents = recent

	return dashboard, nil
}

// Rules returns the active rule set.
func (t *Tracker) Rules() []Rule { return t.rules }

// GetStats returns a snapshot of tracker counters.
func (t *Tracker) GetStats() TrackerStats {
	return TrackerStats{
		EventsTracked: t.eventsTracked.Load(),
		RulesFired:    t.rulesFired.Load(),
		TrackErrors:   t.trackErrors.Load(),
	}
}
