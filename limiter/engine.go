// limiter/engine.go
// Purpose: Rate limit engine. Evaluates the configured rules for a
// (client, endpoint) pair against the counter store, short-circuiting on the
// first failing rule, and failing open on any store error.

package limiter

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/carebot/secore/classifier"
	"github.com/carebot/secore/storage"
)

const rateLimitKeyPrefix = "rate_limit:"

// burstSpacing is the gap below which consecutive requests count against the
// burst allowance.
const burstSpacing = time.Second

// Config configures the rate limit engine.
type Config struct {
	Store storage.CounterStore
	Rules *Ruleset
	Abuse AbuseConfig

	// RequestTimeout bounds every store operation. Default 5s; checks fail
	// open when it elapses.
	RequestTimeout time.Duration
	EnableLogging  bool
}

// Stats tracks engine-level counters.
type Stats struct {
	TotalChecks   int64     `json:"total_checks"`
	Allowed       int64     `json:"allowed"`
	Blocked       int64     `json:"blocked"`
	Violations    int64     `json:"violations"`
	PenaltyBlocks int64     `json:"penalty_blocks"`
	FailOpen      int64     `json:"fail_open"`
	StartTime     time.Time `json:"start_time"`
}

// Engine is the rate limit evaluation core. It holds no mutable counter
// state of its own; the counter store is the single source of truth.
type Engine struct {
	store   storage.CounterStore
	rules   *Ruleset
	abuse   *AbuseTracker
	timeout time.Duration
	logging bool

	totalChecks   atomic.Int64
	allowed       atomic.Int64
	blocked       atomic.Int64
	violations    atomic.Int64
	penaltyBlocks atomic.Int64
	failOpen      atomic.Int64
	startTime     time.Time
}

// NewEngine creates a rate limit engine. The ruleset is sealed; rule
// configuration errors must already have been handled (fatally) by the
// caller at startup.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil || config.Store == nil {
		return nil, fmt.Errorf("counter store is required")
	}

	rules := config.Rules
	if rules == nil {
		rules = NewRuleset()
	}
	rules.Seal()

	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Engine{
		store:     config.Store,
		rules:     rules,
		abuse:     NewAbuseTracker(config.Store, config.Abuse),
		timeout:   timeout,
		logging:   config.EnableLogging,
		startTime: time.Now(),
	}, nil
}

// Abuse exposes the abuse tracker (admin block/unblock, dashboard).
func (e *Engine) Abuse() *AbuseTracker { return e.abuse }

// Store exposes the underlying counter store.
func (e *Engine) Store() storage.CounterStore { return e.store }

// Check evaluates all applicable rules for the client and endpoint.
//
// Order: active penalty short-circuits everything; then each configured rule
// runs in order and the first failing one denies the request immediately
// (later rules are neither evaluated nor incremented). Store errors never
// deny: the check fails open with an empty decision.
func (e *Engine) Check(ctx context.Context, client classifier.Client, endpoint string) Decision {
	e.totalChecks.Add(1)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	penalized, remaining, err := e.abuse.IsPenalized(ctx, client.ID)
	if err != nil {
		// Penalty state unavailable; continue to rule evaluation rather
		// than blocking legitimate traffic.
		e.logFailOpen("penalty lookup", client.ID, err)
	} else if penalized {
		e.blocked.Add(1)
		e.penaltyBlocks.Add(1)
		return Decision{
			Allowed:    false,
			Penalized:  true,
			Reason:     "temporarily blocked due to repeated rate limit violations",
			RetryAfter: remaining,
			ResetTime:  time.Now().Add(remaining),
		}
	}

	rules := e.rules.Match(endpoint, client.Type)
	if len(rules) == 0 {
		// No rules configured for this client type: allow unconditionally.
		e.allowed.Add(1)
		return Decision{Allowed: true}
	}

	var merged Decision
	merged.Allowed = true

	for _, rule := range rules {
		decision, err := e.checkRule(ctx, client.ID, endpoint, rule)
		if err != nil {
			e.failOpen.Add(1)
			e.allowed.Add(1)
			e.logFailOpen(rule.Algorithm.String(), client.ID, err)
			return Decision{Allowed: true}
		}

		if !decision.Allowed {
			e.blocked.Add(1)
			e.violations.Add(1)
			if err := e.abuse.RecordViolation(ctx, client.ID); err != nil && e.logging {
				log.Printf("[RATE_LIMIT] violation record failed for %s: %v", client.ID, err)
			}
			return decision
		}

		if merged.Algorithm == "" || decision.Remaining < merged.Remaining {
			merged = decision
		}
	}

	e.allowed.Add(1)
	return merged
}

// checkRule dispatches one rule to its algorithm.
func (e *Engine) checkRule(ctx context.Context, clientID, endpoint string, rule RateLimit) (Decision, error) {
	switch rule.Algorithm {
	case FixedWindow:
		return e.checkFixedWindow(ctx, clientID, endpoint, rule)
	case Burst:
		return e.checkBurst(ctx, clientID, endpoint, rule)
	case SlidingWindow:
		return e.checkSlidingWindow(ctx, clientID, endpoint, rule)
	default:
		return Decision{}, fmt.Errorf("unknown algorithm %d", rule.Algorithm)
	}
}

func (e *Engine) checkFixedWindow(ctx context.Context, clientID, endpoint string, rule RateLimit) (Decision, error) {
	now := time.Now()
	// Windows are aligned to the epoch rather than to a client's first
	// request: every instance derives the same window id for a key without
	// reading prior state, which keeps the increment a single atomic op.
	windowID := now.Unix() / int64(rule.WindowSeconds)
	key := rateLimitKeyPrefix + clientID + ":" + endpoint + ":" + rule.Algorithm.String()

	// TTL buffer keeps the key alive slightly past the window edge.
	count, err := e.store.WindowIncrement(ctx, key, windowID, rule.Window()+time.Minute)
	if err != nil {
		return Decision{}, err
	}

	resetTime := time.Unix((windowID+1)*int64(rule.WindowSeconds), 0)
	remaining := rule.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   count <= int64(rule.MaxRequests),
		Limit:     rule.MaxRequests,
		Remaining: remaining,
		Window:    rule.Window(),
		ResetTime: resetTime,
		Algorithm: rule.Algorithm.String(),
	}
	if !decision.Allowed {
		decision.Reason = "rate limit exceeded"
		decision.RetryAfter = time.Until(resetTime)
	}
	return decision, nil
}

// checkBurst limits sub-second request trains. Only requests arriving less
// than burstSpacing after the previous one count against the allowance; the
// allowance resets with the rule window.
func (e *Engine) checkBurst(ctx context.Context, clientID, endpoint string, rule RateLimit) (Decision, error) {
	now := time.Now()
	base := rateLimitKeyPrefix + clientID + ":" + endpoint
	lastKey := base + ":last"

	var last time.Time
	value, _, err := e.store.GetMarker(ctx, lastKey)
	if err != nil && err != storage.ErrKeyNotFound {
		return Decision{}, err
	}
	if err == nil {
		if nanos, perr := strconv.ParseInt(value, 10, 64); perr == nil {
			last = time.Unix(0, nanos)
		}
	}

	decision := Decision{
		Allowed:   true,
		Limit:     rule.BurstAllowance,
		Remaining: rule.BurstAllowance,
		Window:    rule.Window(),
		ResetTime: now.Add(rule.Window()),
		Algorithm: rule.Algorithm.String(),
	}

	if !last.IsZero() && now.Sub(last) < burstSpacing {
		windowID := now.Unix() / int64(rule.WindowSeconds)
		used, err := e.store.WindowIncrement(ctx, base+":burst", windowID, rule.Window()+time.Minute)
		if err != nil {
			return Decision{}, err
		}

		remaining := rule.BurstAllowance - int(used)
		if remaining < 0 {
			remaining = 0
		}
		decision.Remaining = remaining

		if used > int64(rule.BurstAllowance) {
			decision.Allowed = false
			decision.Reason = "burst allowance exceeded"
			decision.RetryAfter = burstSpacing
		}
	}

	if err := e.store.SetMarker(ctx, lastKey, strconv.FormatInt(now.UnixNano(), 10), time.Hour); err != nil {
		return Decision{}, err
	}

	return decision, nil
}

func (e *Engine) checkSlidingWindow(ctx context.Context, clientID, endpoint string, rule RateLimit) (Decision, error) {
	now := time.Now()
	key := "sliding:" + clientID + ":" + endpoint

	count, err := e.store.CountRequests(ctx, key, rule.Window())
	if err != nil {
		return Decision{}, err
	}

	if count >= rule.MaxRequests {
		return Decision{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			Window:     rule.Window(),
			ResetTime:  now.Add(rule.Window()),
			RetryAfter: rule.Window(),
			Algorithm:  rule.Algorithm.String(),
			Reason:     "rate limit exceeded",
		}, nil
	}

	// The timestamp lands in the window before the overall outcome is known:
	// a request a later rule rejects still costs sliding budget. Matches
	// long-standing behavior that callers depend on.
	if err := e.store.AddRequest(ctx, key, now, rule.Window()); err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - count - 1,
		Window:    rule.Window(),
		ResetTime: now.Add(rule.Window()),
		Algorithm: rule.Algorithm.String(),
	}, nil
}

func (e *Engine) logFailOpen(op, clientID string, err error) {
	if e.logging {
		log.Printf("[RATE_LIMIT] %s failed for %s, failing open: %v", op, clientID, err)
	}
}

// GetStats returns a snapshot of engine counters.
func (e *Engine) GetStats() Stats {
	return Stats{
		TotalChecks:   e.totalChecks.Load(),
		Allowed:       e.allowed.Load(),
		Blocked:       e.blocked.Load(),
		Violations:    e.violations.Load(),
		PenaltyBlocks: e.penaltyBlocks.Load(),
		FailOpen:      e.failOpen.Load(),
		StartTime:     e.startTime,
	}
}

// ResetStats zeroes all engine counters.
func (e *Engine) ResetStats() {
	e.totalChecks.Store(0)
	e.allowed.Store(0)
	e.blocked.Store(0)
	e.violations.Store(0)
	e.penaltyBlocks.Store(0)
	e.failOpen.Store(0)
	e.startTime = time.Now()
}
