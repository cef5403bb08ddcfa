// security/rules.go
// Purpose: Alert rule definitions. A rule matches events by substring and
// fires once its sliding counter crosses the threshold inside the window.

package security

import (
	"fmt"
	"strings"
	"time"
)

// Rule is one immutable alert rule.
type Rule struct {
	ID           string
	Name         string
	EventPattern string
	Threshold    int
	TimeWindow   time.Duration
	Level        Level
	Channels     []Channel
	Enabled      bool
}

// Validate rejects malformed rules. Callers treat failures as fatal at
// startup; the tracker never runs with rules it cannot evaluate.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name must not be empty", r.ID)
	}
	if r.EventPattern == "" {
		return fmt.Errorf("rule %s: event_pattern must not be empty", r.ID)
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("rule %s: threshold must be positive, got %d", r.ID, r.Threshold)
	}
	if r.TimeWindow <= 0 {
		return fmt.Errorf("rule %s: time_window must be positive, got %v", r.ID, r.TimeWindow)
	}
	return nil
}

// Matches reports whether the event's type or description contains the
// rule's pattern, case-insensitively.
func (r *Rule) Matches(event Event) bool {
	pattern := strings.ToLower(r.EventPattern)
	return strings.Contains(strings.ToLower(event.Type), pattern) ||
		strings.Contains(strings.ToLower(event.Description), pattern)
}

// DefaultRules returns the baseline rule set the chatbot platform ships
// with. Deployments extend or replace these through configuration.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:           "brute-force-login",
			Name:         "Brute Force Login Attempts",
			EventPattern: "failed_login",
			Threshold:    5,
			TimeWindow:   5 * time.Minute,
			Level:        LevelCritical,
			Enabled:      true,
		},
		{
			ID:           "injection-attempts",
			Name:         "Injection Attack Attempts",
			EventPattern: "injection",
			Threshold:    3,
			TimeWindow:   10 * time.Minute,
			Level:        LevelCritical,
			Enabled:      true,
		},
		{
			ID:           "blocked-client-activity",
			Name:         "Blocked Client Activity",
			EventPattern: "blocked_client",
			Threshold:    10,
			TimeWindow:   15 * time.Minute,
			Level:        LevelWarning,
			Enabled:      true,
		},
		{
			ID:           "phi-access-anomaly",
			Name:         "Unusual PHI Access Volume",
			EventPattern: "phi_access",
			Threshold:    50,
			TimeWindow:   time.Hour,
			Level:        LevelError,
			Enabled:      true,
		},
	}
}
