// security/event.go
// Purpose: Security event model. Events are immutable and append-only;
// anything security-relevant (failed logins, injection attempts, blocked
// requests) flows through here.

package security

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level grades event and alert severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
	LevelEmergency
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	case "emergency":
		return LevelEmergency, true
	default:
		return LevelInfo, false
	}
}

// Event categories used by the chatbot platform.
const (
	CategoryAuthentication  = "authentication"
	CategoryAuthorization   = "authorization"
	CategoryInputValidation = "input_validation"
	CategoryRateLimiting    = "rate_limiting"
	CategoryDataAccess      = "data_access"
	CategoryPHIAccess       = "phi_access"
	CategorySystem          = "system"
)

// Event is one security event.
type Event struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"event_type"`
	Description       string                 `json:"description"`
	Level             Level                  `json:"level"`
	LevelName         string                 `json:"level_name"`
	Category          string                 `json:"category"`
	Timestamp         time.Time              `json:"timestamp"`
	SourceIP          string                 `json:"source_ip,omitempty"`
	UserID            string                 `json:"user_id,omitempty"`
	TechnicalDetails  map[string]interface{} `json:"technical_details,omitempty"`
	AffectedResources []string               `json:"affected_resources,omitempty"`
}

// fill assigns defaults for fields the caller left empty.
func (e *Event) fill() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Category == "" {
		e.Category = CategorySystem
	}
	e.LevelName = e.Level.String()
}
