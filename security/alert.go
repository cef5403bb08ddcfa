// security/alert.go
// Purpose: Security alert model, channel identifiers, and the
// level-dependent defaults for channel selection and suppression.

package security

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies an alert delivery channel.
type Channel string

const (
	ChannelLog      Channel = "log"
	ChannelDatabase Channel = "database"
	ChannelEmail    Channel = "email"
	ChannelChat     Channel = "chat"
	ChannelWebhook  Channel = "webhook"
	// ChannelSMS is reserved: it appears in the Emergency default set but
	// no handler ships with the core; the dispatcher skips channels
	// without a registered handler.
	ChannelSMS Channel = "sms"
)

// Alert is one immutable security alert.
type Alert struct {
	ID                 string                 `json:"alert_id"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	Level              Level                  `json:"level"`
	LevelName          string                 `json:"level_name"`
	Category           string                 `json:"category"`
	Timestamp          time.Time              `json:"timestamp"`
	SourceIP           string                 `json:"source_ip,omitempty"`
	UserID             string                 `json:"user_id,omitempty"`
	TechnicalDetails   map[string]interface{} `json:"technical_details,omitempty"`
	RecommendedActions []string               `json:"recommended_actions,omitempty"`
	Channels           []Channel              `json:"alert_channels"`
}

// NewAlert builds an alert, filling id, timestamp, and the default channel
// set for the level when the caller does not name channels explicitly.
func NewAlert(title, description string, level Level, category string, channels ...Channel) *Alert {
	if len(channels) == 0 {
		channels = DefaultChannels(level)
	}
	return &Alert{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Level:       level,
		LevelName:   level.String(),
		Category:    category,
		Timestamp:   time.Now(),
		Channels:    channels,
	}
}

// DefaultChannels returns the channel set used when an alert does not name
// its own.
func DefaultChannels(level Level) []Channel {
	switch level {
	case LevelEmergency:
		return []Channel{ChannelEmail, ChannelChat, ChannelLog, ChannelDatabase, ChannelSMS}
	case LevelCritical:
		return []Channel{ChannelEmail, ChannelChat, ChannelLog, ChannelDatabase}
	case LevelError:
		return []Channel{ChannelEmail, ChannelLog, ChannelDatabase}
	case LevelWarning:
		return []Channel{ChannelLog, ChannelDatabase}
	default:
		return []Channel{ChannelLog}
	}
}

// SuppressionDuration returns how long duplicate alerts with the same
// (category, level, source IP) signature stay suppressed. Emergency keeps
// the short window on purpose: emergencies should keep paging.
func SuppressionDuration(level Level) time.Duration {
	switch level {
	case LevelCritical:
		return 60 * time.Minute
	case LevelError:
		return 30 * time.Minute
	case LevelWarning:
		return 15 * time.Minute
	default:
		return 5 * time.Minute
	}
}
