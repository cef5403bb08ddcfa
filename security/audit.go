// security/audit.go
// Purpose: Durable audit store for events and alerts, kept for compliance
// retention independently of the counter store's 7-day hot path.

package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AuditConfig configures the sqlite-backed audit store.
type AuditConfig struct {
	// Path of the sqlite database file.
	Path string
	// RetentionDays bounds how long audit rows are kept. Default 365.
	RetentionDays int
	// SweepInterval controls how often expired rows are purged. Default 12h.
	SweepInterval time.Duration
}

// AuditStore persists security events and alerts to sqlite.
type AuditStore struct {
	db        *sql.DB
	retention time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS security_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	description TEXT NOT NULL,
	level TEXT NOT NULL,
	category TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	source_ip TEXT,
	user_id TEXT,
	technical_details TEXT,
	affected_resources TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_security_events_level ON security_events(level);

CREATE TABLE IF NOT EXISTS security_alerts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	level TEXT NOT NULL,
	category TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	source_ip TEXT,
	user_id TEXT,
	technical_details TEXT,
	recommended_actions TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_alerts_timestamp ON security_alerts(timestamp);
CREATE INDEX IF NOT EXISTS idx_security_alerts_level ON security_alerts(level);
`

// NewAuditStore opens (or creates) the audit database and starts the
// retention sweep.
func NewAuditStore(config *AuditConfig) (*AuditStore, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("audit store path is required")
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 365
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 12 * time.Hour
	}

	// busy_timeout avoids immediate lock errors; sqlite writes are
	// serialized through a single connection.
	db, err := sql.Open("sqlite", config.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("[AUDIT] failed to enable WAL mode: %v", err)
	}

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	a := &AuditStore{
		db:        db,
		retention: time.Duration(config.RetentionDays) * 24 * time.Hour,
		stopChan:  make(chan struct{}),
	}

	go a.sweepRoutine(config.SweepInterval)

	return a, nil
}

// InsertEvent appends one event row.
func (a *AuditStore) InsertEvent(ctx context.Context, event *Event) error {
	details, _ := json.Marshal(event.TechnicalDetails)
	resources, _ := json.Marshal(event.AffectedResources)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO security_events
			(id, event_type, description, level, category, timestamp, source_ip, user_id, technical_details, affected_resources)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Description, event.Level.String(), event.Category,
		event.Timestamp.UTC(), event.SourceIP, event.UserID, string(details), string(resources))
	return err
}

// InsertAlert appends one alert row.
func (a *AuditStore) InsertAlert(ctx context.Context, alert *Alert) error {
	details, _ := json.Marshal(alert.TechnicalDetails)
	actions, _ := json.Marshal(alert.RecommendedActions)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO security_alerts
			(id, title, description, level, category, timestamp, source_ip, user_id, technical_details, recommended_actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Title, alert.Description, alert.Level.String(), alert.Category,
		alert.Timestamp.UTC(), alert.SourceIP, alert.UserID, string(details), string(actions))
	return err
}

// EventCountSince counts events newer than the given time.
func (a *AuditStore) EventCountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE timestamp >= ?`, since.UTC()).Scan(&count)
	return count, err
}

// AlertCountsByLevel counts alerts newer than the given time, keyed by level
// name.
func (a *AuditStore) AlertCountsByLevel(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM security_alerts WHERE timestamp >= ? GROUP BY level`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		counts[level] = count
	}
	return counts, rows.Err()
}

func (a *AuditStore) sweepRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopChan:
			return
		}
	}
}

func (a *AuditStore) sweep() {
	cutoff := time.Now().Add(-a.retention).UTC()

	for _, table := range []string{"security_events", "security_alerts"} {
		result, err := a.db.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff)
		if err != nil {
			log.Printf("[AUDIT] retention sweep failed for %s: %v", table, err)
			continue
		}
		if n, _ := result.RowsAffected(); n > 0 {
			log.Printf("[AUDIT] purged %d expired rows from %s", n, table)
		}
	}
}

// Close stops the sweep and closes the database.
func (a *AuditStore) Close() error {
	a.stopOnce.Do(func() { close(a.stopChan) })
	return a.db.Close()
}
