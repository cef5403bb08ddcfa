// security/channels.go
// Purpose: Alert delivery channels behind one capability interface. Each
// channel is independently configured and independently fallible; an
// unconfigured channel reports itself disabled instead of failing sends.

package security

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// AlertChannel delivers alerts over one transport.
type AlertChannel interface {
	Name() Channel
	Enabled() bool
	Send(ctx context.Context, alert *Alert) error
}

// =============================================================================
// LOG CHANNEL
// =============================================================================

// LogChannel writes alerts to the process log. Always enabled.
type LogChannel struct{}

func NewLogChannel() *LogChannel { return &LogChannel{} }

func (c *LogChannel) Name() Channel { return ChannelLog }
func (c *LogChannel) Enabled() bool { return true }

func (c *LogChannel) Send(ctx context.Context, alert *Alert) error {
	log.Printf("[SECURITY_ALERT] level=%s category=%s ip=%s title=%q id=%s",
		alert.Level, alert.Category, alert.SourceIP, alert.Title, alert.ID)
	return nil
}

// =============================================================================
// DATABASE CHANNEL
// =============================================================================

// DatabaseChannel writes alerts to the durable audit store.
type DatabaseChannel struct {
	audit *AuditStore
}

func NewDatabaseChannel(audit *AuditStore) *DatabaseChannel {
	return &DatabaseChannel{audit: audit}
}

func (c *DatabaseChannel) Name() Channel { return ChannelDatabase }
func (c *DatabaseChannel) Enabled() bool { return c.audit != nil }

func (c *DatabaseChannel) Send(ctx context.Context, alert *Alert) error {
	if c.audit == nil {
		return nil
	}
	return c.audit.InsertAlert(ctx, alert)
}

// =============================================================================
// EMAIL CHANNEL
// =============================================================================

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	From     string   `json:"from" yaml:"from"`
	To       []string `json:"to" yaml:"to"`
}

// EmailChannel sends alerts over SMTP. Disabled until host and recipients
// are configured.
type EmailChannel struct {
	config EmailConfig
}

func NewEmailChannel(config EmailConfig) *EmailChannel {
	if config.Port == 0 {
		config.Port = 587
	}
	return &EmailChannel{config: config}
}

func (c *EmailChannel) Name() Channel { return ChannelEmail }
func (c *EmailChannel) Enabled() bool {
	return c.config.Host != "" && len(c.config.To) > 0
}

func (c *EmailChannel) Send(ctx context.Context, alert *Alert) error {
	if !c.Enabled() {
		return nil
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", strings.ToUpper(alert.Level.String()), alert.Title)
	fmt.Fprintf(&body, "From: %s\r\n", c.config.From)
	fmt.Fprintf(&body, "To: %s\r\n\r\n", strings.Join(c.config.To, ", "))
	fmt.Fprintf(&body, "Alert: %s\n", alert.Title)
	fmt.Fprintf(&body, "Level: %s\n", alert.Level)
	fmt.Fprintf(&body, "Category: %s\n", alert.Category)
	fmt.Fprintf(&body, "Time: %s\n", alert.Timestamp.Format(time.RFC3339))
	if alert.SourceIP != "" {
		fmt.Fprintf(&body, "Source IP: %s\n", alert.SourceIP)
	}
	fmt.Fprintf(&body, "\n%s\n", alert.Description)
	if len(alert.RecommendedActions) > 0 {
		fmt.Fprintf(&body, "\nRecommended actions:\n")
		for _, action := range alert.RecommendedActions {
			fmt.Fprintf(&body, "  - %s\n", action)
		}
	}

	return c.deliver(ctx, body.Bytes())
}

// deliver speaks SMTP over a connection dialed and deadlined from ctx, so a
// hung server fails the send instead of holding it open.
func (c *EmailChannel) deliver(ctx context.Context, body []byte) error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.config.Host}); err != nil {
			return err
		}
	}

	if c.config.Username != "" {
		auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(c.config.From); err != nil {
		return err
	}
	for _, rcpt := range c.config.To {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// =============================================================================
// CHAT WEBHOOK CHANNEL
// =============================================================================

// ChatConfig configures the team-chat webhook.
type ChatConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// ChatChannel posts color-coded alert messages to a team chat webhook.
type ChatChannel struct {
	config ChatConfig
	client *http.Client
}

func NewChatChannel(config ChatConfig) *ChatChannel {
	return &ChatChannel{
		config: config,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *ChatChannel) Name() Channel { return ChannelChat }
func (c *ChatChannel) Enabled() bool { return c.config.WebhookURL != "" }

func levelColor(level Level) string {
	switch level {
	case LevelEmergency, LevelCritical:
		return "#d00000"
	case LevelError:
		return "#e85d04"
	case LevelWarning:
		return "#ffba08"
	default:
		return "#43aa8b"
	}
}

func (c *ChatChannel) Send(ctx context.Context, alert *Alert) error {
	if !c.Enabled() {
		return nil
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("Security Alert: %s", alert.Title),
		"attachments": []map[string]interface{}{
			{
				"color": levelColor(alert.Level),
				"fields": []map[string]interface{}{
					{"title": "Level", "value": alert.Level.String(), "short": true},
					{"title": "Category", "value": alert.Category, "short": true},
					{"title": "Source IP", "value": alert.SourceIP, "short": true},
					{"title": "Time", "value": alert.Timestamp.Format(time.RFC3339), "short": true},
					{"title": "Description", "value": alert.Description},
				},
			},
		},
	}

	return postJSON(ctx, c.client, c.config.WebhookURL, payload)
}

// =============================================================================
// GENERIC WEBHOOK CHANNEL
// =============================================================================

// WebhookConfig configures generic webhook fan-out.
type WebhookConfig struct {
	URLs []string `json:"urls" yaml:"urls"`
}

// WebhookChannel POSTs the alert JSON to each configured URL. One URL
// failing does not prevent delivery to the others.
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		config: config,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *WebhookChannel) Name() Channel { return ChannelWebhook }
func (c *WebhookChannel) Enabled() bool { return len(c.config.URLs) > 0 }

func (c *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	if !c.Enabled() {
		return nil
	}

	var lastErr error
	for _, url := range c.config.URLs {
		if err := postJSON(ctx, c.client, url, alert); err != nil {
			log.Printf("[ALERT_WEBHOOK] delivery to %s failed: %v", url, err)
			lastErr = err
		}
	}
	return lastErr
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
