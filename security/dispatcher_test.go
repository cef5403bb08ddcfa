package security

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebot/secore/storage"
)

// captureChannel records every alert it receives.
type captureChannel struct {
	name    Channel
	mu      sync.Mutex
	alerts  []*Alert
	failErr error
}

func (c *captureChannel) Name() Channel { return c.name }
func (c *captureChannel) Enabled() bool { return true }

func (c *captureChannel) Send(ctx context.Context, alert *Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureChannel) received() []*Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, *captureChannel) {
	t.Helper()

	store := storage.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	channel := &captureChannel{name: ChannelLog}
	dispatcher := NewDispatcher(&DispatcherConfig{
		Store:    store,
		Channels: []AlertChannel{channel},
	})
	return dispatcher, channel
}

func testAlert(ip string) *Alert {
	alert := NewAlert("Test Alert", "something happened", LevelWarning, CategoryRateLimiting, ChannelLog)
	alert.SourceIP = ip
	return alert
}

func TestDispatcher_DeliversToChannels(t *testing.T) {
	dispatcher, channel := newDispatcherFixture(t)

	dispatcher.Process(context.Background(), testAlert("203.0.113.7"))

	alerts := channel.received()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Test Alert", alerts[0].Title)
	assert.Equal(t, int64(1), dispatcher.GetStats().Dispatched)
}

func TestDispatcher_SuppressesDuplicates(t *testing.T) {
	dispatcher, channel := newDispatcherFixture(t)
	ctx := context.Background()

	dispatcher.Process(ctx, testAlert("203.0.113.7"))
	dispatcher.Process(ctx, testAlert("203.0.113.7"))
	dispatcher.Process(ctx, testAlert("203.0.113.7"))

	assert.Len(t, channel.received(), 1, "duplicates within the window are dropped")

	stats := dispatcher.GetStats()
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(2), stats.Suppressed)
}

func TestDispatcher_SuppressionIsPerSignature(t *testing.T) {
	dispatcher, channel := newDispatcherFixture(t)
	ctx := context.Background()

	dispatcher.Process(ctx, testAlert("203.0.113.7"))

	// Different source IP: different signature, delivered.
	dispatcher.Process(ctx, testAlert("198.51.100.9"))

	// Different level: different signature too.
	escalated := testAlert("203.0.113.7")
	escalated.Level = LevelCritical
	dispatcher.Process(ctx, escalated)

	// Different category as well.
	offCategory := testAlert("203.0.113.7")
	offCategory.Category = CategoryAuthentication
	dispatcher.Process(ctx, offCategory)

	assert.Len(t, channel.received(), 4)
	assert.Zero(t, dispatcher.GetStats().Suppressed)
}

func TestDispatcher_SkipsUnregisteredChannels(t *testing.T) {
	dispatcher, channel := newDispatcherFixture(t)

	// sms has no handler; the alert still reaches the log channel.
	alert := NewAlert("Test", "d", LevelEmergency, CategorySystem, ChannelLog, ChannelSMS)
	dispatcher.Process(context.Background(), alert)

	assert.Len(t, channel.received(), 1)
}

func TestDispatcher_ChannelFailureIsIsolated(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	defer store.Close()

	good := &captureChannel{name: ChannelLog}
	bad := &captureChannel{name: ChannelDatabase, failErr: fmt.Errorf("database down")}
	dispatcher := NewDispatcher(&DispatcherConfig{
		Store:    store,
		Channels: []AlertChannel{good, bad},
	})

	alert := NewAlert("Test", "d", LevelWarning, CategorySystem, ChannelLog, ChannelDatabase)
	dispatcher.Process(context.Background(), alert)

	assert.Len(t, good.received(), 1, "one channel failing must not block the others")

	stats := dispatcher.GetStats()
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.ChannelFailures)
}

// hungChannel ignores its context and sleeps, standing in for a transport
// with a dead remote end.
type hungChannel struct {
	name  Channel
	delay time.Duration
}

func (c *hungChannel) Name() Channel { return c.name }
func (c *hungChannel) Enabled() bool { return true }

func (c *hungChannel) Send(ctx context.Context, alert *Alert) error {
	time.Sleep(c.delay)
	return nil
}

func TestDispatcher_AbandonsTimedOutChannel(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	defer store.Close()

	fast := &captureChannel{name: ChannelLog}
	hung := &hungChannel{name: ChannelDatabase, delay: 3 * time.Second}
	dispatcher := NewDispatcher(&DispatcherConfig{
		Store:          store,
		Channels:       []AlertChannel{fast, hung},
		ChannelTimeout: 100 * time.Millisecond,
	})
	ctx := context.Background()

	alert := NewAlert("Test", "d", LevelWarning, CategorySystem, ChannelLog, ChannelDatabase)
	alert.SourceIP = "203.0.113.7"

	start := time.Now()
	dispatcher.Process(ctx, alert)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "a hung channel must be abandoned at the timeout, not awaited")
	assert.Len(t, fast.received(), 1, "healthy channels still deliver")

	stats := dispatcher.GetStats()
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.ChannelFailures, "the timeout counts as a channel failure")

	// Suppression must be armed immediately so the duplicate is dropped
	// while the first send is still hanging.
	next := NewAlert("Test", "d", LevelWarning, CategorySystem, ChannelLog, ChannelDatabase)
	next.SourceIP = "203.0.113.7"
	dispatcher.Process(ctx, next)
	assert.Equal(t, int64(1), dispatcher.GetStats().Suppressed)
	assert.Len(t, fast.received(), 1)
}

func TestDispatcher_FailedDispatchStillSuppresses(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	defer store.Close()

	bad := &captureChannel{name: ChannelLog, failErr: fmt.Errorf("boom")}
	dispatcher := NewDispatcher(&DispatcherConfig{
		Store:    store,
		Channels: []AlertChannel{bad},
	})
	ctx := context.Background()

	dispatcher.Process(ctx, testAlert("203.0.113.7"))
	dispatcher.Process(ctx, testAlert("203.0.113.7"))

	stats := dispatcher.GetStats()
	assert.Equal(t, int64(1), stats.Suppressed, "a failed dispatch still arms suppression")
}

func TestSuppressionDurationByLevel(t *testing.T) {
	assert.Equal(t, 60*time.Minute, SuppressionDuration(LevelCritical))
	assert.Equal(t, 30*time.Minute, SuppressionDuration(LevelError))
	assert.Equal(t, 15*time.Minute, SuppressionDuration(LevelWarning))
	assert.Equal(t, 5*time.Minute, SuppressionDuration(LevelInfo))
	assert.Equal(t, 5*time.Minute, SuppressionDuration(LevelEmergency), "emergencies keep paging")
}

func TestDefaultChannelsByLevel(t *testing.T) {
	assert.Contains(t, DefaultChannels(LevelEmergency), ChannelSMS)
	assert.Contains(t, DefaultChannels(LevelCritical), ChannelChat)
	assert.NotContains(t, DefaultChannels(LevelWarning), ChannelEmail)
	assert.Equal(t, []Channel{ChannelLog}, DefaultChannels(LevelInfo))
}
