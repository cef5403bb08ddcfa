// security/dispatcher.go
// Purpose: Alert dispatch with suppression. Duplicate alerts sharing a
// (category, level, source IP) signature are dropped for a level-dependent
// window; surviving alerts fan out to their channels concurrently with
// per-channel error isolation.

package security

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carebot/secore/storage"
)

const suppressionKeyPrefix = "alert_suppression:"

// DispatcherConfig configures the alert dispatcher.
type DispatcherConfig struct {
	Store    storage.CounterStore
	Channels []AlertChannel

	// ChannelTimeout bounds each channel send. Default 5s; a timed-out
	// channel is abandoned without affecting the others.
	ChannelTimeout time.Duration
	EnableLogging  bool
}

// DispatcherStats tracks dispatch outcomes.
type DispatcherStats struct {
	Dispatched      int64 `json:"dispatched"`
	Suppressed      int64 `json:"suppressed"`
	ChannelFailures int64 `json:"channel_failures"`
}

// Dispatcher routes alerts to their channels.
type Dispatcher struct {
	store    storage.CounterStore
	channels map[Channel]AlertChannel
	timeout  time.Duration
	logging  bool

	dispatched      atomic.Int64
	suppressed      atomic.Int64
	channelFailures atomic.Int64
}

// NewDispatcher creates a dispatcher with the given channel handlers.
// Channels without a handler (or with a disabled one) are skipped at
// dispatch time.
func NewDispatcher(config *DispatcherConfig) *Dispatcher {
	if config == nil {
		config = &DispatcherConfig{}
	}

	timeout := config.ChannelTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	channels := make(map[Channel]AlertChannel, len(config.Channels))
	for _, ch := range config.Channels {
		channels[ch.Name()] = ch
	}

	return &Dispatcher{
		store:    config.Store,
		channels: channels,
		timeout:  timeout,
		logging:  config.EnableLogging,
	}
}

// Process dispatches one alert, honoring suppression. It never returns an
// error; channel failures are logged and counted only.
func (d *Dispatcher) Process(ctx context.Context, alert *Alert) {
	if d.isSuppressed(ctx, alert) {
		d.suppressed.Add(1)
		if d.logging {
			log.Printf("[ALERT] suppressed duplicate %s/%s from %s",
				alert.Category, alert.Level, alert.SourceIP)
		}
		return
	}

	d.fanOut(ctx, alert)
	d.dispatched.Add(1)

	// The marker is recorded even when every channel failed: a sustained
	// failure must not turn into an alert storm once channels recover.
	d.recordSuppression(ctx, alert)
}

func suppressionKey(alert *Alert) string {
	return suppressionKeyPrefix + alert.Category + ":" + alert.Level.String() + ":" + alert.SourceIP
}

func (d *Dispatcher) isSuppressed(ctx context.Context, alert *Alert) bool {
	if d.store == nil {
		return false
	}

	_, _, err := d.store.GetMarker(ctx, suppressionKey(alert))
	if err == nil {
		return true
	}
	if !errors.Is(err, storage.ErrKeyNotFound) && d.logging {
		log.Printf("[ALERT] suppression lookup failed, dispatching anyway: %v", err)
	}
	return false
}

func (d *Dispatcher) recordSuppression(ctx context.Context, alert *Alert) {
	if d.store == nil {
		return
	}

	duration := SuppressionDuration(alert.Level)
	if err := d.store.SetMarker(ctx, suppressionKey(alert), alert.ID, duration); err != nil && d.logging {
		log.Printf("[ALERT] failed to record suppression marker: %v", err)
	}
}

// fanOut launches every channel send together and waits at most the channel
// timeout for each. A send still running at the deadline is abandoned, not
// awaited: one hung transport must never stall dispatch (or the suppression
// marker that follows it) for the others.
func (d *Dispatcher) fanOut(ctx context.Context, alert *Alert) {
	base := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for _, name := range alert.Channels {
		handler, ok := d.channels[name]
		if !ok || !handler.Enabled() {
			if d.logging {
				log.Printf("[ALERT] no handler for channel %q, skipping", name)
			}
			continue
		}

		wg.Add(1)
		go func(handler AlertChannel) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			// Buffered so the abandoned send can finish without leaking.
			errCh := make(chan error, 1)
			go func() {
				errCh <- handler.Send(sendCtx, alert)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					d.channelFailures.Add(1)
					log.Printf("[ALERT] channel %s delivery failed for %s: %v",
						handler.Name(), alert.ID, err)
				}
			case <-sendCtx.Done():
				d.channelFailures.Add(1)
				log.Printf("[ALERT] channel %s timed out for %s, abandoning send",
					handler.Name(), alert.ID)
			}
		}(handler)
	}

	wg.Wait()
}

// GetStats returns a snapshot of dispatch counters.
func (d *Dispatcher) GetStats() DispatcherStats {
	return DispatcherStats{
		Dispatched:      d.dispatched.Load(),
		Suppressed:      d.suppressed.Load(),
		ChannelFailures: d.channelFailures.Load(),
	}
}
