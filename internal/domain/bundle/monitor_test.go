package bundle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

func fastMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:    5 * time.Millisecond,
		SettleDelay: time.Millisecond,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		MaxAttempts: 3,
		SyncWait:    5 * time.Millisecond,
	}
}

// TestBackoffSchedule tests the exponential delay with its cap.
func TestBackoffSchedule(t *testing.T) {
	cfg := MonitorConfig{BackoffBase: time.Second, BackoffCap: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
		{0, time.Second}, // clamped to the first attempt
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

// TestMonitorReconnects tests the disconnect -> reconnecting -> reconnected
// event sequence with health restored.
func TestMonitorReconnects(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	fs.setConnected(true)
	reg.Set("b1", activeWithStore("b1", fs))

	sink := newEventSink()
	m := NewMonitor(reg, fastMonitorConfig(), sink, nil, nil)
	stop := m.Start("b1", "ws://peer")
	defer stop()

	fs.setConnected(false)
	ev := sink.await(t, EventDisconnected, time.Second)
	assert.Equal(t, "b1", ev.LauncherBundleID)

	ev = sink.await(t, EventReconnecting, time.Second)
	assert.Equal(t, 1, ev.Attempt)

	sink.await(t, EventReconnected, time.Second)
	assert.True(t, fs.IsConnected())
	assert.GreaterOrEqual(t, fs.dialCount(), 1)

	slug, err := reg.AppSlug("b1")
	assert.NoError(t, err)
	assert.NotEmpty(t, slug) // bundle still active and intact
}

// TestMonitorExhaustsBoundedRetries tests that with continuous retry off the
// monitor gives up after MaxAttempts and says so.
func TestMonitorExhaustsBoundedRetries(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	fs.setConnected(true)
	fs.setDialErr(errors.New("peer unreachable"))
	reg.Set("b1", activeWithStore("b1", fs))

	sink := newEventSink()
	m := NewMonitor(reg, fastMonitorConfig(), sink, nil, nil)
	stop := m.Start("b1", "ws://peer")
	defer stop()

	fs.setConnected(false)
	sink.await(t, EventDisconnected, time.Second)
	sink.await(t, EventReconnectionFailed, 2*time.Second)

	// Every attempt up to the bound was announced.
	assert.GreaterOrEqual(t, fs.dialCount(), 3)
}

// TestMonitorContinuousRetry tests that the attempt counter resets past the
// bound instead of giving up.
func TestMonitorContinuousRetry(t *testing.T) {
	cfg := fastMonitorConfig()
	cfg.ContinuousRetry = true

	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	fs.setConnected(true)
	fs.setDialErr(errors.New("peer unreachable"))
	reg.Set("b1", activeWithStore("b1", fs))

	sink := newEventSink()
	m := NewMonitor(reg, cfg, sink, nil, nil)
	stop := m.Start("b1", "ws://peer")
	defer stop()

	fs.setConnected(false)
	sink.await(t, EventDisconnected, time.Second)

	// Wait until the dial count proves we retried past MaxAttempts.
	deadline := time.Now().Add(2 * time.Second)
	for fs.dialCount() <= cfg.MaxAttempts {
		if time.Now().After(deadline) {
			t.Fatalf("only %d dials, wanted more than %d", fs.dialCount(), cfg.MaxAttempts)
		}
		time.Sleep(time.Millisecond)
	}

	// Recovery is still possible afterwards.
	fs.setDialErr(nil)
	sink.await(t, EventReconnected, 2*time.Second)
}

// TestMonitorExitsWhenBundleUnloads tests that the loop ends quietly when the
// registry entry goes away mid-cycle.
func TestMonitorExitsWhenBundleUnloads(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	fs.setConnected(true)
	reg.Set("b1", activeWithStore("b1", fs))

	sink := newEventSink()
	m := NewMonitor(reg, fastMonitorConfig(), sink, nil, nil)
	stop := m.Start("b1", "ws://peer")
	defer stop()

	reg.Remove("b1")
	fs.setConnected(false)

	// No disconnect event for a bundle that is gone.
	select {
	case ev := <-sink.ch:
		t.Fatalf("unexpected event %q after unload", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestMonitorStopIsIdempotent tests the stop handle contract.
func TestMonitorStopIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	fs.setConnected(true)
	reg.Set("b1", activeWithStore("b1", fs))

	m := NewMonitor(reg, fastMonitorConfig(), newEventSink(), nil, nil)
	stop := m.Start("b1", "ws://peer")
	stop()
	stop()
}
