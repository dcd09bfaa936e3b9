package bundle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/monitoring"
)

// Event names broadcast to every page client.
const (
	EventDisconnected       = "disconnected"
	EventReconnecting       = "reconnecting"
	EventReconnected        = "reconnected"
	EventReconnectionFailed = "reconnectionFailed"
	EventReady              = "ready"
	EventNeedsReinit        = "needsReinit"
)

// Event is an unsolicited lifecycle notification. It carries no request id.
type Event struct {
	Type             string `json:"type"`
	LauncherBundleID string `json:"launcherBundleId,omitempty"`
	Attempt          int    `json:"attempt,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Broadcaster delivers lifecycle events to all connected clients.
type Broadcaster interface {
	Broadcast(message any)
}

// MonitorConfig tunes the health check and reconnect loop.
type MonitorConfig struct {
	Interval    time.Duration
	SettleDelay time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	// ContinuousRetry keeps retrying past MaxAttempts by resetting the
	// counter. When false the monitor broadcasts reconnectionFailed and
	// stops.
	ContinuousRetry bool
	// SyncWait bounds the wait for one remote-origin change on the root
	// directory after a reconnect, before listings are trusted again.
	SyncWait time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.SyncWait <= 0 {
		c.SyncWait = time.Second
	}
	return c
}

// Backoff returns the delay before reconnect attempt n:
// min(base * 2^(n-1), cap).
func Backoff(cfg MonitorConfig, attempt int) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.BackoffCap || delay <= 0 {
			return cfg.BackoffCap
		}
	}
	if delay > cfg.BackoffCap {
		return cfg.BackoffCap
	}
	return delay
}

// Monitor runs the per-bundle connection health loop.
type Monitor struct {
	reg     *Registry
	cfg     MonitorConfig
	events  Broadcaster
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewMonitor creates a connection monitor. metrics may be nil.
func NewMonitor(reg *Registry, cfg MonitorConfig, events Broadcaster, metrics *monitoring.Metrics, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		reg:     reg,
		cfg:     cfg.withDefaults(),
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the health loop for one bundle and returns its stop handle.
// The handle is idempotent.
func (m *Monitor) Start(launcherBundleID, wsURL string) (stop func()) {
	stopCh := make(chan struct{})
	go m.run(launcherBundleID, wsURL, stopCh)
	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
	}
}

// run polls connection health at a fixed interval. Every tick re-reads
// registry state and exits quietly when the bundle is gone or no longer
// active.
func (m *Monitor) run(id, wsURL string, stopCh <-chan struct{}) {
	log := m.logger.WithBundle(id)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		st, err := m.reg.GetStore(id)
		if err != nil {
			return
		}
		if st.IsConnected() {
			m.reg.MarkHealthy(id, true)
			continue
		}

		changed, ok := m.reg.MarkHealthy(id, false)
		if !ok {
			return
		}
		if changed {
			log.Warn("sync connection lost")
			if m.metrics != nil {
				m.metrics.Disconnects.Inc()
			}
			m.events.Broadcast(Event{Type: EventDisconnected, LauncherBundleID: id})
		}
		if !m.reconnect(id, wsURL, stopCh) {
			return
		}
	}
}

// reconnect drives the backoff loop until the connection is back, the bundle
// goes away, the monitor is stopped, or bounded retries are exhausted. It
// reports whether the health loop should keep running.
func (m *Monitor) reconnect(id, wsURL string, stopCh <-chan struct{}) bool {
	log := m.logger.WithBundle(id)
	for {
		select {
		case <-stopCh:
			return false
		default:
		}

		st, err := m.reg.GetStore(id)
		if err != nil {
			return false
		}
		attempt, ok := m.reg.ReconnectAttempt(id)
		if !ok {
			return false
		}
		if attempt > m.cfg.MaxAttempts {
			if !m.cfg.ContinuousRetry {
				log.Error("reconnect attempts exhausted", zap.Int("attempts", m.cfg.MaxAttempts))
				m.events.Broadcast(Event{Type: EventReconnectionFailed, LauncherBundleID: id})
				return false
			}
			m.reg.ResetReconnectAttempts(id)
			attempt, ok = m.reg.ReconnectAttempt(id)
			if !ok {
				return false
			}
		}

		m.events.Broadcast(Event{Type: EventReconnecting, LauncherBundleID: id, Attempt: attempt})
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackoffCap)
		dialErr := st.ConnectWebsocket(ctx, wsURL)
		cancel()

		if !m.sleep(m.cfg.SettleDelay, stopCh) {
			return false
		}

		if dialErr == nil && st.IsConnected() {
			m.reg.ResetReconnectAttempts(id)
			m.reg.MarkHealthy(id, true)
			// Re-synchronize the path index before declaring the
			// reconnect complete; serving listings before the peer
			// has replayed its changes would show stale data.
			awaitRemoteRoot(st, m.cfg.SyncWait, stopCh)
			if m.metrics != nil {
				m.metrics.ReconnectSuccess.Inc()
			}
			log.Info("sync connection restored", zap.Int("attempt", attempt))
			m.events.Broadcast(Event{Type: EventReconnected, LauncherBundleID: id})
			return true
		}

		if m.metrics != nil {
			m.metrics.ReconnectFailure.Inc()
		}
		if dialErr != nil {
			log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(dialErr))
		}
		if !m.sleep(Backoff(m.cfg, attempt), stopCh) {
			return false
		}
	}
}

func (m *Monitor) sleep(d time.Duration, stopCh <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

// awaitRemoteRoot waits, bounded, for one remote-origin change anywhere in
// the bundle. A quiet window is indistinguishable from "already current", so
// expiry is not an error; the timeout is the tunable SyncWait.
func awaitRemoteRoot(st store.Store, timeout time.Duration, stopCh <-chan struct{}) bool {
	arrived := make(chan struct{}, 1)
	watch, err := st.WatchDirectory("/", func(ch store.Change) {
		if ch.Origin != store.OriginRemote {
			return
		}
		select {
		case arrived <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return false
	}
	defer watch.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-arrived:
		return true
	case <-timer.C:
		return false
	case <-stopCh:
		return false
	}
}
