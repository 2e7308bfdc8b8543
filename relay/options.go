package relay

import (
	"log"
	"time"
)

const (
	// DefaultChannel is the bus channel name used when none is given.
	DefaultChannel = "dnd-hybrid-channel"

	// DefaultProbeTimeout is how long the self-test waits for its own echo.
	DefaultProbeTimeout = 200 * time.Millisecond
)

// Option configures a Manager.
type Option func(*Manager)

// WithChannel sets the bus channel (session) name.
func WithChannel(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.channelName = name
		}
	}
}

// WithDebug enables debug logging.
func WithDebug(on bool) Option {
	return func(m *Manager) { m.debug = on }
}

// WithBus sets the broadcast transport. Without one the manager runs in
// relay-only mode.
func WithBus(b Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithOrigin sets the origin this window accepts direct messages from.
func WithOrigin(origin string) Option {
	return func(m *Manager) { m.origin = origin }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithProbeTimeout changes how long the bus self-test waits for its echo.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithObserver calls fn with every message this window accepts from another
// window, before target filtering and relaying. fn runs on the delivering
// goroutine.
func WithObserver(fn func(Message)) Option {
	return func(m *Manager) { m.observer = fn }
}
