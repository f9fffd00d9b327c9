package session

import (
	"sync"
	"time"
)

// ViolationKind names the integrity rule that was broken.
type ViolationKind string

const (
	ViolationFullscreen ViolationKind = "fullscreen"
	ViolationTab        ViolationKind = "tab"
	ViolationCopy       ViolationKind = "copy"
	ViolationPaste      ViolationKind = "paste"
)

// Violation is one integrity breach reported by a Monitor.
type Violation struct {
	Kind ViolationKind `json:"kind"`
	At   time.Time     `json:"at"`
}

// Signal is an environment change observed by the client.
type Signal string

const (
	SignalFullscreenEnter   Signal = "fullscreen_enter"
	SignalFullscreenExit    Signal = "fullscreen_exit"
	SignalVisibilityHidden  Signal = "visibility_hidden"
	SignalVisibilityVisible Signal = "visibility_visible"
	SignalCopy              Signal = "copy"
	SignalCut               Signal = "cut"
	SignalPaste             Signal = "paste"
)

// Environment is the container the session runs in. The WebSocket
// connection implements it by forwarding commands to the browser.
type Environment interface {
	RequestFullscreen() error
	ExitFullscreen() error
}

// Monitor watches the environment for integrity violations. It forwards
// every violation to the callback and keeps no count of its own.
type Monitor interface {
	Arm(env Environment, onViolation func(Violation)) error
	Disarm()
	Fullscreen() bool
}

// MonitorConfig switches the individual integrity rules.
type MonitorConfig struct {
	RequireFullscreen bool
	RequireVisibility bool
	BlockClipboard    bool
	// Debounce drops a violation reported within this window of the previous
	// one. Zero disables debouncing.
	Debounce time.Duration
}

// DefaultMonitorConfig enables every rule with a one second debounce.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		RequireFullscreen: true,
		RequireVisibility: true,
		BlockClipboard:    true,
		Debounce:          time.Second,
	}
}

// SignalMonitor turns client-reported signals into violations.
type SignalMonitor struct {
	cfg MonitorConfig
	now func() time.Time

	mu          sync.Mutex
	armed       bool
	env         Environment
	onViolation func(Violation)
	fullscreen  bool
	last        time.Time
}

// NewSignalMonitor creates a disarmed monitor.
func NewSignalMonitor(cfg MonitorConfig) *SignalMonitor {
	return &SignalMonitor{cfg: cfg, now: time.Now}
}

// Arm starts watching and, when fullscreen is required, asks the environment
// to enter fullscreen.
func (m *SignalMonitor) Arm(env Environment, onViolation func(Violation)) error {
	m.mu.Lock()
	if m.armed {
		m.mu.Unlock()
		return ErrMonitorArmed
	}
	m.armed = true
	m.env = env
	m.onViolation = onViolation
	m.last = time.Time{}
	m.mu.Unlock()

	if m.cfg.RequireFullscreen && env != nil {
		return env.RequestFullscreen()
	}
	return nil
}

// Disarm stops reporting. Signals observed afterwards are ignored.
func (m *SignalMonitor) Disarm() {
	m.mu.Lock()
	m.armed = false
	m.onViolation = nil
	m.mu.Unlock()
}

// Fullscreen reports the last known fullscreen state of the client.
func (m *SignalMonitor) Fullscreen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullscreen
}

// Observe feeds one client signal into the monitor. It returns the violation
// that was reported, if any.
func (m *SignalMonitor) Observe(sig Signal) (Violation, bool) {
	m.mu.Lock()

	var kind ViolationKind
	switch sig {
	case SignalFullscreenEnter:
		m.fullscreen = true
	case SignalFullscreenExit:
		wasFullscreen := m.fullscreen
		m.fullscreen = false
		if m.cfg.RequireFullscreen && wasFullscreen {
			kind = ViolationFullscreen
		}
	case SignalVisibilityHidden:
		if m.cfg.RequireVisibility {
			kind = ViolationTab
		}
	case SignalCopy, SignalCut:
		if m.cfg.BlockClipboard {
			kind = ViolationCopy
		}
	case SignalPaste:
		if m.cfg.BlockClipboard {
			kind = ViolationPaste
		}
	}

	if kind == "" || !m.armed || m.onViolation == nil {
		m.mu.Unlock()
		return Violation{}, false
	}

	now := m.now()
	if m.cfg.Debounce > 0 && !m.last.IsZero() && now.Sub(m.last) < m.cfg.Debounce {
		m.mu.Unlock()
		return Violation{}, false
	}
	m.last = now

	v := Violation{Kind: kind, At: now}
	report := m.onViolation
	m.mu.Unlock()

	report(v)
	return v, true
}
