package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type violationSink struct{ got []Violation }

func (s *violationSink) report(v Violation) { s.got = append(s.got, v) }

func armedMonitor(t *testing.T, cfg MonitorConfig) (*SignalMonitor, *violationSink, *fakeEnv, *time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	m := NewSignalMonitor(cfg)
	m.now = func() time.Time { return now }
	sink := &violationSink{}
	env := &fakeEnv{}
	require.NoError(t, m.Arm(env, sink.report))
	return m, sink, env, &now
}

func TestSignalMonitor_MapsSignals(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.Debounce = 0
	m, sink, env, _ := armedMonitor(t, cfg)
	assert.Equal(t, int32(1), env.requests.Load())

	m.Observe(SignalVisibilityHidden)
	m.Observe(SignalVisibilityVisible)
	m.Observe(SignalCopy)
	m.Observe(SignalCut)
	m.Observe(SignalPaste)

	kinds := make([]ViolationKind, 0, len(sink.got))
	for _, v := range sink.got {
		kinds = append(kinds, v.Kind)
	}
	assert.Equal(t, []ViolationKind{ViolationTab, ViolationCopy, ViolationCopy, ViolationPaste}, kinds)
}

func TestSignalMonitor_FullscreenExitNeedsPriorEnter(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.Debounce = 0
	m, sink, _, _ := armedMonitor(t, cfg)

	_, ok := m.Observe(SignalFullscreenExit)
	assert.False(t, ok)

	m.Observe(SignalFullscreenEnter)
	assert.True(t, m.Fullscreen())
	v, ok := m.Observe(SignalFullscreenExit)
	assert.True(t, ok)
	assert.Equal(t, ViolationFullscreen, v.Kind)
	assert.False(t, m.Fullscreen())
	assert.Len(t, sink.got, 1)
}

func TestSignalMonitor_Debounce(t *testing.T) {
	m, sink, _, now := armedMonitor(t, DefaultMonitorConfig())

	m.Observe(SignalVisibilityHidden)
	*now = now.Add(200 * time.Millisecond)
	_, ok := m.Observe(SignalCopy)
	assert.False(t, ok)

	*now = now.Add(time.Second)
	_, ok = m.Observe(SignalPaste)
	assert.True(t, ok)
	assert.Len(t, sink.got, 2)
}

func TestSignalMonitor_DisabledRules(t *testing.T) {
	m, sink, env, _ := armedMonitor(t, MonitorConfig{})
	assert.Zero(t, env.requests.Load())

	m.Observe(SignalVisibilityHidden)
	m.Observe(SignalPaste)
	m.Observe(SignalFullscreenEnter)
	m.Observe(SignalFullscreenExit)
	assert.Empty(t, sink.got)
}

func TestSignalMonitor_DisarmAndRearm(t *testing.T) {
	cfg := DefaultMonitorConfig()
	m, sink, env, _ := armedMonitor(t, cfg)
	assert.ErrorIs(t, m.Arm(env, sink.report), ErrMonitorArmed)

	m.Disarm()
	_, ok := m.Observe(SignalVisibilityHidden)
	assert.False(t, ok)

	require.NoError(t, m.Arm(env, sink.report))
	_, ok = m.Observe(SignalVisibilityHidden)
	assert.True(t, ok)
}
