package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
)

const (
	defaultLockTTL = 2 * time.Minute
	relayBuffer    = 128
	relayTimeout   = 3 * time.Second
)

// SubmissionLedger records results and answers whether one exists.
type SubmissionLedger interface {
	session.SubmissionSink
	HasSubmitted(ctx context.Context, userID int, examID uuid.UUID) (bool, error)
}

// ProgressKeeper stores snapshots and attempt start times.
type ProgressKeeper interface {
	session.ProgressSink
	session.AttemptTracker
}

// SessionOptions tune every controller the manager creates.
type SessionOptions struct {
	ViolationLimit   int
	AutosaveInterval time.Duration
	SubmitTimeout    time.Duration
	Monitor          session.MonitorConfig
	LockTTL          time.Duration
	NewTicker        session.TickerFunc
}

// SessionOptionsFromConfig maps application config to SessionOptions.
func SessionOptionsFromConfig(cfg *config.Config) SessionOptions {
	return SessionOptions{
		ViolationLimit:   cfg.ViolationLimit,
		AutosaveInterval: cfg.AutosaveInterval,
		SubmitTimeout:    cfg.SubmitTimeout,
		Monitor: session.MonitorConfig{
			RequireFullscreen: cfg.RequireFullscreen,
			RequireVisibility: true,
			BlockClipboard:    true,
			Debounce:          cfg.ViolationDebounce,
		},
	}
}

// Attempt is one open exam session bound to one client connection.
type Attempt struct {
	ID         string
	UserID     int
	ExamID     uuid.UUID
	Controller *session.Controller
	Monitor    *session.SignalMonitor

	takenOver   atomic.Bool
	started     bool
	relay       chan session.Event
	stop        chan struct{}
	releaseOnce sync.Once
}

// TakenOver reports whether a newer connection replaced this attempt.
func (a *Attempt) TakenOver() bool { return a.takenOver.Load() }

// Observe forwards a client signal to the attempt's monitor.
func (a *Attempt) Observe(sig session.Signal) {
	a.Monitor.Observe(sig)
}

// SessionManager owns every live attempt on this instance and enforces one
// active attempt per user.
type SessionManager struct {
	catalog     session.ExamCatalog
	progress    ProgressKeeper
	submissions SubmissionLedger
	codec       session.Codec
	lock        ActiveLock
	relay       SessionRelay
	metrics     *metrics.Metrics
	opts        SessionOptions
	log         zerolog.Logger

	mu     sync.Mutex
	active map[int]*Attempt
	wg     sync.WaitGroup
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(
	catalog session.ExamCatalog,
	progress ProgressKeeper,
	submissions SubmissionLedger,
	codec session.Codec,
	lock ActiveLock,
	relay SessionRelay,
	m *metrics.Metrics,
	opts SessionOptions,
	log zerolog.Logger,
) *SessionManager {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &SessionManager{
		catalog:     catalog,
		progress:    progress,
		submissions: submissions,
		codec:       codec,
		lock:        lock,
		relay:       relay,
		metrics:     m,
		opts:        opts,
		log:         log.With().Str("component", "session_manager").Logger(),
		active:      make(map[int]*Attempt),
	}
}

// Open starts a session for (userID, examID) in env. A session the user
// already has for the same exam is abandoned and replaced. When the exam
// cannot be loaded the returned attempt is already finished and err is a
// *session.LoadError.
func (m *SessionManager) Open(ctx context.Context, userID int, examID uuid.UUID, env session.Environment, notify session.Notifier) (*Attempt, error) {
	a := &Attempt{
		ID:      uuid.NewString(),
		UserID:  userID,
		ExamID:  examID,
		Monitor: session.NewSignalMonitor(m.opts.Monitor),
		relay:   make(chan session.Event, relayBuffer),
		stop:    make(chan struct{}),
	}

	a.Controller = session.New(session.Config{
		UserID:           userID,
		ExamID:           examID,
		ViolationLimit:   m.opts.ViolationLimit,
		AutosaveInterval: m.opts.AutosaveInterval,
		SubmitTimeout:    m.opts.SubmitTimeout,
		NewTicker:        m.opts.NewTicker,
	}, session.Deps{
		Catalog:     &unsubmittedCatalog{ExamCatalog: m.catalog, submissions: m.submissions, userID: userID},
		Progress:    m.progress,
		Submissions: m.submissions,
		Codec:       m.codec,
		Monitor:     a.Monitor,
		Attempts:    m.progress,
		Notify:      m.fanout(a, notify),
		Log:         m.log,
	})

	if err := m.lock.Acquire(ctx, userID, examID, a.ID, m.opts.LockTTL); err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.active[userID]
	m.active[userID] = a
	m.mu.Unlock()

	if prev != nil {
		prev.takenOver.Store(true)
		// Abandon flushes unsaved answers before the new controller restores.
		if err := prev.Controller.Abandon(); err != nil && !errors.Is(err, session.ErrSessionEnded) {
			m.log.Warn().Err(err).Int("user_id", userID).Msg("Abandon replaced attempt failed")
		}
	}
	m.metrics.SessionsOpened.WithLabelValues(strconv.FormatBool(prev != nil)).Inc()

	m.wg.Add(1)
	go m.runRelay(a)

	if err := a.Controller.Start(ctx, env); err != nil {
		var lerr *session.LoadError
		if errors.As(err, &lerr) {
			m.metrics.LoadFailures.WithLabelValues(string(lerr.Reason)).Inc()
		}
		m.release(a)
		return a, err
	}

	a.started = true
	m.metrics.ActiveSessions.Inc()
	m.wg.Add(1)
	go m.watch(a)
	return a, nil
}

// Close abandons the attempt. Safe to call on a finished attempt.
func (m *SessionManager) Close(a *Attempt) {
	if a == nil || a.Controller == nil {
		return
	}
	if err := a.Controller.Abandon(); err != nil && !errors.Is(err, session.ErrSessionEnded) {
		m.log.Warn().Err(err).Int("user_id", a.UserID).Msg("Abandon failed")
	}
}

// Active returns the live attempt of a user on this instance, if any.
func (m *SessionManager) Active(userID int) (*Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[userID]
	return a, ok
}

// Count returns the number of live attempts on this instance.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown abandons every live attempt and waits for their cleanup.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	attempts := make([]*Attempt, 0, len(m.active))
	for _, a := range m.active {
		attempts = append(attempts, a)
	}
	m.mu.Unlock()

	for _, a := range attempts {
		m.Close(a)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Int("sessions", len(attempts)).Msg("All sessions closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session shutdown: %w", ctx.Err())
	}
}

// watch keeps the active lock alive until the controller finishes.
func (m *SessionManager) watch(a *Attempt) {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.LockTTL / 3)
	defer t.Stop()

	for {
		select {
		case <-a.Controller.Done():
			m.release(a)
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
			held, err := m.lock.Refresh(ctx, a.UserID, a.ExamID, a.ID, m.opts.LockTTL)
			cancel()
			if err != nil {
				m.log.Warn().Err(err).Int("user_id", a.UserID).Msg("Active lock refresh failed")
			} else if !held && !a.TakenOver() {
				m.log.Warn().Int("user_id", a.UserID).Msg("Active lock lost")
			}
		}
	}
}

func (m *SessionManager) release(a *Attempt) {
	a.releaseOnce.Do(func() {
		m.mu.Lock()
		if m.active[a.UserID] == a {
			delete(m.active, a.UserID)
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		if err := m.lock.Release(ctx, a.UserID, a.ExamID, a.ID); err != nil {
			m.log.Warn().Err(err).Int("user_id", a.UserID).Msg("Active lock release failed")
		}
		if a.started {
			m.metrics.ActiveSessions.Dec()
		}
		close(a.stop)
	})
}

// ─── Event fan-out ────────────────────────────────────────────────

// fanout runs on the controller goroutine. Client delivery is synchronous;
// everything else is handed to the relay goroutine.
func (m *SessionManager) fanout(a *Attempt, notify session.Notifier) session.Notifier {
	return func(ev session.Event) {
		switch ev.Type {
		case session.EventViolation:
			if ev.Violation != nil {
				m.metrics.Violations.WithLabelValues(string(ev.Violation.Kind)).Inc()
			}
		case session.EventSubmitFailed:
			m.metrics.SubmitFailures.Inc()
		case session.EventCompleted:
			m.metrics.Submissions.WithLabelValues(string(ev.State.SubmitReason)).Inc()
			if ev.State.Score != nil {
				m.metrics.Scores.Observe(float64(*ev.State.Score))
			}
		}

		if ev.Type != session.EventTick {
			select {
			case a.relay <- ev:
			default:
				m.log.Warn().Int("user_id", a.UserID).Str("event", string(ev.Type)).Msg("Relay buffer full, dropping event")
			}
		}

		if notify != nil {
			notify(ev)
		}
	}
}

func (m *SessionManager) runRelay(a *Attempt) {
	defer m.wg.Done()
	for {
		select {
		case ev := <-a.relay:
			m.forward(a, ev)
		case <-a.stop:
			for {
				select {
				case ev := <-a.relay:
					m.forward(a, ev)
				default:
					return
				}
			}
		}
	}
}

func (m *SessionManager) forward(a *Attempt, ev session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	if ev.Type == session.EventViolation && ev.Violation != nil {
		rec := model.ViolationRecord{
			UserID:     a.UserID,
			ExamID:     a.ExamID,
			Kind:       string(ev.Violation.Kind),
			Count:      ev.State.Violations,
			RecordedAt: ev.Violation.At,
		}
		if err := m.relay.EnqueueViolation(ctx, rec); err != nil {
			m.log.Error().Err(err).Int("user_id", a.UserID).Msg("Violation enqueue failed")
		}
	}

	if err := m.relay.PublishMonitor(ctx, monitorEvent(ev)); err != nil {
		m.log.Warn().Err(err).Int("user_id", a.UserID).Msg("Monitor publish failed")
	}
}

func monitorEvent(ev session.Event) model.MonitorEvent {
	s := ev.State
	me := model.MonitorEvent{
		Type:          string(ev.Type),
		UserID:        s.UserID,
		ExamID:        s.ExamID.String(),
		Phase:         string(s.Phase),
		Answered:      s.Answered,
		QuestionCount: s.QuestionCount,
		Remaining:     s.Remaining,
		Violations:    s.Violations,
		Score:         s.Score,
		At:            time.Now().UnixMilli(),
	}
	if ev.Violation != nil {
		me.Violation = string(ev.Violation.Kind)
	}
	return me
}

// unsubmittedCatalog refuses exams the user already has a result for.
type unsubmittedCatalog struct {
	session.ExamCatalog
	submissions SubmissionLedger
	userID      int
}

func (c *unsubmittedCatalog) FetchActiveExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := c.ExamCatalog.FetchActiveExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	done, err := c.submissions.HasSubmitted(ctx, c.userID, examID)
	if err != nil {
		return nil, fmt.Errorf("check submission: %w", err)
	}
	if done {
		return nil, session.ErrAlreadySubmitted
	}
	return exam, nil
}
