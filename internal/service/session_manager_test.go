package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ────────────────────────────────────────────────────────

type stillTicker struct{ ch chan time.Time }

func (t stillTicker) C() <-chan time.Time { return t.ch }
func (t stillTicker) Stop()               {}

func newStillTicker(time.Duration) session.Ticker { return stillTicker{ch: make(chan time.Time)} }

type memCatalog struct {
	exams     map[uuid.UUID]*model.Exam
	questions []model.Question
}

func (c *memCatalog) FetchActiveExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := c.exams[id]
	if !ok {
		return nil, session.ErrExamNotFound
	}
	return e, nil
}

func (c *memCatalog) FetchQuestions(context.Context, uuid.UUID) ([]model.Question, error) {
	return c.questions, nil
}

type memProgress struct {
	mu   sync.Mutex
	data map[string]string
}

func (p *memProgress) key(userID int, examID uuid.UUID) string {
	return fmt.Sprintf("%d/%s", userID, examID)
}

func (p *memProgress) Get(_ context.Context, userID int, examID uuid.UUID) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.data[p.key(userID, examID)]
	return s, ok, nil
}

func (p *memProgress) Upsert(_ context.Context, userID int, examID uuid.UUID, s string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[p.key(userID, examID)] = s
	return nil
}

func (p *memProgress) Delete(_ context.Context, userID int, examID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, p.key(userID, examID))
	return nil
}

func (p *memProgress) MarkStarted(_ context.Context, _ int, _ uuid.UUID, at time.Time) (session.AttemptTiming, error) {
	return session.AttemptTiming{StartedAt: at}, nil
}

func (p *memProgress) AddPaused(context.Context, int, uuid.UUID, time.Duration) error { return nil }

func (p *memProgress) Clear(context.Context, int, uuid.UUID) error { return nil }

type memLedger struct {
	mu   sync.Mutex
	subs []model.Submission
	done map[uuid.UUID]bool
}

func (l *memLedger) Insert(_ context.Context, sub model.Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, sub)
	return nil
}

func (l *memLedger) HasSubmitted(_ context.Context, _ int, examID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[examID], nil
}

type memLock struct {
	mu    sync.Mutex
	slots map[int]string
}

func (l *memLock) Acquire(_ context.Context, userID int, examID uuid.UUID, attemptID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.slots[userID]
	if ok && cur[:36] != examID.String() {
		return ErrAnotherExamActive
	}
	l.slots[userID] = lockValue(examID, attemptID)
	return nil
}

func (l *memLock) Refresh(_ context.Context, userID int, examID uuid.UUID, attemptID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slots[userID] == lockValue(examID, attemptID), nil
}

func (l *memLock) Release(_ context.Context, userID int, examID uuid.UUID, attemptID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots[userID] == lockValue(examID, attemptID) {
		delete(l.slots, userID)
	}
	return nil
}

func (l *memLock) holder(userID int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.slots[userID]
	return v, ok
}

type memRelay struct {
	mu         sync.Mutex
	violations []model.ViolationRecord
	events     []model.MonitorEvent
}

func (r *memRelay) EnqueueViolation(_ context.Context, v model.ViolationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
	return nil
}

func (r *memRelay) PublishMonitor(_ context.Context, ev model.MonitorEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRelay) snapshot() ([]model.ViolationRecord, []model.MonitorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ViolationRecord(nil), r.violations...), append([]model.MonitorEvent(nil), r.events...)
}

type nopEnv struct{}

func (nopEnv) RequestFullscreen() error { return nil }
func (nopEnv) ExitFullscreen() error    { return nil }

// ─── Fixture ──────────────────────────────────────────────────────

type managerFixture struct {
	mgr     *SessionManager
	examID  uuid.UUID
	other   uuid.UUID
	ledger  *memLedger
	lock    *memLock
	relay   *memRelay
	metrics *metrics.Metrics
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	codec, err := snapshot.NewCodec("session-manager-test-secret")
	require.NoError(t, err)

	examID, other := uuid.New(), uuid.New()
	catalog := &memCatalog{
		exams: map[uuid.UUID]*model.Exam{
			examID: {ID: examID, Title: "Biology", DurationMinutes: 30, IsActive: true},
			other:  {ID: other, Title: "Chemistry", DurationMinutes: 30, IsActive: true},
		},
		questions: []model.Question{
			{Number: 1, Text: "Q1", Options: []string{"a", "b"}, CorrectAnswer: 0},
			{Number: 2, Text: "Q2", Options: []string{"a", "b"}, CorrectAnswer: 1},
		},
	}

	f := &managerFixture{
		examID:  examID,
		other:   other,
		ledger:  &memLedger{done: make(map[uuid.UUID]bool)},
		lock:    &memLock{slots: make(map[int]string)},
		relay:   &memRelay{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.mgr = NewSessionManager(
		catalog,
		&memProgress{data: make(map[string]string)},
		f.ledger,
		codec,
		f.lock,
		f.relay,
		f.metrics,
		SessionOptions{
			ViolationLimit:   3,
			AutosaveInterval: time.Hour,
			SubmitTimeout:    time.Second,
			Monitor: session.MonitorConfig{
				RequireVisibility: true,
				BlockClipboard:    true,
			},
			NewTicker: newStillTicker,
		},
		zerolog.Nop(),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.mgr.Shutdown(ctx)
	})
	return f
}

func (f *managerFixture) open(t *testing.T, userID int, examID uuid.UUID) *Attempt {
	t.Helper()
	a, err := f.mgr.Open(context.Background(), userID, examID, nopEnv{}, nil)
	require.NoError(t, err)
	return a
}

// ─── Tests ────────────────────────────────────────────────────────

func TestSessionManager_OpenAndClose(t *testing.T) {
	f := newManagerFixture(t)

	a := f.open(t, 1, f.examID)
	assert.Equal(t, session.PhaseRunning, a.Controller.State().Phase)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveSessions))

	holder, ok := f.lock.holder(1)
	require.True(t, ok)
	assert.Equal(t, lockValue(f.examID, a.ID), holder)

	active, ok := f.mgr.Active(1)
	require.True(t, ok)
	assert.Same(t, a, active)

	f.mgr.Close(a)
	require.Eventually(t, func() bool {
		_, held := f.lock.holder(1)
		_, live := f.mgr.Active(1)
		return !held && !live
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveSessions))
}

func TestSessionManager_ReopenTakesOver(t *testing.T) {
	f := newManagerFixture(t)

	first := f.open(t, 1, f.examID)
	require.NoError(t, first.Controller.SetAnswer(0, 1))

	second := f.open(t, 1, f.examID)
	assert.True(t, first.TakenOver())
	assert.False(t, second.TakenOver())

	select {
	case <-first.Controller.Done():
	case <-time.After(time.Second):
		t.Fatal("replaced attempt still running")
	}

	// The replaced attempt's answers were flushed and restored.
	assert.Equal(t, 1, second.Controller.State().Answered)

	active, ok := f.mgr.Active(1)
	require.True(t, ok)
	assert.Same(t, second, active)

	holder, _ := f.lock.holder(1)
	assert.Equal(t, lockValue(f.examID, second.ID), holder)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsOpened.WithLabelValues("true")))
}

func TestSessionManager_SecondExamRejected(t *testing.T) {
	f := newManagerFixture(t)
	f.open(t, 1, f.examID)

	a, err := f.mgr.Open(context.Background(), 1, f.other, nopEnv{}, nil)
	assert.ErrorIs(t, err, ErrAnotherExamActive)
	assert.Nil(t, a)

	// Other users are unaffected.
	f.open(t, 2, f.other)
}

func TestSessionManager_AlreadySubmitted(t *testing.T) {
	f := newManagerFixture(t)
	f.ledger.done[f.examID] = true

	a, err := f.mgr.Open(context.Background(), 1, f.examID, nopEnv{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrAlreadySubmitted)
	require.NotNil(t, a)
	assert.Equal(t, session.PhaseFailed, a.Controller.State().Phase)

	_, held := f.lock.holder(1)
	assert.False(t, held)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoadFailures.WithLabelValues(string(session.LoadReasonAlreadySubmitted))))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveSessions))
}

func TestSessionManager_RelaysViolations(t *testing.T) {
	f := newManagerFixture(t)
	a := f.open(t, 1, f.examID)

	a.Observe(session.SignalVisibilityHidden)

	require.Eventually(t, func() bool {
		v, _ := f.relay.snapshot()
		return len(v) == 1
	}, time.Second, time.Millisecond)

	violations, events := f.relay.snapshot()
	assert.Equal(t, 1, violations[0].UserID)
	assert.Equal(t, f.examID, violations[0].ExamID)
	assert.Equal(t, string(session.ViolationTab), violations[0].Kind)
	assert.Equal(t, 1, violations[0].Count)

	var sawViolation bool
	for _, ev := range events {
		assert.NotEqual(t, string(session.EventTick), ev.Type)
		if ev.Type == string(session.EventViolation) {
			sawViolation = true
			assert.Equal(t, string(session.ViolationTab), ev.Violation)
			assert.Equal(t, f.examID.String(), ev.ExamID)
		}
	}
	assert.True(t, sawViolation)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Violations.WithLabelValues(string(session.ViolationTab))))
}

func TestSessionManager_SubmitRecordsMetrics(t *testing.T) {
	f := newManagerFixture(t)
	a := f.open(t, 1, f.examID)

	require.NoError(t, a.Controller.SetAnswer(0, 0))
	require.NoError(t, a.Controller.SetAnswer(1, 1))
	require.NoError(t, a.Controller.RequestSubmit())
	require.NoError(t, a.Controller.ConfirmSubmit())

	select {
	case <-a.Controller.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("submission never completed")
	}

	require.Len(t, f.ledger.subs, 1)
	assert.Equal(t, 100, f.ledger.subs[0].Score)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(string(model.SubmitReasonManual))))
	require.Eventually(t, func() bool {
		_, held := f.lock.holder(1)
		return !held
	}, time.Second, time.Millisecond)
}

func TestSessionManager_Shutdown(t *testing.T) {
	f := newManagerFixture(t)
	a := f.open(t, 1, f.examID)
	b := f.open(t, 2, f.examID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.mgr.Shutdown(ctx))

	for _, at := range []*Attempt{a, b} {
		select {
		case <-at.Controller.Done():
		default:
			t.Fatalf("attempt %d still running after shutdown", at.UserID)
		}
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveSessions))
}
