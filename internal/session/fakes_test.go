package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Tickers ──────────────────────────────────────────────────────

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

// tickers hands out one manual ticker per interval so a test can drive the
// clock (1s) and autosave tickers independently.
type tickers struct {
	mu sync.Mutex
	m  map[time.Duration]*manualTicker
}

func newTickers() *tickers {
	return &tickers{m: make(map[time.Duration]*manualTicker)}
}

func (ts *tickers) New(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	ts.m[d] = t
	return t
}

func (ts *tickers) get(t *testing.T, d time.Duration) *manualTicker {
	t.Helper()
	var mt *manualTicker
	require.Eventually(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		mt = ts.m[d]
		return mt != nil
	}, time.Second, time.Millisecond)
	return mt
}

// fire delivers one tick and returns once the receiving goroutine took it.
func (mt *manualTicker) fire(t *testing.T) {
	t.Helper()
	select {
	case mt.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("ticker not drained")
	}
}

// fireUntil keeps ticking until cond holds. Sends that nobody receives are
// dropped, so it is safe across the receiver shutting down.
func (mt *manualTicker) fireUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		select {
		case mt.ch <- time.Now():
		case <-time.After(20 * time.Millisecond):
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ─── Collaborators ────────────────────────────────────────────────

type fakeCatalog struct {
	exam      *model.Exam
	questions []model.Question
	examErr   error
	qErr      error
}

func (f *fakeCatalog) FetchActiveExam(_ context.Context, _ uuid.UUID) (*model.Exam, error) {
	if f.examErr != nil {
		return nil, f.examErr
	}
	return f.exam, nil
}

func (f *fakeCatalog) FetchQuestions(_ context.Context, _ uuid.UUID) ([]model.Question, error) {
	if f.qErr != nil {
		return nil, f.qErr
	}
	return f.questions, nil
}

type fakeProgress struct {
	mu        sync.Mutex
	data      map[string]string
	upsertErr error
	getErr    error
	upserts   int
	deletes   int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{data: make(map[string]string)}
}

func progressKey(userID int, examID uuid.UUID) string {
	return fmt.Sprintf("%d/%s", userID, examID)
}

func (f *fakeProgress) Get(_ context.Context, userID int, examID uuid.UUID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	s, ok := f.data[progressKey(userID, examID)]
	return s, ok, nil
}

func (f *fakeProgress) Upsert(_ context.Context, userID int, examID uuid.UUID, snapshot string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.data[progressKey(userID, examID)] = snapshot
	return nil
}

func (f *fakeProgress) Delete(_ context.Context, userID int, examID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.data, progressKey(userID, examID))
	return nil
}

func (f *fakeProgress) stats() (upserts, deletes, stored int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts, f.deletes, len(f.data)
}

func (f *fakeProgress) setUpsertErr(err error) {
	f.mu.Lock()
	f.upsertErr = err
	f.mu.Unlock()
}

type fakeSubmissions struct {
	mu       sync.Mutex
	failures int
	calls    int
	inserted []model.Submission
}

func (f *fakeSubmissions) Insert(_ context.Context, sub model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.inserted = append(f.inserted, sub)
	return nil
}

func (f *fakeSubmissions) all() []model.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Submission(nil), f.inserted...)
}

// jsonCodec stores snapshots in the clear; it rejects anything that does
// not start with its prefix.
type jsonCodec struct{}

func (jsonCodec) Seal(m AnswerMap) (string, error) {
	b, err := json.Marshal(m)
	return "plain:" + string(b), err
}

func (jsonCodec) Open(s string) (AnswerMap, error) {
	const prefix = "plain:"
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return nil, errors.New("undecryptable")
	}
	var m AnswerMap
	if err := json.Unmarshal([]byte(s[len(prefix):]), &m); err != nil {
		return nil, err
	}
	return m, nil
}

type fakeEnv struct {
	requests atomic.Int32
	exits    atomic.Int32
}

func (e *fakeEnv) RequestFullscreen() error { e.requests.Add(1); return nil }
func (e *fakeEnv) ExitFullscreen() error    { e.exits.Add(1); return nil }

// memAttempts keeps the first start it sees and the pause time added to it.
type memAttempts struct {
	mu        sync.Mutex
	startedAt time.Time
	paused    time.Duration
	cleared   atomic.Int32
}

func (a *memAttempts) MarkStarted(_ context.Context, _ int, _ uuid.UUID, at time.Time) (AttemptTiming, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startedAt.IsZero() {
		a.startedAt = at
	}
	return AttemptTiming{StartedAt: a.startedAt, Paused: a.paused}, nil
}

func (a *memAttempts) AddPaused(_ context.Context, _ int, _ uuid.UUID, d time.Duration) error {
	a.mu.Lock()
	a.paused += d
	a.mu.Unlock()
	return nil
}

func (a *memAttempts) Clear(_ context.Context, _ int, _ uuid.UUID) error {
	a.cleared.Add(1)
	return nil
}

func (a *memAttempts) pausedFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// manualNow is a settable wall clock.
type manualNow struct {
	mu sync.Mutex
	t  time.Time
}

func (n *manualNow) Now() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.t
}

func (n *manualNow) advance(d time.Duration) {
	n.mu.Lock()
	n.t = n.t.Add(d)
	n.mu.Unlock()
}

// ─── Harness ──────────────────────────────────────────────────────

type harness struct {
	ctrl     *Controller
	tickers  *tickers
	catalog  *fakeCatalog
	progress *fakeProgress
	subs     *fakeSubmissions
	monitor  *SignalMonitor
	env      *fakeEnv
	attempts *memAttempts

	evMu   sync.Mutex
	events []Event
}

const testAutosave = 30 * time.Second

// twoQuestionExam has correct answers [1, 0].
func twoQuestionExam() *fakeCatalog {
	examID := uuid.New()
	return &fakeCatalog{
		exam: &model.Exam{ID: examID, Title: "Physics", DurationMinutes: 10, IsActive: true},
		questions: []model.Question{
			{ExamID: examID, Number: 1, Text: "Q1", Options: []string{"a", "b", "c"}, CorrectAnswer: 1},
			{ExamID: examID, Number: 2, Text: "Q2", Options: []string{"a", "b"}, CorrectAnswer: 0},
		},
	}
}

func newHarness(catalog *fakeCatalog) *harness {
	h := &harness{
		tickers:  newTickers(),
		catalog:  catalog,
		progress: newFakeProgress(),
		subs:     &fakeSubmissions{},
		env:      &fakeEnv{},
	}
	cfg := DefaultMonitorConfig()
	cfg.Debounce = 0
	h.monitor = NewSignalMonitor(cfg)

	examID := uuid.Nil
	if catalog.exam != nil {
		examID = catalog.exam.ID
	}
	h.ctrl = New(Config{
		UserID:           7,
		ExamID:           examID,
		AutosaveInterval: testAutosave,
		SubmitTimeout:    time.Second,
		PersistTimeout:   time.Second,
		NewTicker:        h.tickers.New,
	}, Deps{
		Catalog:     catalog,
		Progress:    h.progress,
		Submissions: h.subs,
		Codec:       jsonCodec{},
		Monitor:     h.monitor,
		Notify:      h.record,
		Log:         zerolog.Nop(),
	})
	return h
}

func (h *harness) withAttempts(startedAt time.Time) *harness {
	return h.withTracker(&memAttempts{startedAt: startedAt})
}

func (h *harness) withTracker(a *memAttempts) *harness {
	h.attempts = a
	h.ctrl.deps.Attempts = a
	return h
}

func (h *harness) withNow(n *manualNow) *harness {
	h.ctrl.cfg.Now = n.Now
	return h
}

func (h *harness) record(ev Event) {
	h.evMu.Lock()
	h.events = append(h.events, ev)
	h.evMu.Unlock()
}

func (h *harness) sawEvent(typ EventType) bool {
	h.evMu.Lock()
	defer h.evMu.Unlock()
	for _, ev := range h.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background(), h.env))
	t.Cleanup(func() { _ = h.ctrl.Abandon() })
}

func (h *harness) waitPhase(t *testing.T, phase Phase) State {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State().Phase == phase }, 2*time.Second, time.Millisecond,
		"phase never became %s (now %s)", phase, h.ctrl.State().Phase)
	return h.ctrl.State()
}

func (h *harness) waitState(t *testing.T, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.ctrl.State()) }, 2*time.Second, time.Millisecond)
	return h.ctrl.State()
}
