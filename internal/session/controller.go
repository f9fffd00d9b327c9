package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	DefaultViolationLimit   = 3
	DefaultAutosaveInterval = 30 * time.Second
	DefaultSubmitTimeout    = 15 * time.Second
	DefaultPersistTimeout   = 10 * time.Second

	inboxSize = 64
)

// Config tunes one controller. Zero values fall back to the defaults above.
type Config struct {
	UserID int
	ExamID uuid.UUID

	ViolationLimit   int
	AutosaveInterval time.Duration
	SubmitTimeout    time.Duration
	PersistTimeout   time.Duration

	NewTicker TickerFunc
	Now       func() time.Time
}

func (c *Config) withDefaults() {
	if c.ViolationLimit <= 0 {
		c.ViolationLimit = DefaultViolationLimit
	}
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = DefaultAutosaveInterval
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.NewTicker == nil {
		c.NewTicker = NewRealTicker
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Deps are the controller's collaborators. Attempts and Notify are optional.
type Deps struct {
	Catalog     ExamCatalog
	Progress    ProgressSink
	Submissions SubmissionSink
	Codec       Codec
	Monitor     Monitor
	Attempts    AttemptTracker
	Notify      Notifier
	Log         zerolog.Logger
}

// ─── Loop messages ────────────────────────────────────────────────

type (
	tickMsg      struct{ remaining int }
	expireMsg    struct{}
	violationMsg struct{ v Violation }

	autosaveTickMsg struct{}
	autosaveDoneMsg struct {
		rev int
		err error
	}
	submitDoneMsg struct {
		attempt int
		err     error
	}

	answerMsg struct {
		index, option int
		current       bool
		reply         chan error
	}
	navigateMsg struct {
		op    navOp
		index int
		reply chan error
	}
	commandMsg struct {
		cmd   command
		reply chan error
	}
)

type navOp int

const (
	navGoto navOp = iota
	navNext
	navPrev
)

type command int

const (
	cmdRequestSubmit command = iota
	cmdConfirm
	cmdCancel
	cmdAcknowledge
	cmdRetry
	cmdAbandon
)

// Controller owns one exam attempt. All state transitions run on a single
// goroutine fed by the inbox; the clock, monitor and persistence goroutines
// only post messages to it.
type Controller struct {
	cfg   Config
	deps  Deps
	log   zerolog.Logger
	clock *Clock

	inbox    chan any
	done     chan struct{}
	doneOnce sync.Once
	started  atomic.Bool

	stateMu sync.RWMutex
	last    State

	// Owned by the loop goroutine after Start returns.
	env           Environment
	phase         Phase
	exam          *model.Exam
	questions     []model.Question
	answers       *AnswerStore
	current       int
	remaining     int
	violations    int
	lastViolation ViolationKind
	pausedAt      time.Time
	loadErr       *LoadError
	ended         bool

	rev      int
	savedRev int
	saving   bool

	autosaveStop     chan struct{}
	autosaveStopOnce sync.Once
	pauseWrites      sync.WaitGroup

	reason         model.SubmitReason
	frozen         AnswerMap
	pending        *model.Submission
	submitAttempts int
	submitInFlight bool
	submitErr      *SubmissionError
	score          *int
}

// New builds a controller in the Loading phase. Call Start to load the exam.
func New(cfg Config, deps Deps) *Controller {
	cfg.withDefaults()
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Log.With().Str("component", "session").Int("user_id", cfg.UserID).Str("exam_id", cfg.ExamID.String()).Logger(),
		clock: NewClock(cfg.NewTicker),
		inbox: make(chan any, inboxSize),
		done:  make(chan struct{}),
		phase: PhaseLoading,

		autosaveStop: make(chan struct{}),
	}
}

// Done is closed once the session reaches Completed, Failed or is abandoned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the latest published view.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	s := c.last
	s.Answers = s.Answers.Clone()
	return s
}

// ─── Lifecycle ────────────────────────────────────────────────────

// Start loads the exam, restores saved progress, arms the monitor and starts
// the clock and autosave. A LoadError leaves the session in Failed.
func (c *Controller) Start(ctx context.Context, env Environment) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.env = env
	c.publish(Event{Type: EventState})

	if lerr := c.load(ctx); lerr != nil {
		c.phase = PhaseFailed
		c.loadErr = lerr
		c.ended = true
		c.log.Warn().Err(lerr).Str("reason", string(lerr.Reason)).Msg("Session failed to load")
		c.publish(Event{Type: EventState, Err: lerr})
		c.finish()
		return lerr
	}

	c.remaining = c.exam.DurationSeconds()
	if c.deps.Attempts != nil {
		now := c.cfg.Now()
		timing, err := c.deps.Attempts.MarkStarted(ctx, c.cfg.UserID, c.cfg.ExamID, now)
		if err != nil {
			c.log.Warn().Err(&PersistenceError{Op: "mark_started", Err: err}).Msg("Could not record attempt start")
		} else if elapsed := int((now.Sub(timing.StartedAt) - timing.Paused) / time.Second); elapsed > 0 {
			c.remaining -= elapsed
		}
	}
	if c.remaining < 0 {
		c.remaining = 0
	}

	c.phase = PhaseRunning
	c.publish(Event{Type: EventState})
	c.log.Info().Int("questions", len(c.questions)).Int("remaining", c.remaining).Int("restored", c.answers.Answered()).Msg("Session started")

	// Violations reported before the loop runs wait in the inbox.
	if err := c.deps.Monitor.Arm(env, c.onViolation); err != nil {
		c.log.Warn().Err(err).Msg("Monitor arm incomplete")
	}

	remaining := c.remaining
	go c.loop()

	c.startAutosave()
	if remaining == 0 {
		c.post(expireMsg{})
	} else if err := c.clock.Start(remaining, c.onTick, c.onExpire); err != nil {
		return fmt.Errorf("start clock: %w", err)
	}
	return nil
}

func (c *Controller) load(ctx context.Context) *LoadError {
	exam, err := c.deps.Catalog.FetchActiveExam(ctx, c.cfg.ExamID)
	if err != nil {
		return classifyLoad(err)
	}
	if exam.DurationMinutes <= 0 {
		return &LoadError{Reason: LoadReasonInvalid, Err: fmt.Errorf("%w: duration %d", ErrInvalidDefinition, exam.DurationMinutes)}
	}

	questions, err := c.deps.Catalog.FetchQuestions(ctx, c.cfg.ExamID)
	if err != nil {
		return classifyLoad(err)
	}
	if len(questions) == 0 {
		return &LoadError{Reason: LoadReasonNoQuestions, Err: ErrNoQuestions}
	}
	for i := range questions {
		if !questions[i].Valid() {
			return &LoadError{Reason: LoadReasonInvalid, Err: fmt.Errorf("%w: question %d", ErrInvalidDefinition, i)}
		}
	}

	c.exam = exam
	c.questions = questions
	c.answers = NewAnswerStore(len(questions))
	c.restore(ctx)
	return nil
}

// restore seeds the answer store from a saved snapshot. Every failure here
// means "start fresh".
func (c *Controller) restore(ctx context.Context) {
	sealed, found, err := c.deps.Progress.Get(ctx, c.cfg.UserID, c.cfg.ExamID)
	if err != nil {
		c.log.Warn().Err(&PersistenceError{Op: "fetch", Err: err}).Msg("Saved progress unavailable")
		return
	}
	if !found {
		return
	}

	saved, err := c.deps.Codec.Open(sealed)
	if err != nil {
		c.log.Warn().Err(err).Msg("Saved progress unreadable, starting fresh")
		return
	}

	valid := make(AnswerMap, len(saved))
	for idx, opt := range saved {
		if idx >= 0 && idx < len(c.questions) && (opt < 0 || opt >= len(c.questions[idx].Options)) {
			continue
		}
		valid[idx] = opt
	}
	if dropped := c.answers.Restore(valid) + len(saved) - len(valid); dropped > 0 {
		c.log.Warn().Int("dropped", dropped).Msg("Discarded out-of-range saved answers")
	}
}

func (c *Controller) onTick(remaining int) { c.post(tickMsg{remaining: remaining}) }
func (c *Controller) onExpire()            { c.post(expireMsg{}) }
func (c *Controller) onViolation(v Violation) {
	c.post(violationMsg{v: v})
}

func (c *Controller) startAutosave() {
	t := c.cfg.NewTicker(c.cfg.AutosaveInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C():
				if !c.post(autosaveTickMsg{}) {
					return
				}
			case <-c.autosaveStop:
				return
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Controller) stopAutosave() {
	c.autosaveStopOnce.Do(func() { close(c.autosaveStop) })
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() {
		c.clock.Stop()
		c.stopAutosave()
		close(c.done)
	})
}

// ─── Public operations ────────────────────────────────────────────

// SetAnswer records option for question index. Allowed only while Running.
func (c *Controller) SetAnswer(index, option int) error {
	return c.call(func(reply chan error) any { return answerMsg{index: index, option: option, reply: reply} })
}

// SelectAnswer records option for the current question.
func (c *Controller) SelectAnswer(option int) error {
	return c.call(func(reply chan error) any { return answerMsg{option: option, current: true, reply: reply} })
}

// Goto moves to question index.
func (c *Controller) Goto(index int) error {
	return c.call(func(reply chan error) any { return navigateMsg{op: navGoto, index: index, reply: reply} })
}

// Next advances one question. On the last question it opens the review.
func (c *Controller) Next() error {
	return c.call(func(reply chan error) any { return navigateMsg{op: navNext, reply: reply} })
}

// Previous goes back one question.
func (c *Controller) Previous() error {
	return c.call(func(reply chan error) any { return navigateMsg{op: navPrev, reply: reply} })
}

// RequestSubmit opens the review prompt.
func (c *Controller) RequestSubmit() error { return c.command(cmdRequestSubmit) }

// ConfirmSubmit submits from the review prompt.
func (c *Controller) ConfirmSubmit() error { return c.command(cmdConfirm) }

// CancelSubmit closes the review prompt.
func (c *Controller) CancelSubmit() error { return c.command(cmdCancel) }

// Acknowledge dismisses the violation notice and resumes the clock.
func (c *Controller) Acknowledge() error { return c.command(cmdAcknowledge) }

// RetrySubmit repeats a failed submission with the frozen answers.
func (c *Controller) RetrySubmit() error { return c.command(cmdRetry) }

// Abandon tears the session down without submitting. Unsaved answers get a
// best-effort flush.
func (c *Controller) Abandon() error { return c.command(cmdAbandon) }

func (c *Controller) command(cmd command) error {
	return c.call(func(reply chan error) any { return commandMsg{cmd: cmd, reply: reply} })
}

func (c *Controller) post(msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) call(build func(reply chan error) any) error {
	if !c.started.Load() {
		return ErrWrongPhase
	}
	reply := make(chan error, 1)
	if !c.post(build(reply)) {
		return ErrSessionEnded
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionEnded
		}
	}
}

// ─── Loop ─────────────────────────────────────────────────────────

func (c *Controller) loop() {
	for {
		select {
		case msg := <-c.inbox:
			c.handle(msg)
			if c.ended {
				c.finish()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case tickMsg:
		if c.phase.active() {
			c.remaining = m.remaining
			c.publish(Event{Type: EventTick})
		}
	case expireMsg:
		if c.phase.active() {
			c.remaining = 0
			c.log.Info().Msg("Time expired")
			c.enterSubmitting(model.SubmitReasonTimeExpired)
		}
	case violationMsg:
		c.handleViolation(m.v)
	case autosaveTickMsg:
		c.autosave()
	case autosaveDoneMsg:
		c.saving = false
		if m.err != nil {
			c.log.Warn().Err(&PersistenceError{Op: "autosave", Err: m.err}).Msg("Autosave failed")
			return
		}
		if m.rev > c.savedRev {
			c.savedRev = m.rev
		}
		c.log.Debug().Int("rev", m.rev).Msg("Progress autosaved")
	case submitDoneMsg:
		c.handleSubmitDone(m)
	case answerMsg:
		index := m.index
		if m.current {
			index = c.current
		}
		m.reply <- c.handleAnswer(index, m.option)
	case navigateMsg:
		m.reply <- c.handleNavigate(m.op, m.index)
	case commandMsg:
		m.reply <- c.handleCommand(m.cmd)
	}
}

func (c *Controller) handleViolation(v Violation) {
	if !c.phase.active() {
		return
	}
	c.violations++
	c.lastViolation = v.Kind
	c.log.Warn().Str("kind", string(v.Kind)).Int("count", c.violations).Int("limit", c.cfg.ViolationLimit).Msg("Integrity violation")

	if c.violations >= c.cfg.ViolationLimit {
		c.publish(Event{Type: EventViolation, Violation: &v})
		c.enterSubmitting(model.SubmitReasonViolationLimit)
		return
	}

	c.phase = PhaseViolationPaused
	c.pausedAt = c.cfg.Now()
	c.clock.Pause()
	c.publish(Event{Type: EventViolation, Violation: &v})
}

func (c *Controller) handleAnswer(index, option int) error {
	if c.phase != PhaseRunning {
		return ErrWrongPhase
	}
	if index < 0 || index >= len(c.questions) {
		return ErrIndexOutOfRange
	}
	if option < 0 || option >= len(c.questions[index].Options) {
		return ErrOptionOutOfRange
	}
	if err := c.answers.Set(index, option); err != nil {
		return err
	}
	c.rev++
	c.publish(Event{Type: EventState})
	return nil
}

func (c *Controller) handleNavigate(op navOp, index int) error {
	if c.phase != PhaseRunning {
		return ErrWrongPhase
	}
	switch op {
	case navGoto:
		if index < 0 || index >= len(c.questions) {
			return ErrIndexOutOfRange
		}
		c.current = index
	case navNext:
		if c.current == len(c.questions)-1 {
			c.phase = PhaseReviewPending
			c.publish(Event{Type: EventReview})
			return nil
		}
		c.current++
	case navPrev:
		if c.current > 0 {
			c.current--
		}
	}
	c.publish(Event{Type: EventState})
	return nil
}

func (c *Controller) handleCommand(cmd command) error {
	switch cmd {
	case cmdRequestSubmit:
		switch c.phase {
		case PhaseRunning:
			c.phase = PhaseReviewPending
			c.publish(Event{Type: EventReview})
			return nil
		case PhaseReviewPending:
			return nil
		}
		return ErrWrongPhase

	case cmdConfirm:
		if c.phase != PhaseReviewPending {
			return ErrWrongPhase
		}
		c.enterSubmitting(model.SubmitReasonManual)
		return nil

	case cmdCancel:
		if c.phase != PhaseReviewPending {
			return ErrWrongPhase
		}
		c.phase = PhaseRunning
		c.publish(Event{Type: EventState})
		return nil

	case cmdAcknowledge:
		if c.phase != PhaseViolationPaused {
			return ErrWrongPhase
		}
		c.phase = PhaseRunning
		c.clock.Resume()
		c.recordPause()
		if c.lastViolation == ViolationFullscreen && !c.deps.Monitor.Fullscreen() && c.env != nil {
			if err := c.env.RequestFullscreen(); err != nil {
				c.log.Warn().Err(err).Msg("Fullscreen request failed")
			}
		}
		c.publish(Event{Type: EventState})
		return nil

	case cmdRetry:
		if c.phase != PhaseSubmitting || c.submitErr == nil || c.submitInFlight {
			return ErrNothingToRetry
		}
		c.log.Info().Int("attempt", c.submitAttempts+1).Msg("Retrying submission")
		c.attemptSubmit()
		c.publish(Event{Type: EventState})
		return nil

	case cmdAbandon:
		c.abandon()
		return nil
	}
	return ErrWrongPhase
}

// ─── Persistence ──────────────────────────────────────────────────

func (c *Controller) autosave() {
	if !c.phase.active() || c.saving || c.rev == c.savedRev {
		return
	}
	sealed, err := c.deps.Codec.Seal(c.answers.Snapshot())
	if err != nil {
		c.log.Error().Err(err).Msg("Seal progress failed")
		return
	}

	c.saving = true
	rev := c.rev
	at := c.cfg.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
		defer cancel()
		err := c.deps.Progress.Upsert(ctx, c.cfg.UserID, c.cfg.ExamID, sealed, at)
		c.post(autosaveDoneMsg{rev: rev, err: err})
	}()
}

// flush writes unsaved answers synchronously. Used when the session is torn
// down without a submission.
func (c *Controller) flush() {
	if c.answers == nil || c.rev == c.savedRev {
		return
	}
	sealed, err := c.deps.Codec.Seal(c.answers.Snapshot())
	if err != nil {
		c.log.Error().Err(err).Msg("Seal progress failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
	defer cancel()
	if err := c.deps.Progress.Upsert(ctx, c.cfg.UserID, c.cfg.ExamID, sealed, c.cfg.Now()); err != nil {
		c.log.Warn().Err(&PersistenceError{Op: "flush", Err: err}).Msg("Final progress flush failed")
		return
	}
	c.savedRev = c.rev
}

// recordPause persists the pause that just ended in the background.
func (c *Controller) recordPause() {
	d := c.cfg.Now().Sub(c.pausedAt)
	c.pausedAt = time.Time{}
	if c.deps.Attempts == nil || d <= 0 {
		return
	}
	c.pauseWrites.Add(1)
	go func() {
		defer c.pauseWrites.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
		defer cancel()
		if err := c.deps.Attempts.AddPaused(ctx, c.cfg.UserID, c.cfg.ExamID, d); err != nil {
			c.log.Warn().Err(&PersistenceError{Op: "add_paused", Err: err}).Msg("Could not record pause")
		}
	}()
}

// flushPause persists a pause still open at teardown.
func (c *Controller) flushPause() {
	d := c.cfg.Now().Sub(c.pausedAt)
	c.pausedAt = time.Time{}
	if c.deps.Attempts == nil || d <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
	defer cancel()
	if err := c.deps.Attempts.AddPaused(ctx, c.cfg.UserID, c.cfg.ExamID, d); err != nil {
		c.log.Warn().Err(&PersistenceError{Op: "add_paused", Err: err}).Msg("Could not record pause")
	}
}

func (c *Controller) abandon() {
	if c.ended {
		return
	}
	c.clock.Stop()
	c.stopAutosave()
	c.deps.Monitor.Disarm()
	if c.phase.active() {
		c.flush()
	}
	if c.phase == PhaseViolationPaused {
		c.flushPause()
	}
	c.pauseWrites.Wait()
	c.ended = true
	c.log.Info().Str("phase", string(c.phase)).Msg("Session abandoned")
	c.publish(Event{Type: EventState})
}

// ─── Submission ───────────────────────────────────────────────────

// enterSubmitting freezes the answers and starts the first submit attempt.
// Re-entry is a no-op.
func (c *Controller) enterSubmitting(reason model.SubmitReason) {
	if !c.phase.active() {
		return
	}
	c.phase = PhaseSubmitting
	c.reason = reason
	c.clock.Stop()
	c.stopAutosave()

	c.frozen = c.answers.Snapshot()
	score, correct, err := ComputeScore(c.questions, c.frozen)
	if err != nil {
		// Unreachable: load rejects empty exams.
		c.log.Error().Err(err).Msg("Score computation failed")
	}
	c.pending = &model.Submission{
		UserID:         c.cfg.UserID,
		ExamID:         c.cfg.ExamID,
		ExamTitle:      c.exam.Title,
		Score:          score,
		Answers:        c.frozen.Ordered(len(c.questions)),
		Reason:         reason,
		ViolationCount: c.violations,
	}
	c.log.Info().Str("reason", string(reason)).Int("score", score).Int("correct", correct).Msg("Submitting")

	c.attemptSubmit()
	c.publish(Event{Type: EventState})
}

func (c *Controller) attemptSubmit() {
	c.submitAttempts++
	c.submitInFlight = true
	c.submitErr = nil

	attempt := c.submitAttempts
	sub := *c.pending
	sub.SubmittedAt = c.cfg.Now()
	sealed, sealErr := c.deps.Codec.Seal(c.frozen)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
		defer cancel()

		if sealErr == nil {
			if err := c.deps.Progress.Upsert(ctx, sub.UserID, sub.ExamID, sealed, sub.SubmittedAt); err != nil {
				c.log.Warn().Err(&PersistenceError{Op: "final_save", Err: err}).Msg("Final progress save failed")
			}
		}

		err := c.deps.Submissions.Insert(ctx, sub)
		if errors.Is(err, ErrAlreadySubmitted) {
			c.log.Warn().Msg("Submission already recorded")
			err = nil
		}
		if err == nil {
			if derr := c.deps.Progress.Delete(ctx, sub.UserID, sub.ExamID); derr != nil {
				c.log.Warn().Err(&PersistenceError{Op: "delete", Err: derr}).Msg("Progress cleanup failed")
			}
			if c.deps.Attempts != nil {
				if cerr := c.deps.Attempts.Clear(ctx, sub.UserID, sub.ExamID); cerr != nil {
					c.log.Warn().Err(cerr).Msg("Attempt start cleanup failed")
				}
			}
		}
		c.post(submitDoneMsg{attempt: attempt, err: err})
	}()
}

func (c *Controller) handleSubmitDone(m submitDoneMsg) {
	if m.attempt != c.submitAttempts || c.phase != PhaseSubmitting {
		return
	}
	c.submitInFlight = false

	if m.err != nil {
		c.submitErr = &SubmissionError{Attempt: m.attempt, Err: m.err}
		c.log.Error().Err(c.submitErr).Msg("Submission failed")
		c.publish(Event{Type: EventSubmitFailed, Err: c.submitErr})
		return
	}

	c.deps.Monitor.Disarm()
	if c.deps.Monitor.Fullscreen() && c.env != nil {
		if err := c.env.ExitFullscreen(); err != nil {
			c.log.Warn().Err(err).Msg("Exit fullscreen failed")
		}
	}

	score := c.pending.Score
	c.score = &score
	c.phase = PhaseCompleted
	c.ended = true
	c.log.Info().Int("score", score).Int("attempts", m.attempt).Msg("Exam submitted")
	c.publish(Event{Type: EventCompleted})
}

// ─── Views ────────────────────────────────────────────────────────

func (c *Controller) snapshot() State {
	s := State{
		UserID:         c.cfg.UserID,
		ExamID:         c.cfg.ExamID,
		Phase:          c.phase,
		Current:        c.current,
		QuestionCount:  len(c.questions),
		Answers:        AnswerMap{},
		Remaining:      c.remaining,
		TimeWarning:    c.phase.active() && c.remaining <= TimeWarningSeconds,
		ClockPaused:    c.phase == PhaseViolationPaused,
		Violations:     c.violations,
		ViolationLimit: c.cfg.ViolationLimit,
		LastViolation:  c.lastViolation,
		Fullscreen:     c.deps.Monitor != nil && c.deps.Monitor.Fullscreen(),
		SubmitReason:   c.reason,
		Score:          c.score,
		Ended:          c.ended,
	}
	if c.exam != nil {
		s.Title = c.exam.Title
	}
	if c.answers != nil {
		s.Answers = c.answers.Snapshot()
		s.Answered = c.answers.Answered()
	}
	if c.submitErr != nil {
		s.SubmitError = c.submitErr.Error()
		s.Retryable = c.submitErr.Retryable() && !c.submitInFlight
	}
	if c.loadErr != nil {
		s.LoadError = c.loadErr.Reason
	}
	return s
}

func (c *Controller) publish(ev Event) {
	ev.State = c.snapshot()

	c.stateMu.Lock()
	c.last = ev.State
	c.stateMu.Unlock()

	if c.deps.Notify != nil {
		c.deps.Notify(ev)
	}
}
