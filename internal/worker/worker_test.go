package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadRedis fails every command quickly.
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

type memProgressStore struct {
	mu        sync.Mutex
	bulkErr   error
	upsertErr map[int]error
	rows      map[int]model.Progress
	deleted   []int
	bulkCalls int
}

func newMemProgressStore() *memProgressStore {
	return &memProgressStore{rows: make(map[int]model.Progress), upsertErr: make(map[int]error)}
}

func (s *memProgressStore) BulkUpsert(_ context.Context, batch []model.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.bulkErr != nil {
		return s.bulkErr
	}
	for _, p := range batch {
		s.rows[p.UserID] = p
	}
	return nil
}

func (s *memProgressStore) Upsert(_ context.Context, p *model.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[p.UserID]; err != nil {
		return err
	}
	s.rows[p.UserID] = *p
	return nil
}

func (s *memProgressStore) Delete(_ context.Context, userID int, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, userID)
	delete(s.rows, userID)
	return nil
}

func TestCompact_KeepsLastJobPerAttempt(t *testing.T) {
	exam := uuid.NewString()
	other := uuid.NewString()
	batch := []model.ProgressJob{
		{Op: model.ProgressOpUpsert, UserID: 1, ExamID: exam, Answers: "a1", At: 1},
		{Op: model.ProgressOpUpsert, UserID: 2, ExamID: exam, Answers: "b1", At: 2},
		{Op: model.ProgressOpUpsert, UserID: 1, ExamID: exam, Answers: "a2", At: 3},
		{Op: model.ProgressOpUpsert, UserID: 1, ExamID: other, Answers: "c1", At: 4},
		{Op: model.ProgressOpDelete, UserID: 2, ExamID: exam, At: 5},
	}

	out := compact(batch)
	require.Len(t, out, 3)
	assert.Equal(t, "a2", out[0].Answers)
	assert.Equal(t, "c1", out[1].Answers)
	assert.Equal(t, model.ProgressOpDelete, out[2].Op)
	assert.Equal(t, 2, out[2].UserID)
}

func TestProgressWorker_FlushSafe(t *testing.T) {
	exam := uuid.New()
	store := newMemProgressStore()
	m := metrics.New(prometheus.NewRegistry())
	w := NewProgressWorker(store, deadRedis(), m, zerolog.Nop())

	w.flushSafe(context.Background(), []model.ProgressJob{
		{Op: model.ProgressOpUpsert, UserID: 1, ExamID: exam.String(), Answers: "x", At: 1000},
		{Op: model.ProgressOpUpsert, UserID: 1, ExamID: exam.String(), Answers: "y", At: 2000},
		{Op: model.ProgressOpDelete, UserID: 3, ExamID: exam.String()},
		{Op: model.ProgressOpUpsert, UserID: 4, ExamID: "not-a-uuid", Answers: "z"},
	})

	require.Contains(t, store.rows, 1)
	assert.Equal(t, "y", store.rows[1].Answers)
	assert.Equal(t, time.UnixMilli(2000), store.rows[1].LastUpdated)
	assert.Equal(t, []int{3}, store.deleted)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProgressFlushed))
}

func TestProgressWorker_FallsBackRowByRow(t *testing.T) {
	exam := uuid.NewString()
	store := newMemProgressStore()
	store.bulkErr = errors.New("deadlock detected")
	store.upsertErr[2] = errors.New("foreign key violation")
	m := metrics.New(prometheus.NewRegistry())
	w := NewProgressWorker(store, deadRedis(), m, zerolog.Nop())

	w.flushSafe(context.Background(), []model.ProgressJob{
		{Op: model.ProgressOpUpsert, UserID: 1, ExamID: exam, Answers: "ok"},
		{Op: model.ProgressOpUpsert, UserID: 2, ExamID: exam, Answers: "bad"},
	})

	assert.Equal(t, 1, store.bulkCalls)
	assert.Contains(t, store.rows, 1)
	assert.NotContains(t, store.rows, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProgressFlushed))
	// Requeue against a dead Redis is logged, not counted.
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueRequeued.WithLabelValues("persist_progress_queue")))
}

type memViolationStore struct {
	copyErr   error
	insertErr error
	copied    []model.ViolationRecord
	inserted  []model.ViolationRecord
}

func (s *memViolationStore) CopyInsert(_ context.Context, batch []model.ViolationRecord) error {
	if s.copyErr != nil {
		return s.copyErr
	}
	s.copied = append(s.copied, batch...)
	return nil
}

func (s *memViolationStore) Insert(_ context.Context, v model.ViolationRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, v)
	return nil
}

func TestViolationWorker_FlushSafe(t *testing.T) {
	batch := []model.ViolationRecord{
		{UserID: 1, ExamID: uuid.New(), Kind: "tab", Count: 1, RecordedAt: time.Now()},
		{UserID: 2, ExamID: uuid.New(), Kind: "copy", Count: 2, RecordedAt: time.Now()},
	}

	t.Run("bulk", func(t *testing.T) {
		store := &memViolationStore{}
		NewViolationWorker(store, deadRedis(), nil, zerolog.Nop()).flushSafe(context.Background(), batch)
		assert.Len(t, store.copied, 2)
		assert.Empty(t, store.inserted)
	})

	t.Run("fallback", func(t *testing.T) {
		store := &memViolationStore{copyErr: errors.New("copy aborted")}
		NewViolationWorker(store, deadRedis(), nil, zerolog.Nop()).flushSafe(context.Background(), batch)
		assert.Empty(t, store.copied)
		assert.Equal(t, batch, store.inserted)
	})
}

type memStale struct {
	cutoff time.Time
	n      int64
	err    error
}

func (s *memStale) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.n, s.err
}

func TestProgressReaper_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &memStale{n: 4}
	m := metrics.New(prometheus.NewRegistry())
	r := NewProgressReaper(store, 48*time.Hour, "@every 1h", m, zerolog.Nop())
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, now.Add(-48*time.Hour), store.cutoff)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ProgressReaped))

	store.err = errors.New("db down")
	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ProgressReaped))
}

func TestProgressReaper_InvalidSchedule(t *testing.T) {
	r := NewProgressReaper(&memStale{}, time.Hour, "every now and then", nil, zerolog.Nop())
	assert.Error(t, r.Start())
}

func TestProgressReaper_StartStop(t *testing.T) {
	r := NewProgressReaper(&memStale{}, time.Hour, "@every 1h", nil, zerolog.Nop())
	require.NoError(t, r.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
