package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// ProgressStore is the durable fallback read by ProgressService.
type ProgressStore interface {
	Get(ctx context.Context, userID int, examID uuid.UUID) (*model.Progress, error)
}

// ProgressService keeps the hot copy of answer snapshots in Redis and queues
// every change for the progress worker to persist. It implements
// session.ProgressSink and session.AttemptTracker.
type ProgressService struct {
	store     ProgressStore
	rdb       *redis.Client
	retention time.Duration
	log       zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(store ProgressStore, rdb *redis.Client, retention time.Duration, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		store:     store,
		rdb:       rdb,
		retention: retention,
		log:       log.With().Str("component", "progress_service").Logger(),
	}
}

var (
	_ session.ProgressSink   = (*ProgressService)(nil)
	_ session.AttemptTracker = (*ProgressService)(nil)
)

// cachedProgress is the Redis value for one snapshot.
type cachedProgress struct {
	Answers string `json:"answers"`
	At      int64  `json:"at"`
}

// Get returns the latest snapshot, reading PostgreSQL when Redis has none.
// A PostgreSQL hit is written back to Redis.
func (s *ProgressService) Get(ctx context.Context, userID int, examID uuid.UUID) (string, bool, error) {
	key := config.CacheKey.StudentProgressKey(examID.String(), userID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp cachedProgress
		if jerr := json.Unmarshal(data, &cp); jerr == nil {
			return cp.Answers, true, nil
		}
		s.log.Warn().Str("key", key).Msg("Corrupt progress cache entry, reading database")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("key", key).Msg("Progress cache read failed, reading database")
	}

	p, err := s.store.Get(ctx, userID, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get progress: %w", err)
	}

	if data, err := json.Marshal(cachedProgress{Answers: p.Answers, At: p.LastUpdated.UnixMilli()}); err == nil {
		s.rdb.Set(ctx, key, data, s.retention)
	}
	return p.Answers, true, nil
}

// Upsert stores the snapshot in Redis and queues it for PostgreSQL.
func (s *ProgressService) Upsert(ctx context.Context, userID int, examID uuid.UUID, snapshot string, at time.Time) error {
	cached, err := json.Marshal(cachedProgress{Answers: snapshot, At: at.UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	job, err := json.Marshal(model.ProgressJob{
		Op:      model.ProgressOpUpsert,
		UserID:  userID,
		ExamID:  examID.String(),
		Answers: snapshot,
		At:      at.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.StudentProgressKey(examID.String(), userID), cached, s.retention)
	pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Delete removes the Redis copy and queues a tombstone for PostgreSQL.
func (s *ProgressService) Delete(ctx context.Context, userID int, examID uuid.UUID) error {
	job, err := json.Marshal(model.ProgressJob{
		Op:     model.ProgressOpDelete,
		UserID: userID,
		ExamID: examID.String(),
		At:     time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, config.CacheKey.StudentProgressKey(examID.String(), userID))
	pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

// MarkStarted records at as the attempt start unless one is already recorded,
// and returns the recorded start with the pause time accumulated so far.
func (s *ProgressService) MarkStarted(ctx context.Context, userID int, examID uuid.UUID, at time.Time) (session.AttemptTiming, error) {
	timing := session.AttemptTiming{StartedAt: at}
	startKey := config.CacheKey.StudentExamSessionStartKey(examID.String(), userID)

	pipe := s.rdb.Pipeline()
	pipe.SetNX(ctx, startKey, at.UnixMilli(), s.retention)
	startCmd := pipe.Get(ctx, startKey)
	pausedCmd := pipe.Get(ctx, config.CacheKey.StudentExamPausedKey(examID.String(), userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return timing, fmt.Errorf("mark started: %w", err)
	}

	startMs, err := startCmd.Int64()
	if err != nil {
		return timing, fmt.Errorf("read start: %w", err)
	}
	timing.StartedAt = time.UnixMilli(startMs)

	pausedMs, err := pausedCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return timing, fmt.Errorf("read paused: %w", err)
	}
	timing.Paused = time.Duration(pausedMs) * time.Millisecond
	return timing, nil
}

// AddPaused adds d to the attempt's accumulated pause time.
func (s *ProgressService) AddPaused(ctx context.Context, userID int, examID uuid.UUID, d time.Duration) error {
	key := config.CacheKey.StudentExamPausedKey(examID.String(), userID)

	pipe := s.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, d.Milliseconds())
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add paused: %w", err)
	}
	return nil
}

// Clear forgets the attempt start and its pause time.
func (s *ProgressService) Clear(ctx context.Context, userID int, examID uuid.UUID) error {
	return s.rdb.Del(ctx,
		config.CacheKey.StudentExamSessionStartKey(examID.String(), userID),
		config.CacheKey.StudentExamPausedKey(examID.String(), userID),
	).Err()
}
