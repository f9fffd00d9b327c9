package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProgressWriter is the durable side of the progress queue.
type ProgressWriter interface {
	BulkUpsert(ctx context.Context, batch []model.Progress) error
	Upsert(ctx context.Context, p *model.Progress) error
	Delete(ctx context.Context, userID int, examID uuid.UUID) error
}

// ProgressWorker consumes persist_progress_queue and writes snapshots to
// PostgreSQL in batches.
type ProgressWorker struct {
	store   ProgressWriter
	rdb     *redis.Client
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(store ProgressWriter, rdb *redis.Client, m *metrics.Metrics, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		store:   store,
		rdb:     rdb,
		metrics: m,
		log:     log.With().Str("component", "progress_worker").Logger(),
	}
}

// Start runs until ctx is cancelled, then flushes what it holds. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]model.ProgressJob, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProgressQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job model.ProgressJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed job")
			continue
		}
		buffer = append(buffer, job)
	}
}

type progressKey struct {
	userID int
	examID string
}

// compact reduces a FIFO batch to the last job per (user, exam). Replaying
// only the last job leaves the table in the same state as replaying all of them.
func compact(batch []model.ProgressJob) []model.ProgressJob {
	last := make(map[progressKey]int, len(batch))
	for i, j := range batch {
		last[progressKey{j.UserID, j.ExamID}] = i
	}
	out := make([]model.ProgressJob, 0, len(last))
	for i, j := range batch {
		if last[progressKey{j.UserID, j.ExamID}] == i {
			out = append(out, j)
		}
	}
	return out
}

// flushSafe writes upserts in bulk and deletes one by one. Failed jobs are requeued.
func (w *ProgressWorker) flushSafe(ctx context.Context, batch []model.ProgressJob) {
	jobs := compact(batch)

	upserts := make([]model.Progress, 0, len(jobs))
	upsertJobs := make([]model.ProgressJob, 0, len(jobs))
	var failed []model.ProgressJob
	dropped := 0

	for _, j := range jobs {
		examID, err := uuid.Parse(j.ExamID)
		if err != nil {
			w.log.Error().Str("exam_id", j.ExamID).Msg("Dropping progress job with invalid UUID")
			dropped++
			continue
		}
		switch j.Op {
		case model.ProgressOpDelete:
			if err := w.store.Delete(ctx, j.UserID, examID); err != nil {
				w.log.Error().Err(err).Int("user_id", j.UserID).Msg("Delete failed, requeueing")
				failed = append(failed, j)
			}
		case model.ProgressOpUpsert:
			upserts = append(upserts, model.Progress{
				UserID:      j.UserID,
				ExamID:      examID,
				Answers:     j.Answers,
				LastUpdated: time.UnixMilli(j.At),
			})
			upsertJobs = append(upsertJobs, j)
		default:
			w.log.Error().Str("op", string(j.Op)).Msg("Dropping progress job with unknown op")
			dropped++
		}
	}

	if len(upserts) > 0 {
		if err := w.store.BulkUpsert(ctx, upserts); err != nil {
			w.log.Warn().Err(err).Int("count", len(upserts)).Msg("Bulk upsert failed, attempting row-by-row recovery")
			for i := range upserts {
				if err := w.store.Upsert(ctx, &upserts[i]); err != nil {
					w.log.Error().Err(err).Int("user_id", upserts[i].UserID).Msg("Upsert failed, requeueing")
					failed = append(failed, upsertJobs[i])
				}
			}
		}
	}

	if written := len(jobs) - len(failed) - dropped; written > 0 && w.metrics != nil {
		w.metrics.ProgressFlushed.Add(float64(written))
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ProgressWorker) requeue(ctx context.Context, jobs []model.ProgressJob) {
	pipe := w.rdb.Pipeline()
	for _, j := range jobs {
		data, _ := json.Marshal(j)
		pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(jobs)).Msg("CRITICAL: Failed to requeue progress jobs. Data loss occurred.")
		return
	}
	if w.metrics != nil {
		w.metrics.QueueRequeued.WithLabelValues(config.WorkerKey.PersistProgressQueue).Add(float64(len(jobs)))
	}
	w.log.Info().Int("count", len(jobs)).Msg("Requeued failed jobs back to Redis")
	sleepCtx(ctx, 2*time.Second)
}

// shutdown flushes the buffer and drains what is left in the queue.
func (w *ProgressWorker) shutdown(buffer []model.ProgressJob) {
	w.log.Info().Msg("Worker stopping, flushing remaining jobs...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistProgressQueue).Result()
		if err != nil {
			break
		}
		var job model.ProgressJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		buffer = append(buffer, job)
		if len(buffer) >= BatchSize {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
		}
	}
	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
	w.log.Info().Msg("Worker stopped")
}
