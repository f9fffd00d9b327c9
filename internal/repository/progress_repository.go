package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProgressRepository is the durable copy of in-progress answer snapshots.
// Writes arrive through the progress worker; reads are the fallback when the
// Redis copy is missing.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// Get returns the stored snapshot. Returns pgx.ErrNoRows when absent.
func (r *ProgressRepository) Get(ctx context.Context, userID int, examID uuid.UUID) (*model.Progress, error) {
	p := &model.Progress{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, exam_id, answers, last_updated
		 FROM exam_progress WHERE user_id = $1 AND exam_id = $2`, userID, examID,
	).Scan(&p.UserID, &p.ExamID, &p.Answers, &p.LastUpdated)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert writes one snapshot. An older write never replaces a newer one.
func (r *ProgressRepository) Upsert(ctx context.Context, p *model.Progress) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_progress (user_id, exam_id, answers, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, exam_id) DO UPDATE
		 SET answers = EXCLUDED.answers, last_updated = EXCLUDED.last_updated
		 WHERE exam_progress.last_updated <= EXCLUDED.last_updated`,
		p.UserID, p.ExamID, p.Answers, p.LastUpdated,
	)
	return err
}

// BulkUpsert writes a batch in one statement. The batch must not contain two
// entries for the same (user, exam).
func (r *ProgressRepository) BulkUpsert(ctx context.Context, batch []model.Progress) error {
	n := len(batch)
	users := make([]int, 0, n)
	exams := make([]uuid.UUID, 0, n)
	answers := make([]string, 0, n)
	updated := make([]time.Time, 0, n)
	for _, p := range batch {
		users = append(users, p.UserID)
		exams = append(exams, p.ExamID)
		answers = append(answers, p.Answers)
		updated = append(updated, p.LastUpdated)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_progress (user_id, exam_id, answers, last_updated)
		 SELECT u.user_id, u.exam_id, u.answers, u.last_updated
		 FROM UNNEST($1::int[], $2::uuid[], $3::text[], $4::timestamptz[])
		      AS u (user_id, exam_id, answers, last_updated)
		 ON CONFLICT (user_id, exam_id) DO UPDATE
		 SET answers = EXCLUDED.answers, last_updated = EXCLUDED.last_updated
		 WHERE exam_progress.last_updated <= EXCLUDED.last_updated`,
		users, exams, answers, updated,
	)
	return err
}

// Delete removes the snapshot for one (user, exam).
func (r *ProgressRepository) Delete(ctx context.Context, userID int, examID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM exam_progress WHERE user_id = $1 AND exam_id = $2`, userID, examID)
	return err
}

// DeleteStale removes snapshots not updated since cutoff, and any snapshot
// whose attempt has already been submitted.
func (r *ProgressRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM exam_progress p
		 WHERE p.last_updated < $1
		    OR EXISTS (SELECT 1 FROM submissions s WHERE s.user_id = p.user_id AND s.exam_id = p.exam_id)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
