package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionRepository handles final exam results.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Insert stores a submission. At most one submission exists per (user, exam);
// inserted is false when one was already recorded.
func (r *SubmissionRepository) Insert(ctx context.Context, s *model.Submission) (inserted bool, err error) {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return false, fmt.Errorf("encode answers: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO submissions (user_id, exam_id, exam_title, score, answers, reason, violation_count, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, exam_id) DO NOTHING
		 RETURNING id`,
		s.UserID, s.ExamID, s.ExamTitle, s.Score, answers, s.Reason, s.ViolationCount, s.SubmittedAt,
	).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether the user already submitted the exam.
func (r *SubmissionRepository) Exists(ctx context.Context, userID int, examID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE user_id = $1 AND exam_id = $2)`,
		userID, examID,
	).Scan(&exists)
	return exists, err
}

// ListByStudent returns a student's submissions, newest first, with the total count.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, userID, limit, offset int) ([]model.Submission, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, exam_id, exam_title, score, answers, reason, violation_count, submitted_at
		 FROM submissions
		 WHERE user_id = $1
		 ORDER BY submitted_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	return subs, total, err
}

// ListByExam returns every submission for an exam, for proctor review.
func (r *SubmissionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, exam_id, exam_title, score, answers, reason, violation_count, submitted_at
		 FROM submissions
		 WHERE exam_id = $1
		 ORDER BY submitted_at`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func scanSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	var subs []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.UserID, &s.ExamID, &s.ExamTitle, &s.Score, &s.Answers,
			&s.Reason, &s.ViolationCount, &s.SubmittedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
