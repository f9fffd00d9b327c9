package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationRepository stores the integrity violation audit log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyInsert bulk-loads a batch with COPY.
func (r *ViolationRepository) CopyInsert(ctx context.Context, batch []model.ViolationRecord) error {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []any{v.UserID, v.ExamID, v.Kind, v.Count, v.RecordedAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"exam_violations"},
		[]string{"user_id", "exam_id", "kind", "count", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert stores a single record. Used when a bulk load fails.
func (r *ViolationRepository) Insert(ctx context.Context, v model.ViolationRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_violations (user_id, exam_id, kind, count, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.UserID, v.ExamID, v.Kind, v.Count, v.RecordedAt,
	)
	return err
}

// CountsByExam returns the number of recorded violations per student.
func (r *ViolationRepository) CountsByExam(ctx context.Context, examID uuid.UUID) (map[int]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*)
		 FROM exam_violations
		 WHERE exam_id = $1
		 GROUP BY user_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var uid, n int
		if err := rows.Scan(&uid, &n); err != nil {
			return nil, err
		}
		counts[uid] = n
	}
	return counts, rows.Err()
}
