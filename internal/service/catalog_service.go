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

// ExamStore is the slice of the exam repository the catalog reads.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListActive(ctx context.Context) ([]model.Exam, error)
}

// QuestionStore is the slice of the question repository the catalog reads.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// CatalogService serves exam definitions from Redis with PostgreSQL as the
// source of truth. It implements session.ExamCatalog.
type CatalogService struct {
	exams     ExamStore
	questions QuestionStore
	rdb       *redis.Client
	ttl       time.Duration
	log       zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(exams ExamStore, questions QuestionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		exams:     exams,
		questions: questions,
		rdb:       rdb,
		ttl:       ttl,
		log:       log.With().Str("component", "catalog_service").Logger(),
	}
}

var _ session.ExamCatalog = (*CatalogService)(nil)

// FetchActiveExam returns the exam if it exists and is open for attempts.
func (s *CatalogService) FetchActiveExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive {
		return nil, session.ErrExamInactive
	}
	return exam, nil
}

// FetchQuestions returns the exam's questions in display order, answer key included.
func (s *CatalogService) FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.ExamQuestionsKey(examID.String())
	var questions []model.Question
	if ok := s.readCache(ctx, key, &questions); ok {
		return questions, nil
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, session.ErrNoQuestions
	}
	s.writeCache(ctx, key, questions)
	return questions, nil
}

// GetPaper returns the student-facing view of an active exam.
func (s *CatalogService) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	exam, err := s.FetchActiveExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := s.FetchQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}

	paper := &model.ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       make([]model.QuestionForStudent, len(questions)),
	}
	for i := range questions {
		paper.Questions[i] = questions[i].ForStudent()
	}
	return paper, nil
}

// Invalidate drops the cached copy of one exam.
func (s *CatalogService) Invalidate(ctx context.Context, examID uuid.UUID) error {
	id := examID.String()
	return s.rdb.Del(ctx, config.CacheKey.ExamDefinitionKey(id), config.CacheKey.ExamQuestionsKey(id)).Err()
}

// WarmExamCache loads one exam and its questions into Redis in a single pipeline.
func (s *CatalogService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return session.ErrNoQuestions
	}

	examJSON, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	id := exam.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamDefinitionKey(id), examJSON, s.ttl)
	pipe.Set(ctx, config.CacheKey.ExamQuestionsKey(id), questionsJSON, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", id).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAll loads every active exam into Redis on application startup.
func (s *CatalogService) PrewarmAll(ctx context.Context) error {
	exams, err := s.exams.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

func (s *CatalogService) exam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	key := config.CacheKey.ExamDefinitionKey(examID.String())
	var exam model.Exam
	if ok := s.readCache(ctx, key, &exam); ok {
		return &exam, nil
	}

	found, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	s.writeCache(ctx, key, found)
	return found, nil
}

// readCache reports whether key held a decodable value. Redis errors degrade
// to a miss.
func (s *CatalogService) readCache(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Catalog cache entry corrupt")
		return false
	}
	return true
}

func (s *CatalogService) writeCache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Catalog cache write failed")
	}
}

// ListActive returns the exams currently open for attempts.
func (s *CatalogService) ListActive(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.exams.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active exams: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, nil
}

// GetExam returns an exam whether or not it is active.
func (s *CatalogService) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return s.exam(ctx, examID)
}
