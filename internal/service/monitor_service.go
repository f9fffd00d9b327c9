package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// MonitorService serves the proctor's view of an exam.
type MonitorService struct {
	violationRepo  *repository.ViolationRepository
	submissionRepo *repository.SubmissionRepository
	rdb            *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(violationRepo *repository.ViolationRepository, submissionRepo *repository.SubmissionRepository, rdb *redis.Client) *MonitorService {
	return &MonitorService{violationRepo: violationRepo, submissionRepo: submissionRepo, rdb: rdb}
}

// ExamOverview is the persisted state of an exam at the moment a proctor connects.
type ExamOverview struct {
	ExamID          uuid.UUID          `json:"exam_id"`
	ViolationCounts map[int]int        `json:"violation_counts"` // user_id → violations
	TotalViolations int                `json:"total_violations"`
	Submissions     []model.Submission `json:"submissions"`
}

// GetOverview loads violation counts and submissions concurrently.
// Violation counts are best-effort.
func (s *MonitorService) GetOverview(ctx context.Context, examID uuid.UUID) (*ExamOverview, error) {
	overview := &ExamOverview{
		ExamID:          examID,
		ViolationCounts: map[int]int{},
		Submissions:     []model.Submission{},
	}

	var (
		counts    map[int]int
		subs      []model.Submission
		countsErr error
		subsErr   error
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		counts, countsErr = s.violationRepo.CountsByExam(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		subs, subsErr = s.submissionRepo.ListByExam(ctx, examID)
	}()
	wg.Wait()

	if subsErr != nil {
		return nil, subsErr
	}
	if subs != nil {
		overview.Submissions = subs
	}
	if countsErr == nil && counts != nil {
		overview.ViolationCounts = counts
		for _, n := range counts {
			overview.TotalViolations += n
		}
	}
	return overview, nil
}

// Subscribe opens the live event channel for an exam. The caller closes it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
