package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// SubmissionStore is the slice of the submission repository this service uses.
type SubmissionStore interface {
	Insert(ctx context.Context, s *model.Submission) (bool, error)
	Exists(ctx context.Context, userID int, examID uuid.UUID) (bool, error)
	ListByStudent(ctx context.Context, userID, limit, offset int) ([]model.Submission, int, error)
}

// SubmissionService records final results. It implements session.SubmissionSink.
type SubmissionService struct {
	store SubmissionStore
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(store SubmissionStore) *SubmissionService {
	return &SubmissionService{store: store}
}

var _ session.SubmissionSink = (*SubmissionService)(nil)

// Insert stores sub. Returns session.ErrAlreadySubmitted when the user
// already has a result for the exam.
func (s *SubmissionService) Insert(ctx context.Context, sub model.Submission) error {
	inserted, err := s.store.Insert(ctx, &sub)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if !inserted {
		return session.ErrAlreadySubmitted
	}
	return nil
}

// HasSubmitted reports whether a result exists for (user, exam).
func (s *SubmissionService) HasSubmitted(ctx context.Context, userID int, examID uuid.UUID) (bool, error) {
	return s.store.Exists(ctx, userID, examID)
}

// ListByUser returns one page of a student's results, newest first.
func (s *SubmissionService) ListByUser(ctx context.Context, userID, page, perPage int) ([]model.Submission, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	subs, total, err := s.store.ListByStudent(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	return subs, response.NewPagination(page, perPage, total), nil
}
