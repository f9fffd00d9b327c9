package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// StudentPortalHandler handles the student's REST endpoints around a session.
type StudentPortalHandler struct {
	catalogService    *service.CatalogService
	submissionService *service.SubmissionService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(catalogService *service.CatalogService, submissionService *service.SubmissionService) *StudentPortalHandler {
	return &StudentPortalHandler{
		catalogService:    catalogService,
		submissionService: submissionService,
	}
}

// LobbyExam is an active exam as shown to one student.
type LobbyExam struct {
	model.Exam
	Submitted bool `json:"submitted"`
}

// GetLobby godoc
// GET /api/v1/student/exams
// Returns the active exams and whether the student already submitted each.
func (h *StudentPortalHandler) GetLobby(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ctx := c.Request.Context()
	exams, err := h.catalogService.ListActive(ctx)
	if err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	lobby := make([]LobbyExam, 0, len(exams))
	for _, e := range exams {
		done, err := h.submissionService.HasSubmitted(ctx, claims.UserID, e.ID)
		if err != nil {
			_ = c.Error(err)
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		lobby = append(lobby, LobbyExam{Exam: e, Submitted: done})
	}

	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// GetExamPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the exam's questions without the answer key.
func (h *StudentPortalHandler) GetExamPaper(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.catalogService.GetPaper(c.Request.Context(), examID)
	if err != nil {
		status, code := catalogErrorStatus(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// ListResults godoc
// GET /api/v1/student/results?page=1&per_page=10
// Returns the student's submitted results, newest first.
func (h *StudentPortalHandler) ListResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	subs, pagination, err := h.submissionService.ListByUser(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": subs}, pagination)
}

// catalogErrorStatus maps catalog errors to HTTP status and error code.
func catalogErrorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, session.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, session.ErrExamInactive):
		return http.StatusConflict, response.ErrExamNotAvailable
	case errors.Is(err, session.ErrNoQuestions):
		return http.StatusConflict, response.ErrNoQuestions
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
