package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotFound       ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotAvailable   ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrInvalidExam        ErrCode = "INVALID_EXAM"
	ErrExamLoadFailed     ErrCode = "EXAM_LOAD_FAILED"
	ErrAlreadySubmitted   ErrCode = "ALREADY_SUBMITTED"
	ErrAnotherExamActive  ErrCode = "ANOTHER_EXAM_ACTIVE"
	ErrWrongPhase         ErrCode = "WRONG_PHASE"
	ErrQuestionOutOfRange ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrOptionOutOfRange   ErrCode = "OPTION_OUT_OF_RANGE"
	ErrNothingToRetry     ErrCode = "NOTHING_TO_RETRY"
	ErrSessionEnded       ErrCode = "SESSION_ENDED"
	ErrUnknownAction      ErrCode = "UNKNOWN_ACTION"
	ErrSubmissionFailed   ErrCode = "SUBMISSION_FAILED"
	ErrSessionTakenOver   ErrCode = "SESSION_TAKEN_OVER"
	ErrServerShuttingDown ErrCode = "SERVER_SHUTTING_DOWN"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "NISN or password is incorrect."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrProctorAccessOnly:
		return "This resource is restricted to proctors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Exam not found."
	case ErrExamNotAvailable:
		return "This exam is not currently available."
	case ErrNoQuestions:
		return "This exam has no questions."
	case ErrInvalidExam:
		return "This exam is misconfigured. Contact your proctor."
	case ErrExamLoadFailed:
		return "The exam could not be loaded. Please try again."
	case ErrAlreadySubmitted:
		return "You have already submitted this exam."
	case ErrAnotherExamActive:
		return "You already have another exam in progress."
	case ErrWrongPhase:
		return "That action is not allowed right now."
	case ErrQuestionOutOfRange:
		return "Question does not exist."
	case ErrOptionOutOfRange:
		return "Option does not exist."
	case ErrNothingToRetry:
		return "There is no failed submission to retry."
	case ErrSessionEnded:
		return "This exam session has ended."
	case ErrUnknownAction:
		return "Unknown action."
	case ErrSubmissionFailed:
		return "Submission failed. Your answers are kept; please retry."
	case ErrSessionTakenOver:
		return "This exam was opened in another window."
	case ErrServerShuttingDown:
		return "The server is restarting. Your progress has been saved."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
