package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs exam sessions over WebSocket.
type WSHandler struct {
	sessions *service.SessionManager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionManager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamSession godoc
// WS /ws/v1/student/exams/:exam_id/session?token=...
// Opens (or resumes) the student's attempt and streams its state.
func (h *WSHandler) ExamSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()
	client := ws.NewClient(conn, wsLog)
	defer client.Close()

	notify := func(ev session.Event) {
		_ = client.Send(ws.FromSessionEvent(ev))
	}

	attempt, err := h.sessions.Open(c.Request.Context(), claims.UserID, examID, client, notify)
	if err != nil {
		code := openErrorCode(err)
		if code == response.ErrExamLoadFailed || code == response.ErrInternal {
			wsLog.Error().Err(err).Msg("Session open failed")
		}
		sendCode(client, code, nil)
		return
	}

	wsLog.Info().Str("attempt_id", attempt.ID).Msg("Student connected")

	go func() {
		select {
		case <-attempt.Controller.Done():
			if attempt.TakenOver() {
				sendCode(client, response.ErrSessionTakenOver, nil)
			}
			client.Close()
		case <-client.Done():
		}
	}()

	for {
		data, err := client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(client, attempt, data)
	}

	if !attempt.TakenOver() {
		h.sessions.Close(attempt)
	}
	wsLog.Info().Str("attempt_id", attempt.ID).Msg("Student disconnected")
}

// dispatch decodes one client message and applies it to the attempt.
func (h *WSHandler) dispatch(client *ws.Client, attempt *service.Attempt, data []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		sendCode(client, response.ErrInvalidPayload, nil)
		return
	}

	ctrl := attempt.Controller
	var err error

	switch env.Action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !decode(client, data, &req) {
			return
		}
		err = ctrl.SelectAnswer(*req.Option)

	case ws.ActionAnswerAt:
		var req ws.AnswerAtRequest
		if !decode(client, data, &req) {
			return
		}
		err = ctrl.SetAnswer(*req.Index, *req.Option)

	case ws.ActionGoto:
		var req ws.GotoRequest
		if !decode(client, data, &req) {
			return
		}
		err = ctrl.Goto(*req.Index)

	case ws.ActionSignal:
		var req ws.SignalRequest
		if !decode(client, data, &req) {
			return
		}
		attempt.Observe(session.Signal(req.Signal))

	case ws.ActionNext:
		err = ctrl.Next()
	case ws.ActionPrev:
		err = ctrl.Previous()
	case ws.ActionAcknowledge:
		err = ctrl.Acknowledge()
	case ws.ActionSubmit:
		err = ctrl.RequestSubmit()
	case ws.ActionConfirm:
		err = ctrl.ConfirmSubmit()
	case ws.ActionCancel:
		err = ctrl.CancelSubmit()
	case ws.ActionRetry:
		err = ctrl.RetrySubmit()

	case ws.ActionState:
		_ = client.Send(ws.StateResponse{Event: ws.EventState, State: ctrl.State()})
	case ws.ActionPing:
		_ = client.Send(ws.PongResponse{Event: ws.EventPong})

	default:
		sendCode(client, response.ErrUnknownAction, nil)
		return
	}

	if err != nil {
		sendCode(client, actionErrorCode(err), nil)
	}
}

// decode parses data into dst and validates it, reporting failures to the client.
func decode(client *ws.Client, data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		sendCode(client, response.ErrInvalidPayload, nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		sendCode(client, response.ErrValidation, fields)
		return false
	}
	return true
}

func sendCode(client *ws.Client, code response.ErrCode, fields map[string]string) {
	_ = client.SendError(string(code), response.GetMessage(code), fields)
}

// actionErrorCode maps a controller error to its wire code.
func actionErrorCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, session.ErrWrongPhase):
		return response.ErrWrongPhase
	case errors.Is(err, session.ErrIndexOutOfRange):
		return response.ErrQuestionOutOfRange
	case errors.Is(err, session.ErrOptionOutOfRange):
		return response.ErrOptionOutOfRange
	case errors.Is(err, session.ErrNothingToRetry):
		return response.ErrNothingToRetry
	case errors.Is(err, session.ErrSessionEnded):
		return response.ErrSessionEnded
	default:
		return response.ErrInternal
	}
}

// openErrorCode maps a SessionManager.Open error to its wire code.
func openErrorCode(err error) response.ErrCode {
	if errors.Is(err, service.ErrAnotherExamActive) {
		return response.ErrAnotherExamActive
	}
	var lerr *session.LoadError
	if !errors.As(err, &lerr) {
		return response.ErrInternal
	}
	switch lerr.Reason {
	case session.LoadReasonNotFound:
		return response.ErrExamNotFound
	case session.LoadReasonInactive:
		return response.ErrExamNotAvailable
	case session.LoadReasonNoQuestions:
		return response.ErrNoQuestions
	case session.LoadReasonInvalid:
		return response.ErrInvalidExam
	case session.LoadReasonAlreadySubmitted:
		return response.ErrAlreadySubmitted
	default:
		return response.ErrExamLoadFailed
	}
}
