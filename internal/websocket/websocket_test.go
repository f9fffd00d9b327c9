package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnanswered(t *testing.T) {
	s := session.State{QuestionCount: 4, Answers: session.AnswerMap{0: 1, 2: 3}, Answered: 2}
	assert.Equal(t, []int{1, 3}, Unanswered(s))

	s = session.State{QuestionCount: 2, Answers: session.AnswerMap{0: 0, 1: 0}, Answered: 2}
	assert.Empty(t, Unanswered(s))
}

func TestFromSessionEvent(t *testing.T) {
	score := 75
	state := session.State{
		QuestionCount:  3,
		Answers:        session.AnswerMap{1: 0},
		Answered:       1,
		Remaining:      120,
		TimeWarning:    true,
		Violations:     2,
		ViolationLimit: 3,
		SubmitReason:   model.SubmitReasonTimeExpired,
		Score:          &score,
	}

	tick := FromSessionEvent(session.Event{Type: session.EventTick, State: state})
	assert.Equal(t, TickResponse{Event: EventTick, Remaining: 120, TimeWarning: true}, tick)

	v := FromSessionEvent(session.Event{
		Type:      session.EventViolation,
		State:     state,
		Violation: &session.Violation{Kind: session.ViolationPaste},
	}).(ViolationResponse)
	assert.Equal(t, session.ViolationPaste, v.Kind)
	assert.Equal(t, 2, v.Violations)
	assert.Equal(t, 3, v.Limit)

	r := FromSessionEvent(session.Event{Type: session.EventReview, State: state}).(ReviewResponse)
	assert.Equal(t, []int{0, 2}, r.Unanswered)

	f := FromSessionEvent(session.Event{
		Type:  session.EventSubmitFailed,
		State: state,
		Err:   &session.SubmissionError{Attempt: 2, Err: errors.New("timeout")},
	}).(SubmitFailedResponse)
	assert.True(t, f.Retryable)
	assert.Contains(t, f.Error, "timeout")

	c := FromSessionEvent(session.Event{Type: session.EventCompleted, State: state}).(CompletedResponse)
	assert.Equal(t, 75, c.Score)
	assert.Equal(t, string(model.SubmitReasonTimeExpired), c.Reason)

	s := FromSessionEvent(session.Event{Type: session.EventState, State: state})
	assert.IsType(t, StateResponse{}, s)
}

// pair returns a server-side Client and the browser end of the connection.
func pair(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()
	clients := make(chan *Client, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		clients <- NewClient(conn, zerolog.Nop())
	}))
	t.Cleanup(srv.Close)

	browser, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { browser.Close() })

	select {
	case c := <-clients:
		t.Cleanup(c.Close)
		return c, browser
	case <-time.After(time.Second):
		t.Fatal("server never accepted")
		return nil, nil
	}
}

func TestClient_SendsCommandsAndEvents(t *testing.T) {
	c, browser := pair(t)
	_ = browser.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, c.RequestFullscreen())
	require.NoError(t, c.SendError("VALIDATION_ERROR", "bad input", map[string]string{"option": "required"}))

	var cmd CommandResponse
	require.NoError(t, browser.ReadJSON(&cmd))
	assert.Equal(t, CommandResponse{Event: EventCommand, Command: CommandFullscreenRequest}, cmd)

	var e ErrorResponse
	require.NoError(t, browser.ReadJSON(&e))
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Equal(t, "required", e.Fields["option"])
}

func TestClient_ReadAndClose(t *testing.T) {
	c, browser := pair(t)

	require.NoError(t, browser.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)))
	data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"ping"}`, string(data))

	// Queued messages are delivered before the close frame.
	require.NoError(t, c.Send(PongResponse{Event: EventPong}))
	c.Close()
	assert.ErrorIs(t, c.Send(PongResponse{Event: EventPong}), ErrClientClosed)

	_ = browser.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong PongResponse
	require.NoError(t, browser.ReadJSON(&pong))
	assert.Equal(t, EventPong, pong.Event)

	_, _, err = browser.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
