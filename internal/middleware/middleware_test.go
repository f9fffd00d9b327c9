package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// ─── JWT ──────────────────────────────────────────────────────────

type stubValidator map[string]*service.Claims

func (s stubValidator) ValidateToken(tok string) (*service.Claims, error) {
	if c, ok := s[tok]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func studentClaims(id int, jti string) *service.Claims {
	return &service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: jti},
		TokenType:        service.TokenTypeStudent,
		UserID:           id,
		Name:             "Siti",
	}
}

func TestRequireTokenType(t *testing.T) {
	tokens := stubValidator{
		"student": studentClaims(5, "jti-1"),
		"proctor": {TokenType: service.TokenTypeProctor, Name: "Pak Budi"},
	}

	newRouter := func() *gin.Engine {
		r := gin.New()
		ok := func(c *gin.Context) { c.String(http.StatusOK, GetClaims(c).Name) }
		r.GET("/student", RequireStudentJWT(tokens), ok)
		r.GET("/proctor", RequireProctorJWT(tokens), ok)
		r.GET("/ws", RequireStudentWSAuth(tokens), ok)
		return r
	}

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   response.ErrCode
	}{
		{"student bearer", "/student", "Bearer student", http.StatusOK, ""},
		{"student query", "/student?token=student", "", http.StatusOK, ""},
		{"lowercase scheme", "/student", "bearer student", http.StatusOK, ""},
		{"missing", "/student", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"invalid", "/student", "Bearer nope", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"proctor on student route", "/student", "Bearer proctor", http.StatusForbidden, response.ErrStudentAccessOnly},
		{"student on proctor route", "/proctor?token=student", "", http.StatusForbidden, response.ErrProctorAccessOnly},
		{"proctor", "/proctor?token=proctor", "", http.StatusOK, ""},
		{"ws ignores header", "/ws", "Bearer student", http.StatusUnauthorized, response.ErrTokenRequired},
		{"ws query", "/ws?token=student", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			newRouter().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				env := decodeEnvelope(t, rec)
				require.NotNil(t, env.Error)
				assert.Equal(t, tt.code, env.Error.Code)
			}
		})
	}
}

// ─── Single device ────────────────────────────────────────────────

type stubSessions struct{ active map[int]string }

func (s stubSessions) ValidateStudentSession(_ context.Context, id int, jti string) error {
	if s.active[id] != jti {
		return service.ErrSessionInvalidated
	}
	return nil
}

func TestCheckSingleDeviceSession(t *testing.T) {
	tokens := stubValidator{
		"current": studentClaims(5, "jti-2"),
		"stale":   studentClaims(5, "jti-1"),
	}
	r := gin.New()
	r.GET("/x", RequireStudentJWT(tokens), CheckSingleDeviceSession(stubSessions{active: map[int]string{5: "jti-2"}}),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for tok, want := range map[string]int{"current": http.StatusNoContent, "stale": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/x?token="+tok, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, tok)
	}
}

// ─── Rate limit ───────────────────────────────────────────────────

type memCounter struct {
	counts map[string]int64
	err    error
}

func (m *memCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.counts[key]++
	return m.counts[key], window / 2, nil
}

func TestRateLimiter(t *testing.T) {
	counter := &memCounter{counts: make(map[string]int64)}
	rl := NewRateLimiter(counter, 2, time.Minute, func(c *gin.Context) string { return c.Query("who") }, zerolog.Nop())

	r := gin.New()
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(who string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login?who="+who, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, hit("a").Code)
	rec := hit("a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = hit("a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	body := decodeEnvelope(t, rec)
	assert.Equal(t, response.ErrRateLimitExceeded, body.Error.Code)
	assert.Equal(t, 30, body.Error.RetryAfter)

	// Keys are independent.
	assert.Equal(t, http.StatusOK, hit("b").Code)

	// A broken counter fails open.
	counter.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, hit("a").Code)
}

// ─── Brotli ───────────────────────────────────────────────────────

func TestBrotli(t *testing.T) {
	big := strings.Repeat("exam ", 1000)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/chunks", func(c *gin.Context) {
		// First write is below the threshold, second crosses it.
		c.String(http.StatusOK, "head-")
		_, _ = c.Writer.WriteString(big)
	})

	get := func(path, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	unbrotli := func(t *testing.T, b []byte) string {
		t.Helper()
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(b)))
		require.NoError(t, err)
		return string(out)
	}

	t.Run("compresses large bodies", func(t *testing.T) {
		rec := get("/big", "gzip, br;q=0.9")
		assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
		assert.Less(t, rec.Body.Len(), len(big))
		assert.Equal(t, big, unbrotli(t, rec.Body.Bytes()))
	})

	t.Run("small bodies stay plain", func(t *testing.T) {
		rec := get("/small", "br")
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("whole body compressed across writes", func(t *testing.T) {
		rec := get("/chunks", "br")
		assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "head-"+big, unbrotli(t, rec.Body.Bytes()))
	})

	t.Run("client without br", func(t *testing.T) {
		rec := get("/big", "gzip")
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, big, rec.Body.String())
	})
}
