package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/security"
	"github.com/stopka007/IoT-sub000/internal/service"
)

type stubAuth struct{}

func (stubAuth) Authenticate(header string) (service.Principal, error) {
	switch header {
	case "Bearer admin":
		return service.Principal{UserID: "a1", Role: models.UserRoleAdmin}, nil
	case "Bearer user":
		return service.Principal{UserID: "u1", Role: models.UserRoleUser}, nil
	case "":
		return service.Principal{}, service.ErrMissingAuthHeader
	default:
		return service.Principal{}, service.ErrInvalidToken
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Errors(zerolog.Nop()), Recovery(zerolog.Nop()))
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthAndRoles(t *testing.T) {
	r := newRouter()
	r.GET("/admin", Auth(stubAuth{}), RequireRoles(models.UserRoleAdmin), func(c *gin.Context) {
		p, _ := CurrentPrincipal(c)
		c.String(http.StatusOK, p.UserID)
	})

	cases := []struct {
		header  string
		status  int
		message string
	}{
		{"", http.StatusUnauthorized, "missing or malformed authorization header"},
		{"Bearer expired", http.StatusUnauthorized, "invalid or expired token"},
		{"Bearer user", http.StatusForbidden, "insufficient role"},
		{"Bearer admin", http.StatusOK, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, tc.status, w.Code, tc.header)
		if tc.status != http.StatusOK {
			body := decodeError(t, w)
			assert.Equal(t, tc.status, body.StatusCode)
			assert.Equal(t, tc.message, body.Message)
			assert.Equal(t, http.StatusText(tc.status), body.Error)
		} else {
			assert.Equal(t, "a1", w.Body.String())
		}
	}
}

func TestErrorsWrapsUnknownErrors(t *testing.T) {
	r := newRouter()
	r.GET("/boom", func(c *gin.Context) { _ = c.Error(errors.New("disk on fire")) })
	r.GET("/conflict", func(c *gin.Context) { _ = c.Error(apperr.Conflict("room 7 is at capacity")) })
	r.GET("/panic", func(c *gin.Context) { panic("unexpected") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w).Message)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "room 7 is at capacity", decodeError(t, w).Message)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, http.StatusInternalServerError, decodeError(t, w).StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter()
	r.Use(CORS([]string{"https://ward.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://ward.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ward.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

type memoryNonces struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryNonces) Claim(_ context.Context, scope, nonce string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope + ":" + nonce
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func signedRequest(secret, device, nonce, body string, at time.Time) *http.Request {
	date := at.UTC().Format(time.RFC3339)
	sig := security.ComputeSignature(secret, device, http.MethodPost, "/telemetry", "", security.ComputeBodyHash([]byte(body)), date, nonce)
	req := httptest.NewRequest(http.MethodPost, "/telemetry", strings.NewReader(body))
	req.Header.Set(security.HeaderDevice, device)
	req.Header.Set(security.HeaderDate, date)
	req.Header.Set(security.HeaderNonce, nonce)
	req.Header.Set(security.HeaderSignature, sig)
	return req
}

func TestDeviceSignature(t *testing.T) {
	r := newRouter()
	nonces := &memoryNonces{seen: map[string]bool{}}
	r.POST("/telemetry", DeviceSignature("shared", time.Minute, nonces), func(c *gin.Context) {
		raw, _ := c.GetRawData()
		c.String(http.StatusAccepted, SignedDeviceID(c)+":"+string(raw))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("shared", "D-1", "n1", `{"help_needed":true}`, time.Now()))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, `D-1:{"help_needed":true}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("shared", "D-1", "n1", `{"help_needed":true}`, time.Now()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "replay detected", decodeError(t, w).Message)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("wrong", "D-1", "n2", `{}`, time.Now()))
	assert.Equal(t, "invalid signature", decodeError(t, w).Message)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("shared", "D-1", "n3", `{}`, time.Now().Add(-time.Hour)))
	assert.Equal(t, "request expired", decodeError(t, w).Message)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/telemetry", strings.NewReader(`{}`)))
	assert.Equal(t, "signature required", decodeError(t, w).Message)
}
