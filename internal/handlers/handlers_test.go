package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/export"
	"github.com/stopka007/IoT-sub000/internal/middleware"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository/memstore"
	"github.com/stopka007/IoT-sub000/internal/security"
	"github.com/stopka007/IoT-sub000/internal/service"
)

const testPassword = "Secret1!"

type nopPublisher struct{}

func (nopPublisher) PublishDeviceUpdate(context.Context, models.DeviceUpdate) error { return nil }

type nopSnapshots struct{}

func (nopSnapshots) PutSnapshot(context.Context, string, []byte) error { return nil }
func (nopSnapshots) RemoveSnapshot(context.Context, string) error      { return nil }

type memoryNonces struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryNonces) Claim(_ context.Context, scope, nonce string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[scope+nonce] {
		return false, nil
	}
	m.seen[scope+nonce] = true
	return true, nil
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []any
}

func (q *recordingQueue) Enqueue(_ context.Context, taskType string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, payload)
	return "1-0", nil
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
	svc    service.Services
}

func newTestAPI(t *testing.T, tasks TaskQueue, checks map[string]HealthCheck) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTSecret:     "test-secret",
			JWTAccessTTL:  15 * time.Minute,
			JWTRefreshTTL: time.Hour,
			MaxSessions:   5,
			BcryptCost:    4,
			DeviceSecret:  "device-secret",
			SignatureSkew: time.Minute,
		},
		Telemetry: config.TelemetryConfig{LowBatteryThreshold: 15},
	}
	svc := service.NewServices(memstore.New(), nopSnapshots{}, nopPublisher{}, cfg, zerolog.Nop())

	handlerSet := NewHandlerSet(zerolog.Nop(), cfg, Dependencies{
		Services: svc,
		Tasks:    tasks,
		Nonces:   &memoryNonces{seen: map[string]bool{}},
		Checks:   checks,
	})

	router := gin.New()
	router.Use(middleware.Errors(zerolog.Nop()))
	handlerSet.Register(router.Group("/api"))

	return &testAPI{t: t, router: router, svc: svc}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) seedUser(email string, role models.UserRole) string {
	a.t.Helper()
	_, err := a.svc.Users.Create(context.Background(), service.CreateUserInput{
		Email:    email,
		Username: email,
		Password: testPassword,
		Role:     role,
	})
	require.NoError(a.t, err)

	w := a.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": email, "password": testPassword})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var tokens service.Tokens
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &tokens))
	return tokens.AccessToken
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLoginMeScenario(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	_, err := api.svc.Users.Create(context.Background(), service.CreateUserInput{
		Email: "a@x.com", Username: "alice", Password: testPassword, Role: models.UserRoleAdmin,
	})
	require.NoError(t, err)

	w := api.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "A@x.com", "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code)
	tokens := decode[service.Tokens](t, w)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	w = api.do(http.MethodGet, "/api/auth/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "a@x.com", me["email"])
	assert.Equal(t, "admin", me["role"])
	assert.NotContains(t, me, "password")
	assert.NotContains(t, me, "PasswordHash")

	w = api.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@x.com", "password": "wrong"})
	wrong := decode[middleware.ErrorBody](t, w)
	w = api.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "nobody@x.com", "password": "wrong"})
	unknown := decode[middleware.ErrorBody](t, w)
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
	assert.Equal(t, wrong, unknown)
}

func TestRefreshAndLogout(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	api.seedUser("nurse@x.com", models.UserRoleUser)

	w := api.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "nurse@x.com", "password": testPassword})
	tokens := decode[service.Tokens](t, w)

	w = api.do(http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decode[service.Tokens](t, w)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	w = api.do(http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/auth/logout", "", gin.H{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = api.do(http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePasswordRoute(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	token := api.seedUser("nurse@x.com", models.UserRoleUser)

	w := api.do(http.MethodPatch, "/api/auth/change-password", token, gin.H{"currentPassword": "nope", "newPassword": "Better2@"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPatch, "/api/auth/change-password", token, gin.H{"currentPassword": testPassword, "newPassword": "weak"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPatch, "/api/auth/change-password", token, gin.H{"currentPassword": testPassword, "newPassword": "Better2@"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRegistrationAndUserAccess(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	adminToken := api.seedUser("admin@x.com", models.UserRoleAdmin)

	w := api.do(http.MethodPost, "/api/users", "", gin.H{"email": "new@x.com", "username": "newbie", "password": testPassword})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.User](t, w)
	assert.Equal(t, models.UserRoleUser, created.Role)

	w = api.do(http.MethodPost, "/api/users", "", gin.H{"email": "new@x.com", "username": "other", "password": testPassword})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodPost, "/api/users", "", gin.H{"email": "bad", "username": "x", "password": testPassword})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/users", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[listResponse[models.User]](t, w)
	assert.Equal(t, 2, list.Total)

	userToken := api.seedUser("nurse@x.com", models.UserRoleUser)
	w = api.do(http.MethodGet, "/api/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/api/users/"+created.ID, userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/api/users/"+created.ID, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoleGatingOnPatients(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	userToken := api.seedUser("nurse@x.com", models.UserRoleUser)

	w := api.do(http.MethodPost, "/api/patients", userToken, gin.H{"id_patient": "P-1", "name": "Ada"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/patients", "", gin.H{"id_patient": "P-1", "name": "Ada"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodGet, "/api/patients", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid or expired token", decode[middleware.ErrorBody](t, w).Message)
}

func TestPatientDeviceRoomFlow(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	admin := api.seedUser("admin@x.com", models.UserRoleAdmin)
	nurse := api.seedUser("nurse@x.com", models.UserRoleUser)

	w := api.do(http.MethodPost, "/api/rooms", admin, gin.H{"name": 7, "capacity": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(http.MethodPost, "/api/devices", admin, gin.H{"id_device": "D-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	device := decode[models.Device](t, w)

	w = api.do(http.MethodPost, "/api/patients", admin, gin.H{"id_patient": "P-1", "name": "Ada", "room": 7})
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[models.Patient](t, w)

	w = api.do(http.MethodPost, "/api/patients", admin, gin.H{"id_patient": "P-2", "name": "Bo"})
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[models.Patient](t, w)

	w = api.do(http.MethodPut, "/api/patients/"+second.ID+"/room", nurse, gin.H{"room": 7})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "room 7 is at capacity", decode[middleware.ErrorBody](t, w).Message)

	w = api.do(http.MethodPost, "/api/patients/"+first.ID+"/device", nurse, gin.H{"id_device": "D-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "D-1", *decode[models.Patient](t, w).IDDevice)

	w = api.do(http.MethodGet, "/api/devices/"+device.ID, nurse, nil)
	linked := decode[models.Device](t, w)
	require.NotNil(t, linked.IDPatient)
	assert.Equal(t, "P-1", *linked.IDPatient)
	assert.Equal(t, 7, *linked.Room)

	w = api.do(http.MethodGet, "/api/devices/battery/D-1", nurse, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"battery_level":100,"id_device":"D-1"}`, w.Body.String())

	w = api.do(http.MethodGet, "/api/devices/battery/missing", nurse, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodGet, "/api/rooms", nurse, nil)
	rooms := decode[listResponse[models.Room]](t, w)
	require.Len(t, rooms.Data, 1)
	assert.Equal(t, 1, rooms.Data[0].Occupancy)

	w = api.do(http.MethodPatch, "/api/patients/"+first.ID, nurse, gin.H{"room": nil})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[models.Patient](t, w).Room)

	w = api.do(http.MethodDelete, "/api/patients/"+first.ID+"/device", nurse, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[models.Patient](t, w).IDDevice)
}

func TestArchiveTwiceAndExport(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	admin := api.seedUser("admin@x.com", models.UserRoleAdmin)

	w := api.do(http.MethodPost, "/api/patients", admin, gin.H{"id_patient": "P-1", "name": "Ada"})
	require.Equal(t, http.StatusCreated, w.Code)
	patient := decode[models.Patient](t, w)

	w = api.do(http.MethodPost, "/api/patients/"+patient.ID+"/archive", admin, gin.H{"status": "Released"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = api.do(http.MethodPost, "/api/patients/"+patient.ID+"/archive", admin, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(http.MethodGet, "/api/archived_patients", admin, nil)
	archived := decode[listResponse[models.ArchivedPatient]](t, w)
	assert.Equal(t, 2, archived.Total)

	w = api.do(http.MethodGet, "/api/patients", admin, nil)
	assert.Equal(t, 0, decode[listResponse[models.Patient]](t, w).Total)

	w = api.do(http.MethodGet, "/api/archived_patients/export.xlsx", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}

func TestAlertsEnvelopeAndResolve(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	nurse := api.seedUser("nurse@x.com", models.UserRoleUser)

	w := api.do(http.MethodPost, "/api/alerts", nurse, gin.H{"message": "fall in corridor"})
	require.Equal(t, http.StatusCreated, w.Code)
	alert := decode[models.Alert](t, w)

	w = api.do(http.MethodGet, "/api/alerts?status=open", nurse, nil)
	assert.Equal(t, 1, decode[listResponse[models.Alert]](t, w).Total)

	w = api.do(http.MethodPatch, "/api/alerts/"+alert.ID+"/resolve", nurse, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AlertStatusResolved, decode[models.Alert](t, w).Status)

	w = api.do(http.MethodGet, "/api/alerts?status=open", nurse, nil)
	assert.JSONEq(t, `{"data":[],"total":0}`, w.Body.String())

	w = api.do(http.MethodGet, "/api/alerts?status=bogus", nurse, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func signedTelemetry(t *testing.T, device, nonce string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	date := time.Now().UTC().Format(time.RFC3339)
	sig := security.ComputeSignature("device-secret", device, http.MethodPost, "/api/telemetry", "", security.ComputeBodyHash(raw), date, nonce)

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.HeaderDevice, device)
	req.Header.Set(security.HeaderDate, date)
	req.Header.Set(security.HeaderNonce, nonce)
	req.Header.Set(security.HeaderSignature, sig)
	return req
}

func TestSignedTelemetryAppliesReading(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	_, err := api.svc.Devices.Create(context.Background(), service.DeviceInput{IDDevice: strPtr("D-9")})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, signedTelemetry(t, "D-9", "n1", gin.H{"help_needed": true}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	device := decode[models.Device](t, w)
	assert.True(t, device.HelpNeeded)
	assert.NotNil(t, device.Alert)

	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, signedTelemetry(t, "D-9", "n2", gin.H{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignedTelemetryEnqueues(t *testing.T) {
	q := &recordingQueue{}
	api := newTestAPI(t, q, nil)
	_, err := api.svc.Devices.Create(context.Background(), service.DeviceInput{IDDevice: strPtr("D-9")})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, signedTelemetry(t, "D-9", "n1", gin.H{"battery_level": 12}))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.tasks, 1)
	reading := q.tasks[0].(service.Reading)
	assert.Equal(t, "D-9", reading.IDDevice)
	assert.Equal(t, 12, *reading.BatteryLevel)

	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, signedTelemetry(t, "D-404", "n2", gin.H{"battery_level": 12}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, q.tasks, 1)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return errors.New("connection refused") },
	})

	w := api.do(http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[healthResponse](t, w)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"database": "ok", "cache": "error"}, body.Checks)
}

func strPtr(s string) *string { return &s }
