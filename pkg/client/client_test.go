package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/models"
)

// fakeAPI accepts only the current access token on /api/patients and holds
// every rejected request until `concurrent` of them arrived, so their 401s
// land together.
type fakeAPI struct {
	mu           sync.Mutex
	access       string
	refreshOK    bool
	refreshCalls atomic.Int32
	arrived      sync.WaitGroup
}

func newFakeAPI(concurrent int, refreshOK bool) *fakeAPI {
	api := &fakeAPI{access: "new-access", refreshOK: refreshOK}
	api.arrived.Add(concurrent)
	return api
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/auth/refresh":
		a.refreshCalls.Add(1)
		time.Sleep(100 * time.Millisecond)
		if !a.refreshOK {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"statusCode":401,"error":"Unauthorized","message":"invalid refresh token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Tokens{AccessToken: "new-access", RefreshToken: "new-refresh"})
	case "/api/patients":
		a.mu.Lock()
		valid := r.Header.Get("Authorization") == "Bearer "+a.access
		a.mu.Unlock()
		if !valid {
			a.arrived.Done()
			a.arrived.Wait()
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"statusCode":401,"error":"Unauthorized","message":"invalid or expired token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[],"total":0}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func fire(t *testing.T, c *Client, n int) []error {
	t.Helper()
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.ListPatients(context.Background())
		}(i)
	}
	wg.Wait()
	return errs
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	api := newFakeAPI(3, true)
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set("old-access", "old-refresh"))
	c := New(Options{BaseURL: srv.URL, Tokens: store})

	for _, err := range fire(t, c, 3) {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, "new-access", store.Access())
	assert.Equal(t, "new-refresh", store.Refresh())
}

func TestFailedRefreshFailsEveryWaiter(t *testing.T) {
	api := newFakeAPI(3, false)
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set("old-access", "old-refresh"))
	var expired atomic.Int32
	c := New(Options{
		BaseURL:          srv.URL,
		Tokens:           store,
		OnSessionExpired: func(error) { expired.Add(1) },
	})

	for _, err := range fire(t, c, 3) {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, int32(1), expired.Load())
	assert.Empty(t, store.Access())
	assert.Empty(t, store.Refresh())
}

func TestLateRejectionDoesNotEndSessionTwice(t *testing.T) {
	var (
		arrivals  sync.WaitGroup
		order     atomic.Int32
		refreshes atomic.Int32
		expired   atomic.Int32
		ended     = make(chan struct{})
		endOnce   sync.Once
	)
	arrivals.Add(2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/auth/refresh" {
			refreshes.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"statusCode":401,"error":"Unauthorized","message":"invalid refresh token"}`))
			return
		}
		arrivals.Done()
		arrivals.Wait()
		if order.Add(1) == 2 {
			select {
			case <-ended:
			case <-time.After(2 * time.Second):
			}
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"statusCode":401,"error":"Unauthorized","message":"invalid or expired token"}`))
	}))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set("old-access", "old-refresh"))
	c := New(Options{
		BaseURL: srv.URL,
		Tokens:  store,
		OnSessionExpired: func(error) {
			expired.Add(1)
			endOnce.Do(func() { close(ended) })
		},
	})

	for _, err := range fire(t, c, 2) {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(1), expired.Load())
}

func TestMissingRefreshTokenEndsSession(t *testing.T) {
	api := newFakeAPI(1, true)
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.SetAccess("old-access"))
	var reported error
	c := New(Options{BaseURL: srv.URL, Tokens: store, OnSessionExpired: func(err error) { reported = err }})

	_, err := c.ListPatients(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.ErrorIs(t, reported, ErrSessionExpired)
	assert.Zero(t, api.refreshCalls.Load())
	assert.Empty(t, store.Access())
}

func TestReplacedTokenRetriesWithoutRefresh(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set("fresh", "refresh"))
	c := New(Options{BaseURL: "http://127.0.0.1:1", Tokens: store})

	token, err := c.renew(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestNetworkErrorIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set("a", "r"))
	c := New(Options{BaseURL: url, Tokens: store, Timeout: time.Second})

	_, err := c.ListPatients(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, "a", store.Access())
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"statusCode":409,"error":"Conflict","message":"room 7 is at capacity"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	room := 7
	_, err := c.AssignRoom(context.Background(), "p1", &room)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "room 7 is at capacity", apiErr.Message)
}

func TestListPatientsDecodesServerShape(t *testing.T) {
	device, room := "D-1", 7
	served := models.Patient{ID: "p1", IDPatient: "P-1", IDDevice: &device, Name: "Ann", Room: &room}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []models.Patient{served}, "total": 1})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	list, err := c.ListPatients(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, 1, list.Total)

	got := list.Data[0]
	assert.Equal(t, "P-1", got.IDPatient)
	assert.Equal(t, "Ann", got.Name)
	require.NotNil(t, got.IDDevice)
	assert.Equal(t, "D-1", *got.IDDevice)
	require.NotNil(t, got.Room)
	assert.Equal(t, 7, *got.Room)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ward", "tokens.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, store.Access())
	require.NoError(t, store.Set("a1", "r1"))

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, "a1", reloaded.Access())
	assert.Equal(t, "r1", reloaded.Refresh())

	require.NoError(t, reloaded.Clear())
	again, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, again.Refresh())
}
