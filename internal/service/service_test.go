package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository/memstore"
	"github.com/stopka007/IoT-sub000/internal/security"
)

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		JWTSecret:     "test-secret",
		JWTAccessTTL:  15 * time.Minute,
		JWTRefreshTTL: time.Hour,
		MaxSessions:   3,
		BcryptCost:    4,
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.DeviceUpdate
}

func (p *recordingPublisher) PublishDeviceUpdate(_ context.Context, update models.DeviceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *recordingPublisher) all() []models.DeviceUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DeviceUpdate(nil), p.updates...)
}

type memorySnapshots struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{objects: make(map[string][]byte)}
}

func (m *memorySnapshots) PutSnapshot(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = body
	return nil
}

func (m *memorySnapshots) RemoveSnapshot(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memorySnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func seedUser(t *testing.T, store *memstore.Store, email, password string, role models.UserRole) models.User {
	t.Helper()
	hash, err := security.HashPassword(password, 4)
	require.NoError(t, err)
	user := models.User{
		ID:           ids.New(),
		Email:        email,
		Username:     email,
		PasswordHash: hash,
		Role:         role,
	}
	require.NoError(t, store.Users().Create(context.Background(), user))
	return user
}

func seedRoom(t *testing.T, store *memstore.Store, name, capacity int) models.Room {
	t.Helper()
	room := models.Room{ID: ids.New(), Name: name, Capacity: capacity}
	require.NoError(t, store.Rooms().Create(context.Background(), room))
	return room
}

func seedDevice(t *testing.T, store *memstore.Store, idDevice string) models.Device {
	t.Helper()
	device := models.Device{ID: ids.New(), IDDevice: idDevice, BatteryLevel: 100}
	require.NoError(t, store.Devices().Create(context.Background(), device))
	return device
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

var testLogger = zerolog.Nop()
