package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository/memstore"
)

func newDevices(t *testing.T) (*DeviceService, *AlertService, *memstore.Store, *recordingPublisher) {
	t.Helper()
	store := memstore.New()
	pub := &recordingPublisher{}
	return NewDeviceService(store, pub, 15, testLogger), NewAlertService(store, pub, testLogger), store, pub
}

func openAlerts(t *testing.T, store *memstore.Store) []models.Alert {
	t.Helper()
	status := models.AlertStatusOpen
	alerts, _, err := store.Alerts().List(context.Background(), &status, 0, 0)
	require.NoError(t, err)
	return alerts
}

func TestHelpTransitionOpensOneAlert(t *testing.T) {
	devices, _, store, pub := newDevices(t)
	ctx := context.Background()
	seedDevice(t, store, "D-1")

	got, err := devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", HelpNeeded: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, got.HelpNeeded)
	require.NotNil(t, got.Alert)

	_, err = devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", HelpNeeded: boolPtr(true)})
	require.NoError(t, err)

	alerts := openAlerts(t, store)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeHelp, alerts[0].Type)
	assert.Equal(t, *got.Alert, alerts[0].ID)

	updates := pub.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "D-1", updates[0].ID)
	assert.True(t, updates[0].HelpNeeded)
}

func TestLowBatteryOpensSingleAlert(t *testing.T) {
	devices, _, store, _ := newDevices(t)
	ctx := context.Background()
	seedDevice(t, store, "D-1")

	_, err := devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", BatteryLevel: intPtr(10)})
	require.NoError(t, err)
	_, err = devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", BatteryLevel: intPtr(8)})
	require.NoError(t, err)

	alerts := openAlerts(t, store)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeBattery, alerts[0].Type)

	opened, err := devices.BatterySweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, opened)
}

func TestBatterySweepOpensMissingAlerts(t *testing.T) {
	devices, _, store, _ := newDevices(t)
	ctx := context.Background()
	low := models.Device{ID: "dev-low", IDDevice: "D-LOW", BatteryLevel: 5}
	require.NoError(t, store.Devices().Create(ctx, low))
	seedDevice(t, store, "D-FULL")

	opened, err := devices.BatterySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)

	opened, err = devices.BatterySweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, opened)
}

func TestTelemetryValidation(t *testing.T) {
	devices, _, store, _ := newDevices(t)
	ctx := context.Background()
	seedDevice(t, store, "D-1")

	_, err := devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", BatteryLevel: intPtr(101)})
	assert.Equal(t, http.StatusBadRequest, apperr.From(err).StatusCode)

	_, err = devices.ApplyTelemetry(ctx, Reading{IDDevice: "missing", HelpNeeded: boolPtr(true)})
	assert.Equal(t, http.StatusNotFound, apperr.From(err).StatusCode)
}

func TestResolveHelpAlertClearsDevice(t *testing.T) {
	devices, alerts, store, pub := newDevices(t)
	ctx := context.Background()
	seedDevice(t, store, "D-1")

	device, err := devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", HelpNeeded: boolPtr(true)})
	require.NoError(t, err)

	resolved, err := alerts.Resolve(ctx, *device.Alert)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	after, err := devices.GetByExternalID(ctx, "D-1")
	require.NoError(t, err)
	assert.False(t, after.HelpNeeded)
	assert.Nil(t, after.Alert)

	updates := pub.all()
	require.Len(t, updates, 2)
	assert.False(t, updates[1].HelpNeeded)

	_, err = alerts.Resolve(ctx, *device.Alert)
	assert.NoError(t, err)
	assert.Len(t, pub.all(), 2)
}

func TestDeleteDeviceClearsPatientLink(t *testing.T) {
	devices, _, store, _ := newDevices(t)
	patients := NewPatientService(store, nil, testLogger)
	ctx := context.Background()
	device := seedDevice(t, store, "D-1")

	patient, err := patients.Create(ctx, PatientInput{IDPatient: strPtr("P-1"), Name: strPtr("Ann"), IDDevice: strPtr("D-1")})
	require.NoError(t, err)

	require.NoError(t, devices.Delete(ctx, device.ID))

	got, err := store.Patients().GetByID(ctx, patient.ID)
	require.NoError(t, err)
	assert.Nil(t, got.IDDevice)
}

func TestRenameDeviceFollowsPatient(t *testing.T) {
	devices, _, store, _ := newDevices(t)
	patients := NewPatientService(store, nil, testLogger)
	ctx := context.Background()
	device := seedDevice(t, store, "D-1")

	patient, err := patients.Create(ctx, PatientInput{IDPatient: strPtr("P-1"), Name: strPtr("Ann"), IDDevice: strPtr("D-1")})
	require.NoError(t, err)

	_, err = devices.Update(ctx, device.ID, DeviceInput{IDDevice: strPtr("D-2")})
	require.NoError(t, err)

	got, err := store.Patients().GetByID(ctx, patient.ID)
	require.NoError(t, err)
	assert.Equal(t, "D-2", *got.IDDevice)
}

func TestRenameDeviceKeepsAlertsAttached(t *testing.T) {
	devices, alerts, store, _ := newDevices(t)
	ctx := context.Background()
	device := seedDevice(t, store, "D-1")

	helped, err := devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-1", HelpNeeded: boolPtr(true), BatteryLevel: intPtr(10)})
	require.NoError(t, err)
	require.NotNil(t, helped.Alert)

	_, err = devices.Update(ctx, device.ID, DeviceInput{IDDevice: strPtr("D-2")})
	require.NoError(t, err)

	_, err = devices.ApplyTelemetry(ctx, Reading{IDDevice: "D-2", BatteryLevel: intPtr(9)})
	require.NoError(t, err)

	open := openAlerts(t, store)
	require.Len(t, open, 2)
	for _, a := range open {
		require.NotNil(t, a.IDDevice)
		assert.Equal(t, "D-2", *a.IDDevice)
	}

	_, err = alerts.Resolve(ctx, *helped.Alert)
	require.NoError(t, err)

	after, err := devices.GetByExternalID(ctx, "D-2")
	require.NoError(t, err)
	assert.False(t, after.HelpNeeded)
	assert.Nil(t, after.Alert)
}

func TestRoomDeleteRejectsOccupied(t *testing.T) {
	store := memstore.New()
	rooms := NewRoomService(store, testLogger)
	patients := NewPatientService(store, nil, testLogger)
	ctx := context.Background()
	room := seedRoom(t, store, 5, 1)

	_, err := patients.Create(ctx, PatientInput{IDPatient: strPtr("P-1"), Name: strPtr("Ann"), Room: intPtr(5)})
	require.NoError(t, err)

	err = rooms.Delete(ctx, room.ID)
	assert.Equal(t, http.StatusConflict, apperr.From(err).StatusCode)

	_, err = rooms.Update(ctx, room.ID, RoomInput{Capacity: intPtr(0)})
	assert.Equal(t, http.StatusConflict, apperr.From(err).StatusCode)

	listed, err := rooms.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].Occupancy)
}
