package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/queue"
	"github.com/stopka007/IoT-sub000/internal/service"
)

type fakeUpdater struct {
	readings []service.Reading
	sweeps   int
	err      error
}

func (f *fakeUpdater) ApplyTelemetry(_ context.Context, reading service.Reading) (models.Device, error) {
	f.readings = append(f.readings, reading)
	if f.err != nil {
		return models.Device{}, f.err
	}
	return models.Device{IDDevice: reading.IDDevice}, nil
}

func (f *fakeUpdater) BatterySweep(context.Context) (int, error) {
	f.sweeps++
	return 0, f.err
}

func message(taskType, payload string) redis.XMessage {
	return redis.XMessage{ID: "1-0", Values: map[string]interface{}{"type": taskType, "payload": payload}}
}

func TestProcessorAppliesTelemetry(t *testing.T) {
	updater := &fakeUpdater{}
	p := NewProcessor(updater, zerolog.Nop())

	err := p.Handle(context.Background(), message(queue.TaskTelemetry, `{"id_device":"D-1","battery_level":42,"help_needed":true}`))
	require.NoError(t, err)
	require.Len(t, updater.readings, 1)
	assert.Equal(t, "D-1", updater.readings[0].IDDevice)
	assert.Equal(t, 42, *updater.readings[0].BatteryLevel)
	assert.True(t, *updater.readings[0].HelpNeeded)
}

func TestProcessorRunsBatterySweep(t *testing.T) {
	updater := &fakeUpdater{}
	p := NewProcessor(updater, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), message(queue.TaskBatterySweep, "")))
	assert.Equal(t, 1, updater.sweeps)
}

func TestProcessorErrorClassification(t *testing.T) {
	ctx := context.Background()

	p := NewProcessor(&fakeUpdater{}, zerolog.Nop())
	err := p.Handle(ctx, message(queue.TaskTelemetry, `not json`))
	assert.True(t, queue.IsPermanent(err))

	err = p.Handle(ctx, redis.XMessage{ID: "1-0", Values: map[string]interface{}{}})
	assert.True(t, queue.IsPermanent(err))

	p = NewProcessor(&fakeUpdater{err: apperr.NotFound("device not found")}, zerolog.Nop())
	err = p.Handle(ctx, message(queue.TaskTelemetry, `{"id_device":"nope","help_needed":true}`))
	assert.True(t, queue.IsPermanent(err))

	p = NewProcessor(&fakeUpdater{err: errors.New("connection reset")}, zerolog.Nop())
	err = p.Handle(ctx, message(queue.TaskTelemetry, `{"id_device":"D-1","help_needed":true}`))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	assert.NoError(t, p.Handle(ctx, message("unknown", "{}")))
}

func TestParseMessage(t *testing.T) {
	reading, err := ParseMessage("wards/3/devices/D-7/telemetry", []byte(`{"battery_level":12}`))
	require.NoError(t, err)
	assert.Equal(t, "D-7", reading.IDDevice)
	assert.Equal(t, 12, *reading.BatteryLevel)
	assert.False(t, reading.At.IsZero())

	reading, err = ParseMessage("wards/3/devices/D-7/telemetry", []byte(`{"id_device":"D-8","help_needed":false}`))
	require.NoError(t, err)
	assert.Equal(t, "D-8", reading.IDDevice)

	_, err = ParseMessage("wards/3/telemetry", []byte(`{"battery_level":12}`))
	assert.Error(t, err)

	_, err = ParseMessage("wards/3/devices/D-7/telemetry", []byte(`{}`))
	assert.Error(t, err)

	_, err = ParseMessage("wards/3/devices/D-7/telemetry", []byte(`{`))
	assert.Error(t, err)
}
