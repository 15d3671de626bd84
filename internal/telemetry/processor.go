// Package telemetry turns device readings into device state and alerts.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/queue"
	"github.com/stopka007/IoT-sub000/internal/service"
)

type DeviceUpdater interface {
	ApplyTelemetry(ctx context.Context, reading service.Reading) (models.Device, error)
	BatterySweep(ctx context.Context) (int, error)
}

// Processor handles worker tasks read from the stream.
type Processor struct {
	devices DeviceUpdater
	logger  zerolog.Logger
}

func NewProcessor(devices DeviceUpdater, logger zerolog.Logger) *Processor {
	return &Processor{
		devices: devices,
		logger:  logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := queue.DecodeTask(msg)
	if err != nil {
		return queue.Permanent(err)
	}

	switch task.Type {
	case queue.TaskTelemetry:
		return p.handleTelemetry(ctx, task.Payload)
	case queue.TaskBatterySweep:
		return p.handleBatterySweep(ctx)
	default:
		p.logger.Warn().Str("type", task.Type).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleTelemetry(ctx context.Context, payload json.RawMessage) error {
	var reading service.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return queue.Permanent(fmt.Errorf("decode telemetry: %w", err))
	}

	device, err := p.devices.ApplyTelemetry(ctx, reading)
	if err != nil {
		// Unknown devices and invalid readings will not improve on retry.
		if appErr := apperr.From(err); appErr.StatusCode < http.StatusInternalServerError {
			return queue.Permanent(err)
		}
		return err
	}

	p.logger.Debug().
		Str("id_device", device.IDDevice).
		Int("battery_level", device.BatteryLevel).
		Bool("help_needed", device.HelpNeeded).
		Msg("telemetry applied")
	return nil
}

func (p *Processor) handleBatterySweep(ctx context.Context) error {
	opened, err := p.devices.BatterySweep(ctx)
	if err != nil {
		return err
	}
	p.logger.Info().Int("opened", opened).Msg("battery sweep finished")
	return nil
}
