package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

// UpdatePublisher fans device state changes out to live subscribers.
type UpdatePublisher interface {
	PublishDeviceUpdate(ctx context.Context, update models.DeviceUpdate) error
}

type DeviceService struct {
	store      repository.Store
	runner     *Runner
	publisher  UpdatePublisher
	lowBattery int
	log        zerolog.Logger
}

// NewDeviceService wires device workflows. publisher may be nil.
func NewDeviceService(store repository.Store, publisher UpdatePublisher, lowBattery int, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		store:      store,
		runner:     NewRunner(store, log),
		publisher:  publisher,
		lowBattery: lowBattery,
		log:        log,
	}
}

func (s *DeviceService) List(ctx context.Context, limit, offset int) ([]models.Device, int, error) {
	return s.store.Devices().List(ctx, limit, offset)
}

func (s *DeviceService) Get(ctx context.Context, id string) (models.Device, error) {
	return s.store.Devices().GetByID(ctx, id)
}

func (s *DeviceService) GetByExternalID(ctx context.Context, idDevice string) (models.Device, error) {
	return s.store.Devices().GetByExternalID(ctx, idDevice)
}

type DeviceInput struct {
	IDDevice     *string
	BatteryLevel *int
	HelpNeeded   *bool
}

func validBattery(level *int) error {
	if level != nil && (*level < 0 || *level > 100) {
		return apperr.BadRequest("battery_level must be between 0 and 100")
	}
	return nil
}

func (s *DeviceService) Create(ctx context.Context, input DeviceInput) (models.Device, error) {
	if input.IDDevice == nil || strings.TrimSpace(*input.IDDevice) == "" {
		return models.Device{}, apperr.BadRequest("id_device is required")
	}
	if err := validBattery(input.BatteryLevel); err != nil {
		return models.Device{}, err
	}

	device := models.Device{
		ID:           ids.New(),
		IDDevice:     strings.TrimSpace(*input.IDDevice),
		BatteryLevel: 100,
	}
	if input.BatteryLevel != nil {
		device.BatteryLevel = *input.BatteryLevel
	}
	if input.HelpNeeded != nil {
		device.HelpNeeded = *input.HelpNeeded
	}
	if err := s.store.Devices().Create(ctx, device); err != nil {
		return models.Device{}, err
	}
	return s.store.Devices().GetByID(ctx, device.ID)
}

// Update renames the device or applies a manual reading. Readings go through
// the same alert rules as telemetry.
func (s *DeviceService) Update(ctx context.Context, id string, input DeviceInput) (models.Device, error) {
	if err := validBattery(input.BatteryLevel); err != nil {
		return models.Device{}, err
	}

	var (
		updated models.Device
		changed bool
	)
	err := s.runner.Run(ctx, Command{
		Name: "update_device",
		Execute: func(ctx context.Context, tx repository.Store) error {
			device, err := tx.Devices().GetByID(ctx, id)
			if err != nil {
				return err
			}
			if input.IDDevice != nil {
				next := strings.TrimSpace(*input.IDDevice)
				if next == "" {
					return apperr.BadRequest("id_device must not be empty")
				}
				if next != device.IDDevice {
					if err := renameDevice(ctx, tx, &device, next); err != nil {
						return err
					}
				}
			}
			updated, changed, err = s.applyReading(ctx, tx, device, Reading{
				BatteryLevel: input.BatteryLevel,
				HelpNeeded:   input.HelpNeeded,
				At:           time.Now().UTC(),
			})
			return err
		},
	})
	if err != nil {
		return models.Device{}, err
	}
	if changed {
		s.publish(ctx, updated)
	}
	return s.store.Devices().GetByID(ctx, id)
}

func renameDevice(ctx context.Context, tx repository.Store, device *models.Device, next string) error {
	previous := device.IDDevice
	device.IDDevice = next
	device.UpdatedAt = time.Now().UTC()
	if err := tx.Devices().Update(ctx, *device); err != nil {
		return err
	}
	if err := tx.Alerts().RenameDevice(ctx, previous, next); err != nil {
		return err
	}
	patient, err := tx.Patients().GetByDevice(ctx, previous)
	if err != nil {
		if errors.Is(err, repository.ErrPatientNotFound) {
			return nil
		}
		return err
	}
	return tx.Patients().SetDevice(ctx, patient.ID, &next)
}

// Delete removes the device and clears the link on its patient.
func (s *DeviceService) Delete(ctx context.Context, id string) error {
	return s.runner.Run(ctx, Command{
		Name: "delete_device",
		Execute: func(ctx context.Context, tx repository.Store) error {
			device, err := tx.Devices().GetByID(ctx, id)
			if err != nil {
				return err
			}
			patient, err := tx.Patients().GetByDevice(ctx, device.IDDevice)
			switch {
			case err == nil:
				if err := tx.Patients().SetDevice(ctx, patient.ID, nil); err != nil {
					return err
				}
			case !errors.Is(err, repository.ErrPatientNotFound):
				return err
			}
			return tx.Devices().Delete(ctx, id)
		},
	})
}

// Reading is one telemetry sample. Nil fields are left unchanged.
type Reading struct {
	IDDevice     string    `json:"id_device"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	HelpNeeded   *bool     `json:"help_needed,omitempty"`
	At           time.Time `json:"at"`
}

// ApplyTelemetry records a reading from the device itself and publishes the
// resulting state.
func (s *DeviceService) ApplyTelemetry(ctx context.Context, reading Reading) (models.Device, error) {
	if reading.IDDevice == "" {
		return models.Device{}, apperr.BadRequest("id_device is required")
	}
	if err := validBattery(reading.BatteryLevel); err != nil {
		return models.Device{}, err
	}
	if reading.At.IsZero() {
		reading.At = time.Now().UTC()
	}

	var (
		updated models.Device
		changed bool
	)
	err := s.runner.Run(ctx, Command{
		Name: "apply_telemetry",
		Execute: func(ctx context.Context, tx repository.Store) error {
			device, err := tx.Devices().LockByExternalID(ctx, reading.IDDevice)
			if err != nil {
				return err
			}
			updated, changed, err = s.applyReading(ctx, tx, device, reading)
			return err
		},
	})
	if err != nil {
		return models.Device{}, err
	}
	if changed {
		s.publish(ctx, updated)
	}
	return updated, nil
}

// applyReading writes the reading and opens alerts: a help alert when
// help_needed turns on, a battery alert when the level drops below the
// threshold and none is open.
func (s *DeviceService) applyReading(ctx context.Context, tx repository.Store, device models.Device, reading Reading) (models.Device, bool, error) {
	wasHelp := device.HelpNeeded
	changed := false

	if reading.BatteryLevel != nil && *reading.BatteryLevel != device.BatteryLevel {
		device.BatteryLevel = *reading.BatteryLevel
		changed = true
	}
	if reading.HelpNeeded != nil && *reading.HelpNeeded != device.HelpNeeded {
		device.HelpNeeded = *reading.HelpNeeded
		changed = true
	}
	if !changed {
		return device, false, nil
	}

	if device.HelpNeeded && !wasHelp {
		alert := newDeviceAlert(device, models.AlertTypeHelp, helpMessage(device), reading.At)
		if err := tx.Alerts().Create(ctx, alert); err != nil {
			return device, false, err
		}
		device.Alert = &alert.ID
	}
	if reading.BatteryLevel != nil {
		if err := s.ensureBatteryAlert(ctx, tx, device, reading.At); err != nil {
			return device, false, err
		}
	}

	device.UpdatedAt = reading.At
	if err := tx.Devices().Update(ctx, device); err != nil {
		return device, false, err
	}
	return device, true, nil
}

func (s *DeviceService) ensureBatteryAlert(ctx context.Context, tx repository.Store, device models.Device, at time.Time) error {
	if s.lowBattery <= 0 || device.BatteryLevel >= s.lowBattery {
		return nil
	}
	_, err := tx.Alerts().FindOpen(ctx, device.IDDevice, models.AlertTypeBattery)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrAlertNotFound) {
		return err
	}
	msg := fmt.Sprintf("Device %s battery at %d%%", device.IDDevice, device.BatteryLevel)
	return tx.Alerts().Create(ctx, newDeviceAlert(device, models.AlertTypeBattery, msg, at))
}

// BatterySweep opens battery alerts for every low device that lacks one and
// returns how many were opened.
func (s *DeviceService) BatterySweep(ctx context.Context) (int, error) {
	if s.lowBattery <= 0 {
		return 0, nil
	}
	devices, err := s.store.Devices().ListLowBattery(ctx, s.lowBattery)
	if err != nil {
		return 0, err
	}

	opened := 0
	now := time.Now().UTC()
	for _, device := range devices {
		created := false
		err := s.store.WithinTx(ctx, func(tx repository.Store) error {
			if _, err := tx.Alerts().FindOpen(ctx, device.IDDevice, models.AlertTypeBattery); err == nil {
				return nil
			} else if !errors.Is(err, repository.ErrAlertNotFound) {
				return err
			}
			msg := fmt.Sprintf("Device %s battery at %d%%", device.IDDevice, device.BatteryLevel)
			created = true
			return tx.Alerts().Create(ctx, newDeviceAlert(device, models.AlertTypeBattery, msg, now))
		})
		if err != nil {
			return opened, err
		}
		if created {
			opened++
		}
	}
	return opened, nil
}

func (s *DeviceService) publish(ctx context.Context, device models.Device) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDeviceUpdate(ctx, device.LiveUpdate()); err != nil {
		s.log.Warn().Err(err).Str("id_device", device.IDDevice).Msg("publish device update failed")
	}
}

func newDeviceAlert(device models.Device, alertType models.AlertType, message string, at time.Time) models.Alert {
	idDevice := device.IDDevice
	return models.Alert{
		ID:        ids.New(),
		IDPatient: device.IDPatient,
		IDDevice:  &idDevice,
		Timestamp: at,
		Status:    models.AlertStatusOpen,
		Message:   message,
		Type:      alertType,
	}
}

func helpMessage(device models.Device) string {
	switch {
	case device.PatientName != nil && device.Room != nil:
		return fmt.Sprintf("%s needs help in room %d", *device.PatientName, *device.Room)
	case device.PatientName != nil:
		return fmt.Sprintf("%s needs help", *device.PatientName)
	default:
		return fmt.Sprintf("Device %s requested help", device.IDDevice)
	}
}
