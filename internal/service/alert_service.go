package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

type AlertService struct {
	store     repository.Store
	runner    *Runner
	publisher UpdatePublisher
	log       zerolog.Logger
}

func NewAlertService(store repository.Store, publisher UpdatePublisher, log zerolog.Logger) *AlertService {
	return &AlertService{
		store:     store,
		runner:    NewRunner(store, log),
		publisher: publisher,
		log:       log,
	}
}

func (s *AlertService) List(ctx context.Context, status *models.AlertStatus, limit, offset int) ([]models.Alert, int, error) {
	if status != nil && *status != models.AlertStatusOpen && *status != models.AlertStatusResolved {
		return nil, 0, apperr.BadRequest("unknown alert status %q", *status)
	}
	return s.store.Alerts().List(ctx, status, limit, offset)
}

func (s *AlertService) Get(ctx context.Context, id string) (models.Alert, error) {
	return s.store.Alerts().GetByID(ctx, id)
}

type AlertInput struct {
	IDPatient *string
	IDDevice  *string
	Message   string
}

// Create raises a manual alert.
func (s *AlertService) Create(ctx context.Context, input AlertInput) (models.Alert, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return models.Alert{}, apperr.BadRequest("message is required")
	}
	alert := models.Alert{
		ID:        ids.New(),
		IDPatient: input.IDPatient,
		IDDevice:  input.IDDevice,
		Timestamp: time.Now().UTC(),
		Status:    models.AlertStatusOpen,
		Message:   message,
		Type:      models.AlertTypeManual,
	}
	if err := s.store.Alerts().Create(ctx, alert); err != nil {
		return models.Alert{}, err
	}
	return s.store.Alerts().GetByID(ctx, alert.ID)
}

// Resolve closes the alert. Resolving a help alert also clears the help
// flag on its device, which is then broadcast. Resolving twice is a no-op.
func (s *AlertService) Resolve(ctx context.Context, id string) (models.Alert, error) {
	var (
		device  models.Device
		cleared bool
	)
	err := s.runner.Run(ctx, Command{
		Name: "resolve_alert",
		Execute: func(ctx context.Context, tx repository.Store) error {
			alert, err := tx.Alerts().GetByID(ctx, id)
			if err != nil {
				return err
			}
			if alert.Status == models.AlertStatusResolved {
				return nil
			}
			if err := tx.Alerts().Resolve(ctx, id, time.Now().UTC()); err != nil {
				return err
			}
			if alert.Type != models.AlertTypeHelp || alert.IDDevice == nil {
				return nil
			}

			device, err = tx.Devices().LockByExternalID(ctx, *alert.IDDevice)
			if err != nil {
				if errors.Is(err, repository.ErrDeviceNotFound) {
					return nil
				}
				return err
			}
			if device.Alert != nil && *device.Alert != alert.ID {
				return nil
			}
			device.HelpNeeded = false
			device.Alert = nil
			device.UpdatedAt = time.Now().UTC()
			cleared = true
			return tx.Devices().Update(ctx, device)
		},
	})
	if err != nil {
		return models.Alert{}, err
	}

	if cleared && s.publisher != nil {
		if err := s.publisher.PublishDeviceUpdate(ctx, device.LiveUpdate()); err != nil {
			s.log.Warn().Err(err).Str("id_device", device.IDDevice).Msg("publish device update failed")
		}
	}
	return s.store.Alerts().GetByID(ctx, id)
}

func (s *AlertService) Delete(ctx context.Context, id string) error {
	return s.store.Alerts().Delete(ctx, id)
}
