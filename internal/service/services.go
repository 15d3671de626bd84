package service

import (
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

// Services bundles every domain service over one store.
type Services struct {
	Auth     *AuthService
	Users    *UserService
	Patients *PatientService
	Devices  *DeviceService
	Rooms    *RoomService
	Alerts   *AlertService
	Archive  *ArchiveService
}

func NewServices(store repository.Store, snapshots SnapshotStore, publisher UpdatePublisher, cfg *config.AppConfig, log zerolog.Logger) Services {
	return Services{
		Auth:     NewAuthService(store, cfg.Security, log.With().Str("service", "auth").Logger()),
		Users:    NewUserService(store, cfg.Security, log.With().Str("service", "users").Logger()),
		Patients: NewPatientService(store, snapshots, log.With().Str("service", "patients").Logger()),
		Devices:  NewDeviceService(store, publisher, cfg.Telemetry.LowBatteryThreshold, log.With().Str("service", "devices").Logger()),
		Rooms:    NewRoomService(store, log.With().Str("service", "rooms").Logger()),
		Alerts:   NewAlertService(store, publisher, log.With().Str("service", "alerts").Logger()),
		Archive:  NewArchiveService(store, snapshots, log.With().Str("service", "archive").Logger()),
	}
}
