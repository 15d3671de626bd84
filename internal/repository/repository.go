package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
)

var (
	ErrUserNotFound            = apperr.NotFound("user not found")
	ErrSessionNotFound         = apperr.NotFound("session not found")
	ErrPatientNotFound         = apperr.NotFound("patient not found")
	ErrDeviceNotFound          = apperr.NotFound("device not found")
	ErrRoomNotFound            = apperr.NotFound("room not found")
	ErrAlertNotFound           = apperr.NotFound("alert not found")
	ErrArchivedPatientNotFound = apperr.NotFound("archived patient not found")
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Users interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.User, int, error)
	Update(ctx context.Context, user models.User) error
	UpdatePassword(ctx context.Context, id string, hash []byte) error
	Delete(ctx context.Context, id string) error
}

type Sessions interface {
	Create(ctx context.Context, session models.Session) error
	FindByRefreshHash(ctx context.Context, refreshHash []byte) (models.Session, error)
	Rotate(ctx context.Context, id string, refreshHash []byte, expiresAt time.Time) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type PatientFilter struct {
	IncludeArchived bool
	Room            *int
	Limit           int
	Offset          int
}

type Patients interface {
	Create(ctx context.Context, patient models.Patient) error
	// GetByID returns archived patients too; callers check ArchivedAt.
	GetByID(ctx context.Context, id string) (models.Patient, error)
	GetByDevice(ctx context.Context, idDevice string) (models.Patient, error)
	List(ctx context.Context, filter PatientFilter) ([]models.Patient, int, error)
	Update(ctx context.Context, patient models.Patient) error
	SetDevice(ctx context.Context, id string, idDevice *string) error
	SetRoom(ctx context.Context, id string, room *int) error
	MarkArchived(ctx context.Context, id string, at time.Time) error
	CountActiveInRoom(ctx context.Context, room int, excludeID string) (int, error)
	Delete(ctx context.Context, id string) error
}

type Devices interface {
	Create(ctx context.Context, device models.Device) error
	GetByID(ctx context.Context, id string) (models.Device, error)
	GetByExternalID(ctx context.Context, idDevice string) (models.Device, error)
	// LockByExternalID is GetByExternalID holding a row lock until the
	// surrounding transaction ends.
	LockByExternalID(ctx context.Context, idDevice string) (models.Device, error)
	List(ctx context.Context, limit, offset int) ([]models.Device, int, error)
	ListLowBattery(ctx context.Context, threshold int) ([]models.Device, error)
	Update(ctx context.Context, device models.Device) error
	SetPatient(ctx context.Context, id string, idPatient *string, patientName *string, room *int) error
	Delete(ctx context.Context, id string) error
}

type Rooms interface {
	Create(ctx context.Context, room models.Room) error
	GetByID(ctx context.Context, id string) (models.Room, error)
	GetByName(ctx context.Context, name int) (models.Room, error)
	// LockByName serialises capacity checks for one room until the
	// surrounding transaction ends.
	LockByName(ctx context.Context, name int) (models.Room, error)
	List(ctx context.Context) ([]models.Room, error)
	Update(ctx context.Context, room models.Room) error
	Delete(ctx context.Context, id string) error
}

type Alerts interface {
	Create(ctx context.Context, alert models.Alert) error
	GetByID(ctx context.Context, id string) (models.Alert, error)
	FindOpen(ctx context.Context, idDevice string, alertType models.AlertType) (models.Alert, error)
	List(ctx context.Context, status *models.AlertStatus, limit, offset int) ([]models.Alert, int, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	// RenameDevice re-points every alert raised by a device at its new id.
	RenameDevice(ctx context.Context, previous, next string) error
	Delete(ctx context.Context, id string) error
}

type ArchivedPatients interface {
	Create(ctx context.Context, patient models.ArchivedPatient) error
	GetByID(ctx context.Context, id string) (models.ArchivedPatient, error)
	List(ctx context.Context, limit, offset int) ([]models.ArchivedPatient, int, error)
	Delete(ctx context.Context, id string) error
}

// Store groups the repositories. WithinTx runs fn against a Store whose
// repositories share one transaction; an error from fn rolls it back.
type Store interface {
	Users() Users
	Sessions() Sessions
	Patients() Patients
	Devices() Devices
	Rooms() Rooms
	Alerts() Alerts
	ArchivedPatients() ArchivedPatients
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
