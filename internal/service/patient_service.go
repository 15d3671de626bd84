package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

// SnapshotStore keeps a JSON copy of every archived patient outside the
// database.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, body []byte) error
	RemoveSnapshot(ctx context.Context, key string) error
}

type PatientService struct {
	store     repository.Store
	runner    *Runner
	snapshots SnapshotStore
	log       zerolog.Logger
}

// NewPatientService wires the patient workflows. snapshots may be nil.
func NewPatientService(store repository.Store, snapshots SnapshotStore, log zerolog.Logger) *PatientService {
	return &PatientService{
		store:     store,
		runner:    NewRunner(store, log),
		snapshots: snapshots,
		log:       log,
	}
}

type PatientInput struct {
	IDPatient *string
	Name      *string
	IDDevice  *string
	Room      *int
	// ClearRoom removes the patient from its room when Room is nil.
	ClearRoom bool
	Illness   *string
	Age       *int
	Status    *string
	Notes     *string
}

func (in PatientInput) apply(p *models.Patient) error {
	if in.IDPatient != nil {
		v := strings.TrimSpace(*in.IDPatient)
		if v == "" {
			return apperr.BadRequest("id_patient must not be empty")
		}
		p.IDPatient = v
	}
	if in.Name != nil {
		v := strings.TrimSpace(*in.Name)
		if v == "" {
			return apperr.BadRequest("name must not be empty")
		}
		p.Name = v
	}
	if in.Age != nil && *in.Age < 0 {
		return apperr.BadRequest("age must not be negative")
	}
	if in.Illness != nil {
		p.Illness = in.Illness
	}
	if in.Age != nil {
		p.Age = in.Age
	}
	if in.Status != nil {
		p.Status = in.Status
	}
	if in.Notes != nil {
		p.Notes = in.Notes
	}
	return nil
}

type PatientListOptions struct {
	Room            *int
	IncludeArchived bool
	Limit           int
	Offset          int
}

func (s *PatientService) List(ctx context.Context, opts PatientListOptions) ([]models.Patient, int, error) {
	return s.store.Patients().List(ctx, repository.PatientFilter{
		IncludeArchived: opts.IncludeArchived,
		Room:            opts.Room,
		Limit:           opts.Limit,
		Offset:          opts.Offset,
	})
}

func (s *PatientService) Get(ctx context.Context, id string) (models.Patient, error) {
	return s.store.Patients().GetByID(ctx, id)
}

func (s *PatientService) Create(ctx context.Context, input PatientInput) (models.Patient, error) {
	patient := models.Patient{ID: ids.New()}
	if input.IDPatient == nil || input.Name == nil {
		return models.Patient{}, apperr.BadRequest("id_patient and name are required")
	}
	if err := input.apply(&patient); err != nil {
		return models.Patient{}, err
	}

	var device models.Device
	cmd := Command{
		Name: "create_patient",
		Validate: func(ctx context.Context, tx repository.Store) error {
			if input.Room != nil {
				if err := checkRoomCapacity(ctx, tx, *input.Room, patient.ID); err != nil {
					return err
				}
			}
			if input.IDDevice != nil {
				var err error
				device, err = checkDeviceAssignable(ctx, tx, patient, *input.IDDevice)
				return err
			}
			return nil
		},
		Execute: func(ctx context.Context, tx repository.Store) error {
			patient.Room = input.Room
			if err := tx.Patients().Create(ctx, patient); err != nil {
				return err
			}
			if input.IDDevice != nil {
				return linkDevice(ctx, tx, &patient, device)
			}
			return nil
		},
	}
	if err := s.runner.Run(ctx, cmd); err != nil {
		return models.Patient{}, err
	}
	return s.store.Patients().GetByID(ctx, patient.ID)
}

// Update edits descriptive fields and, when requested, moves the patient to
// another room. Device links change through AssignDevice and UnassignDevice.
func (s *PatientService) Update(ctx context.Context, id string, input PatientInput) (models.Patient, error) {
	cmd := Command{
		Name: "update_patient",
		Execute: func(ctx context.Context, tx repository.Store) error {
			patient, err := loadActivePatient(ctx, tx, id)
			if err != nil {
				return err
			}
			before := patient
			if err := input.apply(&patient); err != nil {
				return err
			}
			if err := tx.Patients().Update(ctx, patient); err != nil {
				return err
			}

			target := patient.Room
			if input.Room != nil || input.ClearRoom {
				target = input.Room
			}
			if !sameRoom(target, before.Room) {
				if target != nil {
					if err := checkRoomCapacity(ctx, tx, *target, patient.ID); err != nil {
						return err
					}
				}
				return moveToRoom(ctx, tx, &patient, target)
			}
			if patient.IDPatient != before.IDPatient || patient.Name != before.Name {
				return syncDeviceWithPatient(ctx, tx, patient)
			}
			return nil
		},
	}
	if err := s.runner.Run(ctx, cmd); err != nil {
		return models.Patient{}, err
	}
	return s.store.Patients().GetByID(ctx, id)
}

// Delete removes the patient and releases its device.
func (s *PatientService) Delete(ctx context.Context, id string) error {
	return s.runner.Run(ctx, Command{
		Name: "delete_patient",
		Execute: func(ctx context.Context, tx repository.Store) error {
			patient, err := tx.Patients().GetByID(ctx, id)
			if err != nil {
				return err
			}
			if err := unlinkDevice(ctx, tx, &patient); err != nil {
				return err
			}
			return tx.Patients().Delete(ctx, id)
		},
	})
}

func (s *PatientService) AssignDevice(ctx context.Context, patientID, idDevice string) (models.Patient, error) {
	idDevice = strings.TrimSpace(idDevice)
	if idDevice == "" {
		return models.Patient{}, apperr.BadRequest("id_device is required")
	}
	if err := s.runner.Run(ctx, AssignDeviceCommand(patientID, idDevice)); err != nil {
		return models.Patient{}, err
	}
	return s.store.Patients().GetByID(ctx, patientID)
}

func (s *PatientService) UnassignDevice(ctx context.Context, patientID string) (models.Patient, error) {
	if err := s.runner.Run(ctx, UnassignDeviceCommand(patientID)); err != nil {
		return models.Patient{}, err
	}
	return s.store.Patients().GetByID(ctx, patientID)
}

func (s *PatientService) AssignRoom(ctx context.Context, patientID string, room *int) (models.Patient, error) {
	if err := s.runner.Run(ctx, AssignRoomCommand(patientID, room)); err != nil {
		return models.Patient{}, err
	}
	return s.store.Patients().GetByID(ctx, patientID)
}

// Archive writes an archived copy of the patient. Calling it again on the
// same patient writes another copy.
func (s *PatientService) Archive(ctx context.Context, actor Principal, patientID string, status *string) (models.ArchivedPatient, error) {
	cmd, archived := ArchiveCommand(patientID, status, actor.UserID, s.snapshots)
	if err := s.runner.Run(ctx, cmd); err != nil {
		return models.ArchivedPatient{}, err
	}
	s.log.Info().
		Str("patient_id", patientID).
		Str("archive_id", archived.ID).
		Msg("patient archived")
	return *archived, nil
}

func AssignDeviceCommand(patientID, idDevice string) Command {
	var (
		patient models.Patient
		device  models.Device
	)
	return Command{
		Name: "assign_device",
		Validate: func(ctx context.Context, tx repository.Store) error {
			var err error
			if patient, err = loadActivePatient(ctx, tx, patientID); err != nil {
				return err
			}
			device, err = checkDeviceAssignable(ctx, tx, patient, idDevice)
			return err
		},
		Execute: func(ctx context.Context, tx repository.Store) error {
			return linkDevice(ctx, tx, &patient, device)
		},
	}
}

func UnassignDeviceCommand(patientID string) Command {
	var patient models.Patient
	return Command{
		Name: "unassign_device",
		Validate: func(ctx context.Context, tx repository.Store) error {
			var err error
			if patient, err = tx.Patients().GetByID(ctx, patientID); err != nil {
				return err
			}
			if patient.IDDevice == nil {
				return apperr.BadRequest("patient %s has no device", patient.IDPatient)
			}
			return nil
		},
		Execute: func(ctx context.Context, tx repository.Store) error {
			return unlinkDevice(ctx, tx, &patient)
		},
	}
}

// AssignRoomCommand moves a patient into room, or out of any room when room
// is nil. The room row stays locked until commit so concurrent assignments
// cannot overfill it.
func AssignRoomCommand(patientID string, room *int) Command {
	var patient models.Patient
	return Command{
		Name: "assign_room",
		Validate: func(ctx context.Context, tx repository.Store) error {
			var err error
			if patient, err = loadActivePatient(ctx, tx, patientID); err != nil {
				return err
			}
			if room == nil || sameRoom(room, patient.Room) {
				return nil
			}
			return checkRoomCapacity(ctx, tx, *room, patient.ID)
		},
		Execute: func(ctx context.Context, tx repository.Store) error {
			if sameRoom(room, patient.Room) {
				return nil
			}
			return moveToRoom(ctx, tx, &patient, room)
		},
	}
}

// ArchiveCommand returns the command and the record it fills in on success.
func ArchiveCommand(patientID string, status *string, archivedBy string, snapshots SnapshotStore) (Command, *models.ArchivedPatient) {
	var (
		patient  models.Patient
		archived models.ArchivedPatient
		uploaded string
	)
	cmd := Command{
		Name: "archive_patient",
		Validate: func(ctx context.Context, tx repository.Store) error {
			var err error
			patient, err = tx.Patients().GetByID(ctx, patientID)
			return err
		},
		Execute: func(ctx context.Context, tx repository.Store) error {
			now := time.Now().UTC()
			if status != nil {
				patient.Status = status
				if err := tx.Patients().Update(ctx, patient); err != nil {
					return err
				}
			}

			archived = patient.ArchivedCopy(ids.New(), now, archivedBy)
			if snapshots != nil {
				archived.SnapshotKey = fmt.Sprintf("patients/%s/%s.json", patient.IDPatient, archived.ID)
			}
			if err := tx.ArchivedPatients().Create(ctx, archived); err != nil {
				return err
			}
			if patient.ArchivedAt == nil {
				if err := tx.Patients().MarkArchived(ctx, patient.ID, now); err != nil {
					return err
				}
			}
			if err := unlinkDevice(ctx, tx, &patient); err != nil {
				return err
			}

			if snapshots == nil {
				return nil
			}
			body, err := json.Marshal(archived)
			if err != nil {
				return apperr.Internal(err, "encode archive snapshot")
			}
			if err := snapshots.PutSnapshot(ctx, archived.SnapshotKey, body); err != nil {
				return apperr.Internal(err, "store archive snapshot")
			}
			uploaded = archived.SnapshotKey
			return nil
		},
		Rollback: func(ctx context.Context) {
			if uploaded != "" {
				_ = snapshots.RemoveSnapshot(ctx, uploaded)
			}
		},
	}
	return cmd, &archived
}
