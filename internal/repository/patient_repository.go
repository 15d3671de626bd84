package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stopka007/IoT-sub000/internal/models"
)

type PatientRepository struct {
	db DBTX
}

const patientColumns = `id, id_patient, id_device, name, room, illness, age, status, notes, created_at, updated_at, archived_at`

func scanPatient(row pgx.Row) (models.Patient, error) {
	var p models.Patient
	if err := row.Scan(
		&p.ID,
		&p.IDPatient,
		&p.IDDevice,
		&p.Name,
		&p.Room,
		&p.Illness,
		&p.Age,
		&p.Status,
		&p.Notes,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ArchivedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return p, nil
}

func (r *PatientRepository) Create(ctx context.Context, p models.Patient) error {
	const query = `
		INSERT INTO patients (id, id_patient, id_device, name, room, illness, age, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.IDPatient, p.IDDevice, p.Name, p.Room, p.Illness, p.Age, p.Status, p.Notes,
	)
	return err
}

func (r *PatientRepository) GetByID(ctx context.Context, id string) (models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	return scanPatient(r.db.QueryRow(ctx, query, id))
}

func (r *PatientRepository) GetByDevice(ctx context.Context, idDevice string) (models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id_device = $1 AND archived_at IS NULL LIMIT 1`
	return scanPatient(r.db.QueryRow(ctx, query, idDevice))
}

func (r *PatientRepository) List(ctx context.Context, filter PatientFilter) ([]models.Patient, int, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	var (
		conds []string
		args  []any
	)
	if !filter.IncludeArchived {
		conds = append(conds, "archived_at IS NULL")
	}
	if filter.Room != nil {
		args = append(args, *filter.Room)
		conds = append(conds, fmt.Sprintf("room = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY created_at LIMIT $%d OFFSET $%d`,
		patientColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := make([]models.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// Update writes the descriptive fields. Device and room links go through
// SetDevice / SetRoom so the consistency commands own them.
func (r *PatientRepository) Update(ctx context.Context, p models.Patient) error {
	const query = `
		UPDATE patients
		SET id_patient = $2, name = $3, illness = $4, age = $5, status = $6, notes = $7, updated_at = NOW()
		WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, p.ID, p.IDPatient, p.Name, p.Illness, p.Age, p.Status, p.Notes)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PatientRepository) SetDevice(ctx context.Context, id string, idDevice *string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE patients SET id_device = $2, updated_at = NOW() WHERE id = $1`, id, idDevice)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PatientRepository) SetRoom(ctx context.Context, id string, room *int) error {
	cmd, err := r.db.Exec(ctx, `UPDATE patients SET room = $2, updated_at = NOW() WHERE id = $1`, id, room)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PatientRepository) MarkArchived(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE patients SET archived_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PatientRepository) CountActiveInRoom(ctx context.Context, room int, excludeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM patients WHERE room = $1 AND archived_at IS NULL AND id <> $2`
	var count int
	if err := r.db.QueryRow(ctx, query, room, excludeID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PatientRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}
