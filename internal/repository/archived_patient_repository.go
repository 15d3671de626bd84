package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/stopka007/IoT-sub000/internal/models"
)

type ArchivedPatientRepository struct {
	db DBTX
}

const archivedColumns = `id, id_patient, id_device, name, room, illness, age, status, notes, created_at, archived_at, archived_by, snapshot_key`

func scanArchived(row pgx.Row) (models.ArchivedPatient, error) {
	var a models.ArchivedPatient
	if err := row.Scan(
		&a.ID,
		&a.IDPatient,
		&a.IDDevice,
		&a.Name,
		&a.Room,
		&a.Illness,
		&a.Age,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.ArchivedAt,
		&a.ArchivedBy,
		&a.SnapshotKey,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ArchivedPatient{}, ErrArchivedPatientNotFound
		}
		return models.ArchivedPatient{}, err
	}
	return a, nil
}

func (r *ArchivedPatientRepository) Create(ctx context.Context, a models.ArchivedPatient) error {
	const query = `
		INSERT INTO archived_patients (` + archivedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.IDPatient, a.IDDevice, a.Name, a.Room, a.Illness, a.Age, a.Status, a.Notes,
		a.CreatedAt, a.ArchivedAt, a.ArchivedBy, a.SnapshotKey,
	)
	return err
}

func (r *ArchivedPatientRepository) GetByID(ctx context.Context, id string) (models.ArchivedPatient, error) {
	return scanArchived(r.db.QueryRow(ctx, `SELECT `+archivedColumns+` FROM archived_patients WHERE id = $1`, id))
}

func (r *ArchivedPatientRepository) List(ctx context.Context, limit, offset int) ([]models.ArchivedPatient, int, error) {
	limit, offset = normalizePage(limit, offset)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM archived_patients`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+archivedColumns+` FROM archived_patients ORDER BY archived_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	archived := make([]models.ArchivedPatient, 0)
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, 0, err
		}
		archived = append(archived, a)
	}
	return archived, total, rows.Err()
}

func (r *ArchivedPatientRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM archived_patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrArchivedPatientNotFound
	}
	return nil
}
