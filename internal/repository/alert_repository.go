package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stopka007/IoT-sub000/internal/models"
)

type AlertRepository struct {
	db DBTX
}

const alertColumns = `id, id_patient, id_device, timestamp, status, message, type, resolved_at`

func scanAlert(row pgx.Row) (models.Alert, error) {
	var a models.Alert
	if err := row.Scan(
		&a.ID,
		&a.IDPatient,
		&a.IDDevice,
		&a.Timestamp,
		&a.Status,
		&a.Message,
		&a.Type,
		&a.ResolvedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Alert{}, ErrAlertNotFound
		}
		return models.Alert{}, err
	}
	return a, nil
}

func (r *AlertRepository) Create(ctx context.Context, a models.Alert) error {
	const query = `
		INSERT INTO alerts (id, id_patient, id_device, timestamp, status, message, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, a.ID, a.IDPatient, a.IDDevice, a.Timestamp, a.Status, a.Message, a.Type)
	return err
}

func (r *AlertRepository) GetByID(ctx context.Context, id string) (models.Alert, error) {
	return scanAlert(r.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
}

func (r *AlertRepository) FindOpen(ctx context.Context, idDevice string, alertType models.AlertType) (models.Alert, error) {
	const query = `SELECT ` + alertColumns + ` FROM alerts
		WHERE id_device = $1 AND type = $2 AND status = 'open'
		ORDER BY timestamp DESC LIMIT 1`
	return scanAlert(r.db.QueryRow(ctx, query, idDevice, alertType))
}

func (r *AlertRepository) List(ctx context.Context, status *models.AlertStatus, limit, offset int) ([]models.Alert, int, error) {
	limit, offset = normalizePage(limit, offset)

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE ($1::text IS NULL OR status = $1)`, statusArg,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

func (r *AlertRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE alerts SET status = 'resolved', resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *AlertRepository) RenameDevice(ctx context.Context, previous, next string) error {
	_, err := r.db.Exec(ctx, `UPDATE alerts SET id_device = $2 WHERE id_device = $1`, previous, next)
	return err
}

func (r *AlertRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}
