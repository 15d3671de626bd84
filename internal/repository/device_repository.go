package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/stopka007/IoT-sub000/internal/models"
)

type DeviceRepository struct {
	db DBTX
}

const deviceColumns = `id, id_device, room, id_patient, patient_name, battery_level, help_needed, alert, updated_at`

func scanDevice(row pgx.Row) (models.Device, error) {
	var d models.Device
	if err := row.Scan(
		&d.ID,
		&d.IDDevice,
		&d.Room,
		&d.IDPatient,
		&d.PatientName,
		&d.BatteryLevel,
		&d.HelpNeeded,
		&d.Alert,
		&d.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Device{}, ErrDeviceNotFound
		}
		return models.Device{}, err
	}
	return d, nil
}

func (r *DeviceRepository) collect(rows pgx.Rows) ([]models.Device, error) {
	defer rows.Close()
	devices := make([]models.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *DeviceRepository) Create(ctx context.Context, d models.Device) error {
	const query = `
		INSERT INTO devices (id, id_device, room, id_patient, patient_name, battery_level, help_needed, alert, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		d.ID, d.IDDevice, d.Room, d.IDPatient, d.PatientName, d.BatteryLevel, d.HelpNeeded, d.Alert,
	)
	return err
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return scanDevice(r.db.QueryRow(ctx, query, id))
}

func (r *DeviceRepository) GetByExternalID(ctx context.Context, idDevice string) (models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id_device = $1`
	return scanDevice(r.db.QueryRow(ctx, query, idDevice))
}

func (r *DeviceRepository) LockByExternalID(ctx context.Context, idDevice string) (models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id_device = $1 FOR UPDATE`
	return scanDevice(r.db.QueryRow(ctx, query, idDevice))
}

func (r *DeviceRepository) List(ctx context.Context, limit, offset int) ([]models.Device, int, error) {
	limit, offset = normalizePage(limit, offset)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM devices`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id_device LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	devices, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return devices, total, nil
}

func (r *DeviceRepository) ListLowBattery(ctx context.Context, threshold int) ([]models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE battery_level < $1 ORDER BY battery_level`
	rows, err := r.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// Update writes telemetry and alert state; links are handled by SetPatient.
func (r *DeviceRepository) Update(ctx context.Context, d models.Device) error {
	const query = `
		UPDATE devices
		SET id_device = $2, battery_level = $3, help_needed = $4, alert = $5, updated_at = $6
		WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, d.ID, d.IDDevice, d.BatteryLevel, d.HelpNeeded, d.Alert, d.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *DeviceRepository) SetPatient(ctx context.Context, id string, idPatient *string, patientName *string, room *int) error {
	const query = `
		UPDATE devices SET id_patient = $2, patient_name = $3, room = $4, updated_at = NOW() WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, id, idPatient, patientName, room)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
