package service

import (
	"context"
	"errors"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

// The helpers below keep Patient.id_device and Device.id_patient mutual
// inverses. They must run inside a transaction.

func loadActivePatient(ctx context.Context, tx repository.Store, id string) (models.Patient, error) {
	patient, err := tx.Patients().GetByID(ctx, id)
	if err != nil {
		return models.Patient{}, err
	}
	if patient.ArchivedAt != nil {
		return models.Patient{}, apperr.Conflict("patient %s is archived", patient.IDPatient)
	}
	return patient, nil
}

// checkDeviceAssignable locks the device and reports whether it may be
// linked to patient.
func checkDeviceAssignable(ctx context.Context, tx repository.Store, patient models.Patient, idDevice string) (models.Device, error) {
	device, err := tx.Devices().LockByExternalID(ctx, idDevice)
	if err != nil {
		return models.Device{}, err
	}
	if device.IDPatient != nil && *device.IDPatient != patient.IDPatient {
		return models.Device{}, apperr.Conflict("device %s is assigned to patient %s", idDevice, *device.IDPatient)
	}
	if patient.IDDevice != nil && *patient.IDDevice != idDevice {
		return models.Device{}, apperr.Conflict("patient %s already has device %s", patient.IDPatient, *patient.IDDevice)
	}
	return device, nil
}

func linkDevice(ctx context.Context, tx repository.Store, patient *models.Patient, device models.Device) error {
	idPatient, name := patient.IDPatient, patient.Name
	if err := tx.Devices().SetPatient(ctx, device.ID, &idPatient, &name, patient.Room); err != nil {
		return err
	}
	idDevice := device.IDDevice
	if err := tx.Patients().SetDevice(ctx, patient.ID, &idDevice); err != nil {
		return err
	}
	patient.IDDevice = &idDevice
	return nil
}

// unlinkDevice clears both sides of the patient's device link. A device
// that no longer exists only clears the patient side.
func unlinkDevice(ctx context.Context, tx repository.Store, patient *models.Patient) error {
	if patient.IDDevice == nil {
		return nil
	}
	device, err := tx.Devices().LockByExternalID(ctx, *patient.IDDevice)
	switch {
	case err == nil:
		if device.IDPatient == nil || *device.IDPatient == patient.IDPatient {
			if err := tx.Devices().SetPatient(ctx, device.ID, nil, nil, nil); err != nil {
				return err
			}
		}
	case !errors.Is(err, repository.ErrDeviceNotFound):
		return err
	}
	if err := tx.Patients().SetDevice(ctx, patient.ID, nil); err != nil {
		return err
	}
	patient.IDDevice = nil
	return nil
}

// checkRoomCapacity locks the room row and fails when it is full without
// counting excludeID.
func checkRoomCapacity(ctx context.Context, tx repository.Store, room int, excludeID string) error {
	locked, err := tx.Rooms().LockByName(ctx, room)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return apperr.NotFound("room %d not found", room)
		}
		return err
	}
	occupancy, err := tx.Patients().CountActiveInRoom(ctx, room, excludeID)
	if err != nil {
		return err
	}
	if occupancy >= locked.Capacity {
		return apperr.Conflict("room %d is at capacity", room)
	}
	return nil
}

// moveToRoom sets the patient's room and mirrors it on the linked device.
// Capacity must already have been checked.
func moveToRoom(ctx context.Context, tx repository.Store, patient *models.Patient, room *int) error {
	if err := tx.Patients().SetRoom(ctx, patient.ID, room); err != nil {
		return err
	}
	patient.Room = room
	return syncDeviceWithPatient(ctx, tx, *patient)
}

// syncDeviceWithPatient copies the patient's denormalised fields onto its
// device.
func syncDeviceWithPatient(ctx context.Context, tx repository.Store, patient models.Patient) error {
	if patient.IDDevice == nil {
		return nil
	}
	device, err := tx.Devices().LockByExternalID(ctx, *patient.IDDevice)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil
		}
		return err
	}
	idPatient, name := patient.IDPatient, patient.Name
	return tx.Devices().SetPatient(ctx, device.ID, &idPatient, &name, patient.Room)
}

func sameRoom(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
