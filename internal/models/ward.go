package models

import "time"

type Patient struct {
	ID         string     `json:"id"`
	IDPatient  string     `json:"id_patient"`
	IDDevice   *string    `json:"id_device"`
	Name       string     `json:"name"`
	Room       *int       `json:"room"`
	Illness    *string    `json:"illness,omitempty"`
	Age        *int       `json:"age,omitempty"`
	Status     *string    `json:"status,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

const (
	PatientStatusHospitalized = "Hospitalized"
	PatientStatusReleased     = "Released"
	PatientStatusDeceased     = "Deceased"
)

type ArchivedPatient struct {
	ID          string    `json:"id"`
	IDPatient   string    `json:"id_patient"`
	IDDevice    *string   `json:"id_device"`
	Name        string    `json:"name"`
	Room        *int      `json:"room"`
	Illness     *string   `json:"illness,omitempty"`
	Age         *int      `json:"age,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ArchivedAt  time.Time `json:"archivedAt"`
	ArchivedBy  string    `json:"archivedBy,omitempty"`
	SnapshotKey string    `json:"snapshotKey,omitempty"`
}

// ArchivedCopy copies the patient's current field values into a new archive record.
func (p Patient) ArchivedCopy(id string, archivedAt time.Time, archivedBy string) ArchivedPatient {
	return ArchivedPatient{
		ID:         id,
		IDPatient:  p.IDPatient,
		IDDevice:   p.IDDevice,
		Name:       p.Name,
		Room:       p.Room,
		Illness:    p.Illness,
		Age:        p.Age,
		Status:     p.Status,
		Notes:      p.Notes,
		CreatedAt:  p.CreatedAt,
		ArchivedAt: archivedAt,
		ArchivedBy: archivedBy,
	}
}

type Device struct {
	ID           string    `json:"id"`
	IDDevice     string    `json:"id_device"`
	Room         *int      `json:"room"`
	IDPatient    *string   `json:"id_patient"`
	PatientName  *string   `json:"patient_name"`
	BatteryLevel int       `json:"battery_level"`
	HelpNeeded   bool      `json:"help_needed"`
	Alert        *string   `json:"alert"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Room struct {
	ID        string `json:"id"`
	Name      int    `json:"name"`
	Capacity  int    `json:"capacity"`
	Occupancy int    `json:"occupancy"`
}

type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

type AlertType string

const (
	AlertTypeHelp    AlertType = "help"
	AlertTypeBattery AlertType = "battery"
	AlertTypeManual  AlertType = "manual"
)

type Alert struct {
	ID         string      `json:"id"`
	IDPatient  *string     `json:"id_patient"`
	IDDevice   *string     `json:"id_device,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     AlertStatus `json:"status"`
	Message    string      `json:"message"`
	Type       AlertType   `json:"type"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
}

// DeviceUpdate is the payload pushed to live channel subscribers.
type DeviceUpdate struct {
	ID         string    `json:"id"`
	HelpNeeded bool      `json:"help_needed"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (d Device) LiveUpdate() DeviceUpdate {
	return DeviceUpdate{
		ID:         d.IDDevice,
		HelpNeeded: d.HelpNeeded,
		UpdatedAt:  d.UpdatedAt,
	}
}
