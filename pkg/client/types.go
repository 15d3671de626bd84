package client

import "time"

// Wire shapes of the ward API as seen by callers of this package.

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

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
	AlertOpen     AlertStatus = "open"
	AlertResolved AlertStatus = "resolved"
)

type Alert struct {
	ID         string      `json:"id"`
	IDPatient  *string     `json:"id_patient"`
	IDDevice   *string     `json:"id_device,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     AlertStatus `json:"status"`
	Message    string      `json:"message"`
	Type       string      `json:"type"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
}

// DeviceUpdate is one frame of the live device channel.
type DeviceUpdate struct {
	ID         string    `json:"id"`
	HelpNeeded bool      `json:"help_needed"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
