package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// List is the envelope of every collection endpoint.
type List[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// Login stores the issued tokens on success.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	var tokens Tokens
	err := c.Do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &tokens)
	if err != nil {
		return Tokens{}, err
	}
	if err := c.tokens.Set(tokens.AccessToken, tokens.RefreshToken); err != nil {
		return Tokens{}, fmt.Errorf("store tokens: %w", err)
	}
	return tokens, nil
}

// Logout revokes the refresh token and clears the store even when the
// server call fails.
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.tokens.Refresh()
	defer c.tokens.Clear()
	if refresh == "" {
		return nil
	}
	return c.Do(ctx, http.MethodPost, "/api/auth/logout", map[string]string{"refreshToken": refresh}, nil)
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	err := c.Do(ctx, http.MethodGet, "/api/auth/me", nil, &user)
	return user, err
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.Do(ctx, http.MethodPatch, "/api/auth/change-password", map[string]string{
		"currentPassword": current,
		"newPassword":     next,
	}, nil)
}

func (c *Client) ListPatients(ctx context.Context) (List[Patient], error) {
	var list List[Patient]
	err := c.Do(ctx, http.MethodGet, "/api/patients", nil, &list)
	return list, err
}

func (c *Client) AssignDevice(ctx context.Context, patientID, idDevice string) (Patient, error) {
	var patient Patient
	err := c.Do(ctx, http.MethodPost, "/api/patients/"+url.PathEscape(patientID)+"/device",
		map[string]string{"id_device": idDevice}, &patient)
	return patient, err
}

func (c *Client) UnassignDevice(ctx context.Context, patientID string) (Patient, error) {
	var patient Patient
	err := c.Do(ctx, http.MethodDelete, "/api/patients/"+url.PathEscape(patientID)+"/device", nil, &patient)
	return patient, err
}

// AssignRoom moves the patient; a nil room takes it out of its room.
func (c *Client) AssignRoom(ctx context.Context, patientID string, room *int) (Patient, error) {
	var patient Patient
	err := c.Do(ctx, http.MethodPut, "/api/patients/"+url.PathEscape(patientID)+"/room",
		map[string]*int{"room": room}, &patient)
	return patient, err
}

func (c *Client) ArchivePatient(ctx context.Context, patientID string, status *string) (ArchivedPatient, error) {
	var archived ArchivedPatient
	err := c.Do(ctx, http.MethodPost, "/api/patients/"+url.PathEscape(patientID)+"/archive",
		map[string]*string{"status": status}, &archived)
	return archived, err
}

func (c *Client) ListDevices(ctx context.Context) (List[Device], error) {
	var list List[Device]
	err := c.Do(ctx, http.MethodGet, "/api/devices", nil, &list)
	return list, err
}

type Battery struct {
	BatteryLevel int    `json:"battery_level"`
	IDDevice     string `json:"id_device"`
}

func (c *Client) DeviceBattery(ctx context.Context, idDevice string) (Battery, error) {
	var battery Battery
	err := c.Do(ctx, http.MethodGet, "/api/devices/battery/"+url.PathEscape(idDevice), nil, &battery)
	return battery, err
}

func (c *Client) ListRooms(ctx context.Context) (List[Room], error) {
	var list List[Room]
	err := c.Do(ctx, http.MethodGet, "/api/rooms", nil, &list)
	return list, err
}

// ListAlerts filters by status when it is not empty.
func (c *Client) ListAlerts(ctx context.Context, status AlertStatus) (List[Alert], error) {
	path := "/api/alerts"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var list List[Alert]
	err := c.Do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

func (c *Client) ResolveAlert(ctx context.Context, id string) (Alert, error) {
	var alert Alert
	err := c.Do(ctx, http.MethodPatch, "/api/alerts/"+url.PathEscape(id)+"/resolve", nil, &alert)
	return alert, err
}

func (c *Client) ListArchived(ctx context.Context) (List[ArchivedPatient], error) {
	var list List[ArchivedPatient]
	err := c.Do(ctx, http.MethodGet, "/api/archived_patients", nil, &list)
	return list, err
}
