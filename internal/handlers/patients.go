package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/export"
	"github.com/stopka007/IoT-sub000/internal/service"
)

// roomField tells an explicit "room": null apart from an absent room.
type roomField struct {
	Set   bool
	Value *int
}

func (r *roomField) UnmarshalJSON(data []byte) error {
	r.Set = true
	if bytes.Equal(data, []byte("null")) {
		r.Value = nil
		return nil
	}
	return json.Unmarshal(data, &r.Value)
}

type patientRequest struct {
	IDPatient *string   `json:"id_patient"`
	Name      *string   `json:"name"`
	IDDevice  *string   `json:"id_device"`
	Room      roomField `json:"room"`
	Illness   *string   `json:"illness"`
	Age       *int      `json:"age"`
	Status    *string   `json:"status"`
	Notes     *string   `json:"notes"`
}

func (r patientRequest) input() service.PatientInput {
	return service.PatientInput{
		IDPatient: r.IDPatient,
		Name:      r.Name,
		IDDevice:  r.IDDevice,
		Room:      r.Room.Value,
		ClearRoom: r.Room.Set && r.Room.Value == nil,
		Illness:   r.Illness,
		Age:       r.Age,
		Status:    r.Status,
		Notes:     r.Notes,
	}
}

// ListPatients lists active patients, optionally ?room=N. Admins may add
// ?archived=true to include archived ones.
func (h HandlerSet) ListPatients(c *gin.Context) {
	room, ok := optionalInt(c, "room")
	if !ok {
		return
	}
	limit, offset := pageParams(c)
	patients, total, err := h.svc.Patients.List(c.Request.Context(), service.PatientListOptions{
		Room:            room,
		IncludeArchived: c.Query("archived") == "true" && principal(c).IsAdmin(),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	respondList(c, patients, total)
}

func (h HandlerSet) GetPatient(c *gin.Context) {
	patient, err := h.svc.Patients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (h HandlerSet) CreatePatient(c *gin.Context) {
	var req patientRequest
	if !bindJSON(c, &req) {
		return
	}

	patient, err := h.svc.Patients.Create(c.Request.Context(), req.input())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

// UpdatePatient ignores id_device; links change through the device routes.
func (h HandlerSet) UpdatePatient(c *gin.Context) {
	var req patientRequest
	if !bindJSON(c, &req) {
		return
	}
	input := req.input()
	input.IDDevice = nil

	patient, err := h.svc.Patients.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (h HandlerSet) DeletePatient(c *gin.Context) {
	if err := h.svc.Patients.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignDeviceRequest struct {
	IDDevice string `json:"id_device" binding:"required"`
}

func (h HandlerSet) AssignDevice(c *gin.Context) {
	var req assignDeviceRequest
	if !bindJSON(c, &req) {
		return
	}

	patient, err := h.svc.Patients.AssignDevice(c.Request.Context(), c.Param("id"), req.IDDevice)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (h HandlerSet) UnassignDevice(c *gin.Context) {
	patient, err := h.svc.Patients.UnassignDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

type assignRoomRequest struct {
	Room *int `json:"room"`
}

// AssignRoom moves the patient into {"room": N}, or out of any room with
// {"room": null}.
func (h HandlerSet) AssignRoom(c *gin.Context) {
	var req assignRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	patient, err := h.svc.Patients.AssignRoom(c.Request.Context(), c.Param("id"), req.Room)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

type archiveRequest struct {
	Status *string `json:"status"`
}

func (h HandlerSet) ArchivePatient(c *gin.Context) {
	var req archiveRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	archived, err := h.svc.Patients.Archive(c.Request.Context(), principal(c), c.Param("id"), req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, archived)
}

func (h HandlerSet) ExportPatients(c *gin.Context) {
	patients, _, err := h.svc.Patients.List(c.Request.Context(), service.PatientListOptions{Limit: maxPerPage})
	if err != nil {
		_ = c.Error(err)
		return
	}

	buf, err := export.Patients(patients)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="patients.xlsx"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
