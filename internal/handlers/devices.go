package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/middleware"
	"github.com/stopka007/IoT-sub000/internal/queue"
	"github.com/stopka007/IoT-sub000/internal/service"
)

type deviceRequest struct {
	IDDevice     *string `json:"id_device"`
	BatteryLevel *int    `json:"battery_level"`
	HelpNeeded   *bool   `json:"help_needed"`
}

func (r deviceRequest) input() service.DeviceInput {
	return service.DeviceInput{
		IDDevice:     r.IDDevice,
		BatteryLevel: r.BatteryLevel,
		HelpNeeded:   r.HelpNeeded,
	}
}

func (h HandlerSet) ListDevices(c *gin.Context) {
	limit, offset := pageParams(c)
	devices, total, err := h.svc.Devices.List(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}
	respondList(c, devices, total)
}

func (h HandlerSet) GetDevice(c *gin.Context) {
	device, err := h.svc.Devices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, device)
}

type batteryResponse struct {
	BatteryLevel int    `json:"battery_level"`
	IDDevice     string `json:"id_device"`
}

func (h HandlerSet) DeviceBattery(c *gin.Context) {
	device, err := h.svc.Devices.GetByExternalID(c.Request.Context(), c.Param("id_device"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, batteryResponse{BatteryLevel: device.BatteryLevel, IDDevice: device.IDDevice})
}

func (h HandlerSet) CreateDevice(c *gin.Context) {
	var req deviceRequest
	if !bindJSON(c, &req) {
		return
	}

	device, err := h.svc.Devices.Create(c.Request.Context(), req.input())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

func (h HandlerSet) UpdateDevice(c *gin.Context) {
	var req deviceRequest
	if !bindJSON(c, &req) {
		return
	}

	device, err := h.svc.Devices.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, device)
}

func (h HandlerSet) DeleteDevice(c *gin.Context) {
	if err := h.svc.Devices.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type telemetryRequest struct {
	BatteryLevel *int      `json:"battery_level"`
	HelpNeeded   *bool     `json:"help_needed"`
	At           time.Time `json:"at"`
}

// IngestTelemetry accepts a reading signed by the device. The device id
// comes from the verified signature, never from the body.
func (h HandlerSet) IngestTelemetry(c *gin.Context) {
	var req telemetryRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.BatteryLevel == nil && req.HelpNeeded == nil {
		middleware.Fail(c, apperr.BadRequest("reading has no values"))
		return
	}

	reading := service.Reading{
		IDDevice:     middleware.SignedDeviceID(c),
		BatteryLevel: req.BatteryLevel,
		HelpNeeded:   req.HelpNeeded,
		At:           req.At,
	}
	if reading.At.IsZero() {
		reading.At = time.Now().UTC()
	}

	if h.tasks == nil {
		device, err := h.svc.Devices.ApplyTelemetry(c.Request.Context(), reading)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, device)
		return
	}

	// Fail fast on unknown devices instead of leaving it to the worker.
	if _, err := h.svc.Devices.GetByExternalID(c.Request.Context(), reading.IDDevice); err != nil {
		_ = c.Error(err)
		return
	}
	taskID, err := h.tasks.Enqueue(c.Request.Context(), queue.TaskTelemetry, reading)
	if err != nil {
		_ = c.Error(apperr.Internal(err, "internal server error"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": taskID})
}
