package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/service"
)

// ListAlerts lists alerts newest first, optionally ?status=open|resolved.
func (h HandlerSet) ListAlerts(c *gin.Context) {
	var status *models.AlertStatus
	if raw := c.Query("status"); raw != "" {
		s := models.AlertStatus(raw)
		status = &s
	}

	limit, offset := pageParams(c)
	alerts, total, err := h.svc.Alerts.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}
	respondList(c, alerts, total)
}

func (h HandlerSet) GetAlert(c *gin.Context) {
	alert, err := h.svc.Alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type alertRequest struct {
	IDPatient *string `json:"id_patient"`
	IDDevice  *string `json:"id_device"`
	Message   string  `json:"message" binding:"required"`
}

func (h HandlerSet) CreateAlert(c *gin.Context) {
	var req alertRequest
	if !bindJSON(c, &req) {
		return
	}

	alert, err := h.svc.Alerts.Create(c.Request.Context(), service.AlertInput{
		IDPatient: req.IDPatient,
		IDDevice:  req.IDDevice,
		Message:   req.Message,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (h HandlerSet) ResolveAlert(c *gin.Context) {
	alert, err := h.svc.Alerts.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h HandlerSet) DeleteAlert(c *gin.Context) {
	if err := h.svc.Alerts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
