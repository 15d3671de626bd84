package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/export"
	"github.com/stopka007/IoT-sub000/internal/models"
)

func (h HandlerSet) ListArchived(c *gin.Context) {
	limit, offset := pageParams(c)
	records, total, err := h.svc.Archive.List(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}
	respondList(c, records, total)
}

func (h HandlerSet) GetArchived(c *gin.Context) {
	record, err := h.svc.Archive.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type archivedRequest struct {
	IDPatient  string    `json:"id_patient" binding:"required"`
	IDDevice   *string   `json:"id_device"`
	Name       string    `json:"name" binding:"required"`
	Room       *int      `json:"room"`
	Illness    *string   `json:"illness"`
	Age        *int      `json:"age"`
	Status     *string   `json:"status"`
	Notes      *string   `json:"notes"`
	CreatedAt  time.Time `json:"createdAt"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// CreateArchived imports an archive record directly, bypassing the archive
// workflow.
func (h HandlerSet) CreateArchived(c *gin.Context) {
	var req archivedRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.svc.Archive.Create(c.Request.Context(), principal(c), models.ArchivedPatient{
		IDPatient:  req.IDPatient,
		IDDevice:   req.IDDevice,
		Name:       req.Name,
		Room:       req.Room,
		Illness:    req.Illness,
		Age:        req.Age,
		Status:     req.Status,
		Notes:      req.Notes,
		CreatedAt:  req.CreatedAt,
		ArchivedAt: req.ArchivedAt,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h HandlerSet) DeleteArchived(c *gin.Context) {
	if err := h.svc.Archive.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ExportArchived(c *gin.Context) {
	records, _, err := h.svc.Archive.List(c.Request.Context(), maxPerPage, 0)
	if err != nil {
		_ = c.Error(err)
		return
	}

	buf, err := export.ArchivedPatients(records)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="archived_patients.xlsx"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
