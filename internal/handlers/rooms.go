package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/service"
)

type roomRequest struct {
	Name     *int `json:"name"`
	Capacity *int `json:"capacity"`
}

// ListRooms reports each room with its current occupancy.
func (h HandlerSet) ListRooms(c *gin.Context) {
	rooms, err := h.svc.Rooms.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	respondList(c, rooms, len(rooms))
}

func (h HandlerSet) GetRoom(c *gin.Context) {
	room, err := h.svc.Rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h HandlerSet) CreateRoom(c *gin.Context) {
	var req roomRequest
	if !bindJSON(c, &req) {
		return
	}

	room, err := h.svc.Rooms.Create(c.Request.Context(), service.RoomInput{Name: req.Name, Capacity: req.Capacity})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h HandlerSet) UpdateRoom(c *gin.Context) {
	var req roomRequest
	if !bindJSON(c, &req) {
		return
	}

	room, err := h.svc.Rooms.Update(c.Request.Context(), c.Param("id"), service.RoomInput{Name: req.Name, Capacity: req.Capacity})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h HandlerSet) DeleteRoom(c *gin.Context) {
	if err := h.svc.Rooms.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
