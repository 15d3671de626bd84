package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/service"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterUser is public and always creates a regular user.
func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.svc.Users.Register(c.Request.Context(), service.CreateUserInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h HandlerSet) ListUsers(c *gin.Context) {
	limit, offset := pageParams(c)
	users, total, err := h.svc.Users.List(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}
	respondList(c, users, total)
}

func (h HandlerSet) GetUser(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Auth.AuthorizeSelfOrAdmin(principal(c), id); err != nil {
		_ = c.Error(err)
		return
	}

	user, err := h.svc.Users.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateUserRequest struct {
	Email    *string          `json:"email" binding:"omitempty,email"`
	Username *string          `json:"username"`
	Role     *models.UserRole `json:"role"`
}

func (h HandlerSet) UpdateUser(c *gin.Context) {
	id := c.Param("id")
	actor := principal(c)
	if err := h.svc.Auth.AuthorizeSelfOrAdmin(actor, id); err != nil {
		_ = c.Error(err)
		return
	}

	var req updateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.svc.Users.Update(c.Request.Context(), actor, id, service.UpdateUserInput{
		Email:    req.Email,
		Username: req.Username,
		Role:     req.Role,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h HandlerSet) DeleteUser(c *gin.Context) {
	if err := h.svc.Users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
