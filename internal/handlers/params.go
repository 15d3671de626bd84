package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/middleware"
	"github.com/stopka007/IoT-sub000/internal/service"
)

const (
	defaultPerPage = 100
	maxPerPage     = 500
)

// listResponse is the envelope of every collection endpoint.
type listResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func respondList[T any](c *gin.Context, items []T, total int) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, listResponse[T]{Data: items, Total: total})
}

// pageParams reads ?page=&perPage=, ignoring values out of range.
func pageParams(c *gin.Context) (limit, offset int) {
	limit = defaultPerPage
	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= maxPerPage {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}
	return limit, offset
}

// bindJSON decodes the body into dst and records a BadRequest on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.Fail(c, apperr.BadRequest("%s", err.Error()))
		return false
	}
	return true
}

func principal(c *gin.Context) service.Principal {
	p, _ := middleware.CurrentPrincipal(c)
	return p
}

func optionalInt(c *gin.Context, key string) (*int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		middleware.Fail(c, apperr.BadRequest("%s must be a number", key))
		return nil, false
	}
	return &v, true
}
