package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/live"
	"github.com/stopka007/IoT-sub000/internal/middleware"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/service"
)

// TaskQueue hands signed device telemetry to the worker. When nil the API
// applies readings itself.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload any) (string, error)
}

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Services service.Services
	Live     *live.Handler
	Tasks    TaskQueue
	Nonces   middleware.NonceChecker
	Checks   map[string]HealthCheck
}

type HandlerSet struct {
	log    zerolog.Logger
	cfg    *config.AppConfig
	svc    service.Services
	live   *live.Handler
	tasks  TaskQueue
	nonces middleware.NonceChecker
	checks map[string]HealthCheck
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Dependencies) HandlerSet {
	return HandlerSet{
		log:    log,
		cfg:    cfg,
		svc:    deps.Services,
		live:   deps.Live,
		tasks:  deps.Tasks,
		nonces: deps.Nonces,
		checks: deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	authn := middleware.Auth(h.svc.Auth)
	admin := middleware.RequireRoles(models.UserRoleAdmin)
	staff := middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleUser)

	auth := router.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", authn, h.Me)
		auth.PATCH("/change-password", authn, h.ChangePassword)
	}

	users := router.Group("/users")
	{
		users.POST("", h.RegisterUser)
		users.GET("", authn, admin, h.ListUsers)
		users.GET("/:id", authn, h.GetUser)
		users.PATCH("/:id", authn, h.UpdateUser)
		users.DELETE("/:id", authn, admin, h.DeleteUser)
	}

	patients := router.Group("/patients", authn)
	{
		patients.GET("", h.ListPatients)
		patients.GET("/export.xlsx", admin, h.ExportPatients)
		patients.GET("/:id", h.GetPatient)
		patients.POST("", admin, h.CreatePatient)
		patients.PATCH("/:id", staff, h.UpdatePatient)
		patients.DELETE("/:id", admin, h.DeletePatient)
		patients.POST("/:id/device", staff, h.AssignDevice)
		patients.DELETE("/:id/device", staff, h.UnassignDevice)
		patients.PUT("/:id/room", staff, h.AssignRoom)
		patients.POST("/:id/archive", staff, h.ArchivePatient)
	}

	devices := router.Group("/devices", authn)
	{
		devices.GET("", h.ListDevices)
		devices.GET("/battery/:id_device", h.DeviceBattery)
		devices.GET("/:id", h.GetDevice)
		devices.POST("", admin, h.CreateDevice)
		devices.PATCH("/:id", staff, h.UpdateDevice)
		devices.DELETE("/:id", admin, h.DeleteDevice)
	}

	rooms := router.Group("/rooms", authn)
	{
		rooms.GET("", h.ListRooms)
		rooms.GET("/:id", h.GetRoom)
		rooms.POST("", admin, h.CreateRoom)
		rooms.PATCH("/:id", admin, h.UpdateRoom)
		rooms.DELETE("/:id", admin, h.DeleteRoom)
	}

	alerts := router.Group("/alerts", authn)
	{
		alerts.GET("", h.ListAlerts)
		alerts.GET("/:id", h.GetAlert)
		alerts.POST("", staff, h.CreateAlert)
		alerts.PATCH("/:id/resolve", staff, h.ResolveAlert)
		alerts.DELETE("/:id", admin, h.DeleteAlert)
	}

	archived := router.Group("/archived_patients", authn)
	{
		archived.GET("", h.ListArchived)
		archived.GET("/export.xlsx", admin, h.ExportArchived)
		archived.GET("/:id", h.GetArchived)
		archived.POST("", admin, h.CreateArchived)
		archived.DELETE("/:id", admin, h.DeleteArchived)
	}

	if h.nonces != nil {
		router.POST("/telemetry",
			middleware.DeviceSignature(h.cfg.Security.DeviceSecret, h.cfg.Security.SignatureSkew, h.nonces),
			h.IngestTelemetry,
		)
	}

	if h.live != nil {
		router.GET("/ws", h.live.Serve)
	}
}
