package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/middleware"
	"github.com/agendaworks/scheduling-engine/pkg/config"
)

// Handlers bundles every HTTP handler the router mounts.
type Handlers struct {
	Appointments *AppointmentHandler
	Conflicts    *ConflictHandler
	Rules        *RuleHandler
	Templates    *TemplateHandler
	Availability *AvailabilityHandler
	Analytics    *AnalyticsHandler
	Metrics      *MetricsHandler
}

// Register mounts every route on the engine's API surface. All business
// routes are tenant-scoped behind JWT; observability and signed downloads
// are not.
func Register(r *gin.Engine, cfg *config.Config, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}

	// The signed token authorizes the download on its own.
	r.GET(prefix+"/analytics/exports/:token", h.Analytics.Download)

	api := r.Group(prefix)
	api.Use(middleware.JWT(cfg.JWT.Secret), middleware.Tenant())
	{
		appointments := api.Group("/appointments")
		{
			appointments.POST("", h.Appointments.Create)
			appointments.GET("", h.Appointments.List)
			appointments.GET("/:id", h.Appointments.Get)
			appointments.PUT("/:id", h.Appointments.Update)
			appointments.POST("/:id/confirm", h.Appointments.Confirm)
			appointments.POST("/:id/start", h.Appointments.Start)
			appointments.POST("/:id/complete", h.Appointments.Complete)
			appointments.POST("/:id/no-show", h.Appointments.NoShow)
			appointments.POST("/:id/cancel", h.Appointments.Cancel)
			appointments.POST("/:id/reschedule", h.Appointments.Reschedule)
			appointments.GET("/:id/notifications", h.Appointments.Notifications)
		}

		conflicts := api.Group("/conflicts")
		{
			conflicts.GET("", h.Conflicts.List)
			conflicts.GET("/:id", h.Conflicts.Get)
			conflicts.POST("/:id/resolve", h.Conflicts.Resolve)
		}

		rules := api.Group("/rules")
		{
			rules.GET("", h.Rules.List)
			rules.POST("/evaluate", h.Rules.Evaluate)
			rules.GET("/:id", h.Rules.Get)
			rules.POST("", middleware.RequireAdmin(), h.Rules.Create)
			rules.PUT("/:id", middleware.RequireAdmin(), h.Rules.Update)
			rules.DELETE("/:id", middleware.RequireAdmin(), h.Rules.Deactivate)
		}

		templates := api.Group("/templates")
		{
			templates.GET("", h.Templates.List)
			templates.GET("/:id", h.Templates.Get)
			templates.POST("", middleware.RequireAdmin(), h.Templates.Create)
		}

		api.GET("/availability", h.Availability.Get)

		analytics := api.Group("/analytics")
		{
			analytics.GET("", h.Analytics.List)
			analytics.GET("/:id", h.Analytics.Get)
			analytics.GET("/:id/export", h.Analytics.Export)
			analytics.POST("/aggregate", middleware.RequireAdmin(), h.Analytics.Aggregate)
		}

		api.GET("/metrics/system", middleware.RequireAdmin(), h.Metrics.System)
	}
}
