package main

import (
	"engagement-platform/internal/config"
	"engagement-platform/internal/httpapi"
	"engagement-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Keep this file free of business logic. Handlers delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, wh httpapi.TwilioWebhooks, cfg config.TwilioConfig) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks. Signed when the public origin is known.
	hooks := r.Group("/webhooks/twilio")
	if cfg.AuthToken != "" && cfg.WebhookBaseURL != "" {
		hooks.Use(httpapi.RequireTwilioSignature(cfg.AuthToken, cfg.WebhookBaseURL))
	}
	{
		hooks.POST("/sms", wh.HandleInboundSMS)
		hooks.POST("/call-status", wh.HandleCallStatus)
	}
}

func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireIdentity())
	{
		v1.GET("/me", h.Me)

		// The external scheduler ticks timelines; operators may re-run a day by hand.
		timelines := v1.Group("/timelines")
		timelines.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAutomation))
		{
			timelines.POST("/:id/ticks/:day", h.Tick)
			timelines.POST("/:id/days/:day/advance", h.AdvanceDueDay)
		}

		progress := v1.Group("/progress")
		progress.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator))
		{
			progress.POST("/:id/advance", h.AdvanceProgress)
			progress.POST("/:id/pause", h.PauseProgress)
			progress.POST("/:id/resume", h.ResumeProgress)
		}

		// CRM relays push stage changes as automation.
		customers := v1.Group("/customers")
		customers.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAutomation))
		{
			customers.POST("/:id/stage", h.EnterStage)
			customers.POST("/:id/pause", h.PauseCustomer)
			customers.POST("/:id/resume", h.ResumeCustomer)
		}

		v1.POST("/signals", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAutomation), h.RecordSignal)
		v1.POST("/inbound", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAutomation), h.Inbound)

		dialogs := v1.Group("/dialogs")
		dialogs.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator))
		{
			dialogs.GET("/:id", h.GetDialog)
			dialogs.POST("/:id/messages", h.DialogMessage)
			dialogs.POST("/:id/collect", h.DialogCollect)
			dialogs.POST("/:id/escalate", h.DialogEscalate)
		}

		assignments := v1.Group("/assignments")
		assignments.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator))
		{
			assignments.POST("/:id/interactions", h.RecordInteraction)
			assignments.POST("/:id/end", h.EndAssignment)
		}

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAnalyst))
		{
			reports.GET("/timelines/:id", h.TimelineReport)
			reports.GET("/objections", h.ObjectionReport)
		}

		// ADMIN routes
		// Pins bypass specialist scoring, so only owners set them.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner))
		{
			admin.POST("/customers/:id/pin", h.PinSpecialist)
		}
	}
}
