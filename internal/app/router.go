package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"carshare/internal/handler"
	"carshare/internal/logger"
	"carshare/internal/middleware"
	"carshare/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	BookingHandler *handler.BookingHandler
	HandoffHandler *handler.HandoffHandler
	ChargeHandler  *handler.ChargeHandler
	SweepHandler   *handler.SweepHandler
	Responses      redis.ResponseStore // nil disables idempotent replay
	SweepSecret    string
	NewRelicApp    *newrelic.Application
	Logger         *logger.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogMiddleware(deps.Logger))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.IdempotencyMiddleware(deps.Responses, deps.Logger))
	{
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", deps.BookingHandler.Create)
			bookings.GET("/code/:code", deps.BookingHandler.GetByCode)
			bookings.GET("/:id", deps.BookingHandler.Get)
			bookings.GET("/:id/history", deps.BookingHandler.History)
			bookings.POST("/:id/fleet-decision", deps.BookingHandler.FleetDecision)
			bookings.POST("/:id/host-decision", deps.BookingHandler.HostDecision)
			bookings.POST("/:id/hold", deps.BookingHandler.PlaceOnHold)
			bookings.POST("/:id/hold/release", deps.BookingHandler.ReleaseHold)
			bookings.POST("/:id/cancel", deps.BookingHandler.Cancel)
			bookings.POST("/:id/capture", deps.BookingHandler.Capture)
			bookings.POST("/:id/complete", deps.BookingHandler.Complete)
		}

		// Handoff routes.
		handoff := bookings.Group("/:id/handoff")
		{
			handoff.POST("/arrive", deps.HandoffHandler.Arrive)
			handoff.POST("/confirm", deps.HandoffHandler.Confirm)
			handoff.POST("/bypass", deps.HandoffHandler.Bypass)
		}

		// Trip charge routes.
		charges := bookings.Group("/:id/charges")
		{
			charges.GET("", deps.ChargeHandler.Get)
			charges.POST("", deps.ChargeHandler.File)
			charges.POST("/dispute", deps.ChargeHandler.Dispute)
			charges.POST("/dispute/resolve", deps.ChargeHandler.Resolve)
			charges.POST("/capture", deps.ChargeHandler.Capture)
			charges.POST("/waive", deps.ChargeHandler.Waive)
			charges.POST("/refund", deps.ChargeHandler.Refund)
		}
	}

	internal := router.Group("/internal")
	internal.Use(middleware.SweepAuthMiddleware(deps.SweepSecret))
	{
		internal.POST("/sweep", deps.SweepHandler.Run)
	}

	return router
}
