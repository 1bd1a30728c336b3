package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"rideflow/internal/handler"
	"rideflow/internal/hub"
	"rideflow/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
// RedisClient and NewRelicApp may be nil.
type RouterDeps struct {
	RideHandler    *handler.RideHandler
	DriverHandler  *handler.DriverHandler
	PaymentHandler *handler.PaymentHandler
	FareHandler    *handler.FareHandler
	Events         *hub.Endpoint
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	Log            logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Log))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.TransactionAttributes())
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Log))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
			rides.POST("/:id/events", deps.RideHandler.ApplyEvent)
			rides.GET("/:id/events", deps.RideHandler.History)
			rides.POST("/:id/settle", deps.RideHandler.Settle)
			rides.GET("/:id/receipt", deps.RideHandler.Receipt)
		}

		// Fare routes.
		v1.POST("/fares/quote", deps.FareHandler.Quote)

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("", deps.DriverHandler.Register)
			drivers.GET("/nearby", deps.DriverHandler.Nearby)
			drivers.GET("/:id", deps.DriverHandler.GetDriver)
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.PUT("/:id/availability", deps.DriverHandler.SetAvailability)
		}

		// Payment routes.
		payments := v1.Group("/payments")
		{
			payments.GET("/:id", deps.PaymentHandler.GetPayment)
			payments.POST("/:id/refund", deps.PaymentHandler.Refund)
		}

		// Real-time channel.
		v1.GET("/events/ws", deps.Events.ServeWS)
	}

	return router
}
