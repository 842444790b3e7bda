package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"price_alert_backend/controllers"
	"price_alert_backend/middleware"
)

// Alert mutations allowed per client IP and window
const (
	AlertRequestsPerWindow = 30
	AlertRequestWindow     = time.Minute
)

// Dependencies are the services the routes are served from
type Dependencies struct {
	Prices      controllers.PriceReader
	Alerts      controllers.AlertManager
	Symbol      string
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	priceController := controllers.NewPriceController(deps.Prices, deps.Symbol)
	alertController := controllers.NewAlertController(deps.Alerts, deps.Logger)

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(AlertRequestsPerWindow, AlertRequestWindow)
	}

	// API v1 group
	api := router.Group("/api/v1")
	{
		api.GET("/price", priceController.GetCurrentPrice)

		alerts := api.Group("/alerts")
		{
			alerts.GET("", alertController.GetAlerts)
			alerts.POST("", middleware.RateLimitMiddleware(limiter), alertController.CreateAlert)
			alerts.DELETE("/:name", middleware.RateLimitMiddleware(limiter), alertController.DeleteAlert)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
