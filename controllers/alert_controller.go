package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"price_alert_backend/models"
)

// AlertManager registers and removes named price alerts
type AlertManager interface {
	AddAlert(ctx context.Context, alert models.Alert) error
	RemoveAlert(ctx context.Context, name string) error
	ListAlerts() []models.Alert
}

// AlertController handles price alert requests
type AlertController struct {
	alerts AlertManager
	logger *zap.Logger
}

// NewAlertController creates a new alert controller
func NewAlertController(alerts AlertManager, logger *zap.Logger) *AlertController {
	return &AlertController{alerts: alerts, logger: logger.Named("alerts")}
}

// CreateAlert schedules an alert; an existing alert with the same name is replaced
// POST /api/v1/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	var req models.AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if err := ac.alerts.AddAlert(c.Request.Context(), req.ToAlert()); err != nil {
		ac.logger.Error("Failed to add alert", zap.String("name", req.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert added successfully!"})
}

// DeleteAlert removes an alert; unknown names succeed
// DELETE /api/v1/alerts/:name
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	name := c.Param("name")

	if err := ac.alerts.RemoveAlert(c.Request.Context(), name); err != nil {
		ac.logger.Error("Failed to remove alert", zap.String("name", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert removed successfully!"})
}

// GetAlerts lists the active alerts
// GET /api/v1/alerts
func (ac *AlertController) GetAlerts(c *gin.Context) {
	alerts := ac.alerts.ListAlerts()
	c.JSON(http.StatusOK, gin.H{
		"data":  alerts,
		"total": len(alerts),
	})
}
