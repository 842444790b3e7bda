package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"price_alert_backend/middleware"
	"price_alert_backend/models"
)

type noPrice struct{}

func (noPrice) CurrentPrice(context.Context) (string, bool) { return "", false }

type okAlerts struct{}

func (okAlerts) AddAlert(context.Context, models.Alert) error { return nil }
func (okAlerts) RemoveAlert(context.Context, string) error    { return nil }
func (okAlerts) ListAlerts() []models.Alert                   { return nil }

func TestSetupRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, Dependencies{
		Prices:      noPrice{},
		Alerts:      okAlerts{},
		Symbol:      "BTCUSDT",
		RateLimiter: middleware.NewRateLimiter(1, time.Minute),
		Logger:      zap.NewNop(),
	})

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/v1/price", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/alerts", "", http.StatusOK},
		{http.MethodPost, "/api/v1/alerts", `{"name":"A","highThreshold":1,"lowThreshold":0}`, http.StatusOK},
		// second mutation in the window is limited
		{http.MethodDelete, "/api/v1/alerts/A", "", http.StatusTooManyRequests},
		{http.MethodGet, "/metrics", "", http.StatusOK},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}
