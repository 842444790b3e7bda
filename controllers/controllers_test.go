package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"price_alert_backend/models"
)

type stubPrices struct {
	price string
	ok    bool
}

func (p stubPrices) CurrentPrice(context.Context) (string, bool) { return p.price, p.ok }

type stubAlerts struct {
	added   []models.Alert
	removed []string
	err     error
	list    []models.Alert
}

func (a *stubAlerts) AddAlert(_ context.Context, alert models.Alert) error {
	if a.err != nil {
		return a.err
	}
	a.added = append(a.added, alert)
	return nil
}

func (a *stubAlerts) RemoveAlert(_ context.Context, name string) error {
	if a.err != nil {
		return a.err
	}
	a.removed = append(a.removed, name)
	return nil
}

func (a *stubAlerts) ListAlerts() []models.Alert { return a.list }

func newRouter(prices PriceReader, alerts AlertManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	pc := NewPriceController(prices, "BTCUSDT")
	ac := NewAlertController(alerts, zap.NewNop())
	r.GET("/price", pc.GetCurrentPrice)
	r.GET("/alerts", ac.GetAlerts)
	r.POST("/alerts", ac.CreateAlert)
	r.DELETE("/alerts/:name", ac.DeleteAlert)
	return r
}

func do(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)

	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestGetCurrentPrice(t *testing.T) {
	r := newRouter(stubPrices{price: "67000.50", ok: true}, &stubAlerts{})

	w, body := do(r, http.MethodGet, "/price", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["price"] != "67000.50" || body["symbol"] != "BTCUSDT" {
		t.Errorf("body = %v", body)
	}
}

func TestGetCurrentPriceUnavailable(t *testing.T) {
	r := newRouter(stubPrices{}, &stubAlerts{})

	w, body := do(r, http.MethodGet, "/price", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body["status"] != "unavailable" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateAlert(t *testing.T) {
	alerts := &stubAlerts{}
	r := newRouter(stubPrices{}, alerts)

	w, body := do(r, http.MethodPost, "/alerts", `{"name":"A","highThreshold":100,"lowThreshold":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", w.Code, body)
	}
	if body["message"] != "Alert added successfully!" {
		t.Errorf("body = %v", body)
	}
	want := models.Alert{Name: "A", HighThreshold: 100, LowThreshold: 0}
	if len(alerts.added) != 1 || alerts.added[0] != want {
		t.Errorf("added = %v, want %v", alerts.added, want)
	}
}

func TestCreateAlertBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing name", `{"highThreshold":100,"lowThreshold":50}`},
		{"missing high", `{"name":"A","lowThreshold":50}`},
		{"missing low", `{"name":"A","highThreshold":100}`},
		{"wrong type", `{"name":"A","highThreshold":"high","lowThreshold":50}`},
		{"slash in name", `{"name":"btc/usd","highThreshold":100,"lowThreshold":50}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := &stubAlerts{}
			r := newRouter(stubPrices{}, alerts)

			w, _ := do(r, http.MethodPost, "/alerts", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(alerts.added) != 0 {
				t.Error("invalid request reached the scheduler")
			}
		})
	}
}

func TestCreateAlertFailure(t *testing.T) {
	r := newRouter(stubPrices{}, &stubAlerts{err: errors.New("registry down")})

	w, _ := do(r, http.MethodPost, "/alerts", `{"name":"A","highThreshold":100,"lowThreshold":50}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestDeleteAlert(t *testing.T) {
	alerts := &stubAlerts{}
	r := newRouter(stubPrices{}, alerts)

	w, body := do(r, http.MethodDelete, "/alerts/A", "")
	if w.Code != http.StatusOK || body["message"] != "Alert removed successfully!" {
		t.Fatalf("status = %d, body = %v", w.Code, body)
	}
	if len(alerts.removed) != 1 || alerts.removed[0] != "A" {
		t.Errorf("removed = %v", alerts.removed)
	}

	r = newRouter(stubPrices{}, &stubAlerts{err: errors.New("registry down")})
	if w, _ := do(r, http.MethodDelete, "/alerts/A", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestGetAlerts(t *testing.T) {
	alerts := &stubAlerts{list: []models.Alert{{Name: "A", HighThreshold: 100, LowThreshold: 50}}}
	r := newRouter(stubPrices{}, alerts)

	w, body := do(r, http.MethodGet, "/alerts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v", body["total"])
	}
	data, _ := body["data"].([]any)
	if len(data) != 1 || data[0].(map[string]any)["name"] != "A" {
		t.Errorf("data = %v", body["data"])
	}
}

func TestAcceptedNameCanBeDeleted(t *testing.T) {
	alerts := &stubAlerts{}
	r := newRouter(stubPrices{}, alerts)

	w, _ := do(r, http.MethodPost, "/alerts", `{"name":"btc usd:high","highThreshold":100,"lowThreshold":50}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d", w.Code)
	}
	w, _ = do(r, http.MethodDelete, "/alerts/btc%20usd:high", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if len(alerts.removed) != 1 || alerts.removed[0] != alerts.added[0].Name {
		t.Errorf("removed = %v, added = %v", alerts.removed, alerts.added)
	}
}
