package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"world-indexer.backend/internal/interfaces/http/handlers"
)

func TestRegisterAPIV1Routes_RegistersKeyRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	registerAPIV1Routes(r, routeDeps{
		worldHandler:        &handlers.WorldHandler{},
		queryHandler:        &handlers.QueryHandler{},
		messageHandler:      &handlers.MessageHandler{},
		subscriptionHandler: &handlers.SubscriptionHandler{},
	})

	expects := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/status"},
		{"POST", "/api/v1/entities/query"},
		{"GET", "/api/v1/entities/subscribe"},
		{"POST", "/api/v1/event-messages/query"},
		{"GET", "/api/v1/models"},
		{"GET", "/api/v1/models/:selector"},
		{"POST", "/api/v1/messages"},
	}

	routes := r.Routes()
	for _, exp := range expects {
		found := false
		for _, route := range routes {
			if route.Method == exp.method && route.Path == exp.path {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("route %s %s not registered", exp.method, exp.path)
		}
	}
}

func TestRegisterMetricsRoute_Responds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerMetricsRoute(r)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
