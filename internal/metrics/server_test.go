package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewHTTPServer_ServesMetrics(t *testing.T) {
	srv := NewHTTPServer("localhost", 9090)
	if srv.Addr != "localhost:9090" {
		t.Fatalf("Expected address localhost:9090, got %s", srv.Addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("Expected default Go runtime metrics in /metrics output")
	}
}

func TestNewHTTPServer_DefaultPort(t *testing.T) {
	srv := NewHTTPServer("0.0.0.0", 0)
	if srv.Addr != "0.0.0.0:9090" {
		t.Fatalf("Expected fallback port 9090, got %s", srv.Addr)
	}
}
