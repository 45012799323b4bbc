package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	ready   bool
	healthy bool
}

func (s *stubChecker) IsReady() bool   { return s.ready }
func (s *stubChecker) IsHealthy() bool { return s.healthy }

func serve(t *testing.T, s *Server, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	body := map[string]any{}
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return w.Code, body
}

func TestNewServer_RequiresChecker(t *testing.T) {
	if _, err := NewServer(ServerConfig{}, nil); err == nil {
		t.Fatal("expected error for nil checker")
	}
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		ready        bool
		healthy      bool
		shuttingDown bool
		wantCode     int
		wantStatus   string
	}{
		{name: "ready", path: "/health/ready", ready: true, wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "not ready", path: "/health/ready", healthy: true, wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
		{name: "ready while shutting down", path: "/health/ready", ready: true, shuttingDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "shutting_down"},
		{name: "live", path: "/health/live", healthy: true, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "stalled", path: "/health/live", ready: true, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
		{name: "live while shutting down", path: "/health/live", healthy: true, shuttingDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "shutting_down"},
		{name: "combined ok", path: "/health", ready: true, healthy: true, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "combined degraded", path: "/health", ready: true, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
		{name: "combined shutting down", path: "/health", ready: true, healthy: true, shuttingDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(ServerConfig{}, &stubChecker{ready: tt.ready, healthy: tt.healthy})
			if err != nil {
				t.Fatal(err)
			}
			if tt.shuttingDown {
				s.MarkShuttingDown()
			}

			code, body := serve(t, s, http.MethodGet, tt.path)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %q", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestServer_CombinedReportsBothFlags(t *testing.T) {
	s, _ := NewServer(ServerConfig{}, &stubChecker{ready: false, healthy: true})

	_, body := serve(t, s, http.MethodGet, "/health")
	if body["ready"] != false || body["healthy"] != true || body["shuttingDown"] != false {
		t.Errorf("unexpected body %v", body)
	}
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "auto_repay_scans_total 1\n")
	})

	t.Run("mounted", func(t *testing.T) {
		s, _ := NewServer(ServerConfig{Metrics: metrics}, &stubChecker{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if w.Code != http.StatusOK || w.Body.String() != "auto_repay_scans_total 1\n" {
			t.Errorf("unexpected /metrics response %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("absent", func(t *testing.T) {
		s, _ := NewServer(ServerConfig{}, &stubChecker{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("code = %d, want 404", w.Code)
		}
	})
}

func TestServer_RejectsOtherMethods(t *testing.T) {
	s, _ := NewServer(ServerConfig{}, &stubChecker{ready: true, healthy: true})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", w.Code)
	}
}
