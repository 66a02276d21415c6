package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/apimech/adapters/metrics"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.BodyTooLarge == nil {
		t.Error("BodyTooLarge is nil")
	}
	if m.SocketConnections == nil {
		t.Error("SocketConnections is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestRequestsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RequestsTotal.WithLabelValues("GET", "/api/echo", "2xx").Inc()
	m.RequestsTotal.WithLabelValues("POST", "/api/greet", "4xx").Add(5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "apimech_requests_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("apimech_requests_total metric not found")
	}
}

func TestBodyTooLarge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.BodyTooLarge.WithLabelValues(metrics.SourceDeclared).Inc()
	m.BodyTooLarge.WithLabelValues(metrics.SourceMeasured).Add(2)

	if got := testutil.ToFloat64(m.BodyTooLarge.WithLabelValues(metrics.SourceMeasured)); got != 2 {
		t.Errorf("measured = %v, want 2", got)
	}
}

func TestSocketGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.SocketConnections.Inc()
	m.SocketConnections.Inc()
	m.SocketConnections.Dec()

	if got := testutil.ToFloat64(m.SocketConnections); got != 1 {
		t.Errorf("connections = %v, want 1", got)
	}
}

func TestConfigMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConfigReloads.Inc()
	m.ConfigReloadErrors.Inc()
	m.ConfigLastReload.SetToCurrentTime()

	expected := `
# HELP apimech_config_reloads_total Total number of successful config reloads
# TYPE apimech_config_reloads_total counter
apimech_config_reloads_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "apimech_config_reloads_total"); err != nil {
		t.Error(err)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{101, "1xx"},
		{200, "2xx"},
		{204, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{413, "4xx"},
		{500, "5xx"},
	}
	for _, tt := range tests {
		if got := metrics.StatusClass(tt.status); got != tt.want {
			t.Errorf("StatusClass(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/echo", "/api/echo"},
		{"/users/123/orders/456", "/users/:id/orders/:id"},
		{"/", "/"},
		{"/" + strings.Repeat("a", 60), "/" + strings.Repeat("a", 49) + "..."},
	}
	for _, tt := range tests {
		if got := metrics.NormalizePath(tt.path); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
