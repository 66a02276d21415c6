package bootstrap_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/apimech/bootstrap"
)

const appConfig = `
prefix: "/api"
socket:
  enabled: true
metrics:
  enabled: true
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newApp(t *testing.T, cfg bootstrap.Config) *bootstrap.App {
	t.Helper()
	if cfg.LogOutput == nil {
		cfg.LogOutput = io.Discard
	}
	a, err := bootstrap.NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a
}

func TestBootstrap_Defaults(t *testing.T) {
	a := newApp(t, bootstrap.Config{})

	if a.HTTPServer == nil {
		t.Fatal("HTTPServer should not be nil")
	}
	if a.HTTPServer.Addr != "0.0.0.0:8080" {
		t.Errorf("Addr = %s, want 0.0.0.0:8080", a.HTTPServer.Addr)
	}
	if a.Web == nil {
		t.Error("Web should not be nil")
	}
	if a.Socket != nil {
		t.Error("Socket should be nil when disabled")
	}
	if a.Metrics != nil {
		t.Error("Metrics should be nil when disabled")
	}
}

func TestBootstrap_MissingFileUsesDefaults(t *testing.T) {
	a := newApp(t, bootstrap.Config{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})

	if a.Config.Get().Socket.Path != "/socket" {
		t.Errorf("Socket.Path = %s, want /socket", a.Config.Get().Socket.Path)
	}
}

func TestBootstrap_ServesAPI(t *testing.T) {
	a := newApp(t, bootstrap.Config{ConfigPath: writeConfig(t, appConfig)})

	if a.Socket == nil {
		t.Fatal("Socket should be enabled")
	}

	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/greet", "application/json", strings.NewReader(`{"name":"Ada"}`))
	if err != nil {
		t.Fatalf("POST /api/greet: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", resp.StatusCode, http.StatusOK, body)
	}
	if !strings.Contains(string(body), `"greeting":"Hello, Ada"`) {
		t.Errorf("body = %s", body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "apimech_requests_total") {
		t.Error("metrics output missing apimech_requests_total")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing go runtime collector")
	}
}

func TestBootstrap_LogsToOutput(t *testing.T) {
	var buf bytes.Buffer
	newApp(t, bootstrap.Config{LogOutput: &buf})

	if !strings.Contains(buf.String(), "initializing apimech") {
		t.Errorf("log output = %s", buf.String())
	}
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "socket:\n  enabled: true\n  body_encoding: xml\n")

	if _, err := bootstrap.NewWithConfig(bootstrap.Config{ConfigPath: path, LogOutput: io.Discard}); err == nil {
		t.Error("expected error for unknown body encoding")
	}
}

func TestBootstrap_HotReloadRequiresFile(t *testing.T) {
	if _, err := bootstrap.NewWithConfig(bootstrap.Config{HotReload: true, LogOutput: io.Discard}); err == nil {
		t.Error("expected error for hot reload without a config file")
	}
}

func TestBootstrap_HotReload(t *testing.T) {
	path := writeConfig(t, appConfig)
	a := newApp(t, bootstrap.Config{ConfigPath: path, HotReload: true})

	// Give the watcher time to start
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte(appConfig+"debug: true\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !a.Config.Get().Debug && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if !a.Config.Get().Debug {
		t.Fatal("config was not reloaded")
	}
	if got := testutil.ToFloat64(a.Metrics.ConfigReloads); got < 1 {
		t.Errorf("ConfigReloads = %v, want >= 1", got)
	}
}

func TestBootstrap_GracefulShutdown(t *testing.T) {
	a, err := bootstrap.NewWithConfig(bootstrap.Config{ConfigPath: writeConfig(t, appConfig), LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	if err := a.Shutdown(); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}
