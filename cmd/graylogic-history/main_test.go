package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/database"
)

// writeTestConfig writes a config with MQTT disabled and points
// GRAYLOGIC_HISTORY_CONFIG at it.
func writeTestConfig(t *testing.T, dbPath, meterURL string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 19095

meter:
  url: "` + meterURL + `"
  token: "test-token"
  timeout: 5

history:
  store: sqlite
  window_days: 7
  interval_minutes: 60
  channels:
    - resource_id: "res-1"
      item: "energy_import"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_HISTORY_CONFIG", configPath)
}

// emptyMeter answers like a metering API holding no data.
func emptyMeter(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"timestamp":null}`))
	}))
	t.Cleanup(server.Close)
	return server
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_HISTORY_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeTestConfig(t, "", "https://meter.example.com/v1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_MeterUnreachable verifies the service starts with the meter API
// down and records the failed run instead of exiting.
func TestRun_MeterUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	meterURL := server.URL
	server.Close()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	writeTestConfig(t, dbPath, meterURL)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want startup despite unreachable meter", err)
	}

	db, err := database.Open(context.Background(), config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	var failed int
	if err := db.QueryRow("SELECT COUNT(*) FROM history_runs WHERE resource_id = ? AND error IS NOT NULL AND error != ''", "res-1").Scan(&failed); err != nil {
		t.Fatalf("counting runs: %v", err)
	}
	if failed == 0 {
		t.Error("no failed history run recorded")
	}
}

// TestRun_StartupAndShutdown runs the service against a fake meter until the
// context expires and checks the first run was recorded.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	writeTestConfig(t, dbPath, emptyMeter(t).URL)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(context.Background(), config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM history_runs WHERE resource_id = ?", "res-1").Scan(&count); err != nil {
		t.Fatalf("counting runs: %v", err)
	}
	if count == 0 {
		t.Error("no history run recorded")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_HISTORY_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_HISTORY_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
