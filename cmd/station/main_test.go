package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a YAML config into a temp dir and points run at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv(configEnvVar, configPath)
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configEnvVar, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails validation when history
// is enabled without a database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, `
station:
  id: test-station

database:
  path: ""
  history_enabled: true

mqtt:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path validation error", err)
	}
}

// TestRun_UnwritableDatabase verifies run fails when the database cannot be opened.
func TestRun_UnwritableDatabase(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	writeConfig(t, fmt.Sprintf(`
station:
  id: test-station
database:
  path: %q
  history_enabled: true
mqtt:
  enabled: false
`, filepath.Join(blocker, "station.db")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the database directory is a file")
	}
	if !strings.Contains(err.Error(), "opening database") {
		t.Errorf("run() error = %v, want opening database error", err)
	}
}

// TestRun_CleanShutdown starts a station with only the change journal
// enabled and verifies it returns nil once the context is cancelled.
func TestRun_CleanShutdown(t *testing.T) {
	writeConfig(t, fmt.Sprintf(`
station:
  id: test-station
transport:
  host: 127.0.0.1
  port: %d
database:
  path: %q
  history_enabled: true
  history_retention: 24
mqtt:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`, freePort(t), filepath.Join(t.TempDir(), "station.db")))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after context cancellation")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnvVar, "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv(configEnvVar, "/etc/station.yaml")
	if got := getConfigPath(); got != "/etc/station.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/station.yaml", got)
	}
}
