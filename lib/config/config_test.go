// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Paths.Database != "/home/ops/.local/share/switchboard/switchboard.db" {
		t.Errorf("database = %q", cfg.Paths.Database)
	}
	if cfg.Traffic.BaseDelay != 1500*time.Millisecond {
		t.Errorf("base_delay = %v", cfg.Traffic.BaseDelay)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	_, err := Load()
	if err == nil || !strings.HasPrefix(err.Error(), EnvironmentVariable) {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	t.Setenv("SWITCHBOARD_TEST_SOCKET", "/run/test/admin.sock")
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	content := `
environment: production
paths:
  root: /srv/switchboard
  identity: ${SWITCHBOARD_ROOT}/identity.txt
admin:
  socket_path: ${SWITCHBOARD_TEST_SOCKET}
transport:
  name: matrix
  matrix:
    homeserver: https://matrix.example.org
    sync_timeout: 10s
traffic:
  base_delay: 2s
stealth:
  location: Europe/Berlin
  import_dir: ${SWITCHBOARD_UNSET:-/etc/switchboard/schedules}
log:
  level: debug
  format: text
production:
  log:
    file: /var/log/switchboard/daemon.log
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"database", cfg.Paths.Database, "/srv/switchboard/switchboard.db"},
		{"auth", cfg.Paths.Auth, "/srv/switchboard/auth"},
		{"identity", cfg.Paths.Identity, "/srv/switchboard/identity.txt"},
		{"admin socket", cfg.Admin.SocketPath, "/run/test/admin.sock"},
		{"import dir default", cfg.Stealth.ImportDir, "/etc/switchboard/schedules"},
		{"override log file", cfg.Log.File, "/var/log/switchboard/daemon.log"},
		{"base log format kept", cfg.Log.Format, "text"},
		{"device name default", cfg.Transport.Matrix.DeviceName, "switchboard"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%s = %q, want %q", test.name, test.got, test.want)
		}
	}
	if cfg.Traffic.BaseDelay != 2*time.Second || cfg.Traffic.WarmupExtra != 4*time.Second {
		t.Errorf("traffic = %+v", cfg.Traffic)
	}
	if cfg.Transport.Matrix.SyncTimeout != 10*time.Second {
		t.Errorf("sync_timeout = %v", cfg.Transport.Matrix.SyncTimeout)
	}
	location, err := cfg.Location()
	if err != nil || location.String() != "Europe/Berlin" {
		t.Errorf("Location() = %v, %v", location, err)
	}
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Environment = Production
	cfg.Transport.Name = "memory"
	cfg.Log.Level = "loud"
	cfg.Stealth.Location = "Mars/Olympus"
	cfg.Traffic.BaseDelay = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{
		"memory is not allowed in production",
		"paths.identity is required",
		"log.level",
		"stealth.location",
		"must not be negative",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestMatrixRequiresHomeserver(t *testing.T) {
	cfg, err := Parse([]byte("transport:\n  name: matrix\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "homeserver") {
		t.Errorf("Validate = %v", err)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("SWITCHBOARD_EXPAND", "from-env")
	vars := map[string]string{"ROOT": "/data", "EMPTY": ""}
	tests := []struct {
		in, want string
	}{
		{"${ROOT}/db", "/data/db"},
		{"${SWITCHBOARD_EXPAND}", "from-env"},
		{"${EMPTY:-fallback}", "fallback"},
		{"${SWITCHBOARD_MISSING}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.in, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
