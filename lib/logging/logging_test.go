// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONToWriter(t *testing.T) {
	var buffer bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Format: "json", Output: &buffer})
	if err != nil {
		t.Fatal(err)
	}
	defer closer()

	logger.Info("dropped")
	logger.Warn("kept", "instance", 7)

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buffer.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatal(err)
	}
	if record["msg"] != "kept" || record["instance"] != float64(7) {
		t.Errorf("record = %v", record)
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, closer, err := New(Options{Format: "text", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("instance started", "instance", 3)
	if err := closer(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `msg="instance started" instance=3`) {
		t.Errorf("log file = %q", data)
	}
}

func TestInvalidOptions(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("unknown level accepted")
	}
	if _, _, err := New(Options{Format: "xml", Output: &bytes.Buffer{}}); err == nil {
		t.Error("unknown format accepted")
	}
}
