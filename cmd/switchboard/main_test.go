// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/adminsock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
)

// stubDaemon serves canned responses and records each request body.
type stubDaemon struct {
	socketPath string
	server     *adminsock.Server
	requests   chan []byte
}

func newStubDaemon(t *testing.T) *stubDaemon {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "admin.sock")
	stub := &stubDaemon{
		socketPath: path,
		server:     adminsock.NewServer(path, nil),
		requests:   make(chan []byte, 16),
	}
	stub.server.Classify = func(err error) string {
		if errors.Is(err, errStubUnknown) {
			return "unknown_instance"
		}
		return ""
	}
	stub.server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	return stub
}

var errStubUnknown = errors.New("unknown instance")

// respond registers action to record its request and return result.
func (s *stubDaemon) respond(action string, result any, err error) {
	s.server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
		s.requests <- append([]byte(nil), raw...)
		return result, err
	})
}

func (s *stubDaemon) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("stub daemon did not stop")
		}
	})
	client := adminsock.NewClient(s.socketPath)
	testutil.Eventually(t, 5*time.Second, func() bool {
		return client.Call(context.Background(), "ping", nil, nil) == nil
	}, "stub daemon never came up")
}

func (s *stubDaemon) request(t *testing.T) []byte {
	t.Helper()
	return testutil.RequireReceive(t, s.requests, 5*time.Second, "no request recorded")
}

func runCLI(t *testing.T, socketPath, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--socket", socketPath}, args...)
	err := run(context.Background(), full, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestListRendersInstances(t *testing.T) {
	stub := newStubDaemon(t)
	stub.respond("list", []instanceView{
		{ID: 1, Name: "support", Status: "connected", Presence: "available", Executed: 4},
		{ID: 2, Name: "sales", Status: "qr_pending", Presence: "unavailable", Challenge: "password-login:https://hs.test"},
	}, nil)
	stub.start(t)

	output, err := runCLI(t, stub.socketPath, "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"support", "connected", "sales", "qr_pending", "challenge:", "password-login:https://hs.test", "4/0"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	stub := newStubDaemon(t)
	stub.respond("status", statusView{Version: "1.2.3", Transport: "memory", UptimeSeconds: 90, Instances: 2, Connected: 1}, nil)
	stub.start(t)

	output, err := runCLI(t, stub.socketPath, "", "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var decoded statusView
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if decoded.Version != "1.2.3" || decoded.Connected != 1 || decoded.Instances != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestPairReadsSecretFromStdin(t *testing.T) {
	stub := newStubDaemon(t)
	stub.respond("pair", nil, nil)
	stub.start(t)

	output, err := runCLI(t, stub.socketPath, "hunter2\n", "pair", "3", "alice")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	request, err := adminsock.Decode[struct {
		Instance int64  `cbor:"instance"`
		Account  string `cbor:"account"`
		Secret   string `cbor:"secret"`
	}](stub.request(t))
	if err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	if request.Instance != 3 || request.Account != "alice" || request.Secret != "hunter2" {
		t.Fatalf("request = %+v", request)
	}
	if !strings.Contains(output, "paired as alice") {
		t.Fatalf("output = %q", output)
	}
}

func TestPairRejectsEmptySecret(t *testing.T) {
	_, err := runCLI(t, "/nonexistent/admin.sock", "", "pair", "3", "alice")
	if err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("pair with empty stdin: err = %v, want secret error", err)
	}
}

func TestScheduleAddSendsFlags(t *testing.T) {
	stub := newStubDaemon(t)
	stub.respond("schedule-add", scheduleView{ID: 7, Name: "night", Start: "22:00", End: "06:00", Mode: "SPECIFIC_CONTACTS"}, nil)
	stub.start(t)

	output, err := runCLI(t, stub.socketPath, "",
		"schedule", "add", "1", "night",
		"--start", "22:00", "--end", "06:00", "--days", "mon-fri",
		"--mode", "SPECIFIC_CONTACTS", "--target", "boss", "--target", "ex", "--disabled")
	if err != nil {
		t.Fatalf("schedule add: %v", err)
	}
	request, err := adminsock.Decode[struct {
		Instance int64    `cbor:"instance"`
		Name     string   `cbor:"name"`
		Start    string   `cbor:"start"`
		End      string   `cbor:"end"`
		Days     string   `cbor:"days"`
		Mode     string   `cbor:"mode"`
		Enabled  *bool    `cbor:"enabled"`
		Targets  []string `cbor:"targets"`
	}](stub.request(t))
	if err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	if request.Instance != 1 || request.Name != "night" || request.Start != "22:00" || request.End != "06:00" ||
		request.Days != "mon-fri" || request.Mode != "SPECIFIC_CONTACTS" {
		t.Fatalf("request = %+v", request)
	}
	if request.Enabled == nil || *request.Enabled {
		t.Fatalf("enabled = %v, want explicit false", request.Enabled)
	}
	if strings.Join(request.Targets, ",") != "boss,ex" {
		t.Fatalf("targets = %v", request.Targets)
	}
	if !strings.Contains(output, "22:00-06:00") {
		t.Fatalf("output = %q", output)
	}
}

func TestWipeSendsEveryInstance(t *testing.T) {
	stub := newStubDaemon(t)
	stub.respond("wipe", nil, nil)
	stub.start(t)

	if _, err := runCLI(t, stub.socketPath, "", "wipe", "1", "2", "5"); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	request, err := adminsock.Decode[struct {
		Instances []int64 `cbor:"instances"`
	}](stub.request(t))
	if err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	if fmt.Sprint(request.Instances) != "[1 2 5]" {
		t.Fatalf("instances = %v", request.Instances)
	}
}

func TestRemoteErrorCarriesCode(t *testing.T) {
	stub := newStubDaemon(t)
	stub.respond("delete", nil, fmt.Errorf("engine: %w: 9", errStubUnknown))
	stub.start(t)

	_, err := runCLI(t, stub.socketPath, "", "delete", "9")
	var remote *adminsock.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("delete error = %v, want *RemoteError", err)
	}
	if remote.Code != "unknown_instance" {
		t.Fatalf("code = %q, want unknown_instance", remote.Code)
	}
}

func TestArgumentErrors(t *testing.T) {
	socket := "/nonexistent/admin.sock"
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing argument", []string{"delete"}, "usage"},
		{"extra argument", []string{"status", "now"}, "usage"},
		{"bad instance", []string{"delete", "abc"}, "invalid instance id"},
		{"zero instance", []string{"reconnect", "0"}, "invalid instance id"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"no wipe targets", []string{"wipe"}, "usage"},
		{"schedule without window", []string{"schedule", "add", "1", "x"}, "--start and --end"},
		{"unknown flag", []string{"create", "--colour", "x"}, "unknown flag"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := runCLI(t, socket, "", test.args...)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("run(%v) error = %v, want containing %q", test.args, err, test.want)
			}
		})
	}
}

func TestHelpDoesNotDial(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--socket", "/nonexistent/admin.sock", "schedule", "--help"},
		strings.NewReader(""), &stdout, &stderr)
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(stderr.String(), "remove") {
		t.Fatalf("help output missing subcommands:\n%s", stderr.String())
	}
}
