// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adminsock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/testutil"
)

type echoRequest struct {
	Text  string `cbor:"text"`
	Times int    `cbor:"times"`
}

type echoResult struct {
	Echoed []string `cbor:"echoed"`
}

var errBroken = errors.New("broken")

func startServer(t *testing.T) *Client {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "admin.sock")
	server := NewServer(path, nil)
	server.Classify = func(err error) string {
		if errors.Is(err, errBroken) {
			return "broken"
		}
		return ""
	}
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		request, err := Decode[echoRequest](raw)
		if err != nil {
			return nil, err
		}
		result := echoResult{}
		for range request.Times {
			result.Echoed = append(result.Echoed, request.Text)
		}
		return result, nil
	})
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errBroken
	})
	server.Handle("silent", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	server.Handle("panic", func(ctx context.Context, raw []byte) (any, error) {
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})

	client := NewClient(path)
	testutil.Eventually(t, 5*time.Second, func() bool {
		return client.Call(context.Background(), "silent", nil, nil) == nil
	}, "server never accepted a request")
	return client
}

func TestCallRoundTrip(t *testing.T) {
	client := startServer(t)
	var result echoResult
	err := client.Call(context.Background(), "echo", map[string]any{"text": "hi", "times": 3}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Echoed) != 3 || result.Echoed[0] != "hi" {
		t.Fatalf("result = %+v, want three copies of hi", result)
	}
}

func TestCallErrors(t *testing.T) {
	client := startServer(t)
	tests := []struct {
		action   string
		wantCode string
	}{
		{"fail", "broken"},
		{"panic", ""},
		{"nonexistent", ""},
	}
	for _, test := range tests {
		t.Run(test.action, func(t *testing.T) {
			err := client.Call(context.Background(), test.action, nil, nil)
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Call(%q) error = %v, want *RemoteError", test.action, err)
			}
			if remote.Code != test.wantCode {
				t.Errorf("Code = %q, want %q", remote.Code, test.wantCode)
			}
			if remote.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestCallWithoutServer(t *testing.T) {
	client := NewClient(filepath.Join(testutil.SocketDir(t), "missing.sock"))
	err := client.Call(context.Background(), "echo", nil, nil)
	if err == nil {
		t.Fatal("Call succeeded without a server")
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		t.Fatalf("dial failure reported as remote error: %v", err)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewServer("unused", nil)
	server.Handle("a", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("second Handle did not panic")
		}
	}()
	server.Handle("a", func(context.Context, []byte) (any, error) { return nil, nil })
}
