// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestClassifyCorruption(t *testing.T) {
	tests := []struct {
		text    string
		want    Symptom
		matched bool
	}{
		{"Bad MAC", SymptomBadMAC, true},
		{"failed to decrypt message: Bad MAC Error", SymptomBadMAC, true},
		{"No matching sessions found for message", SymptomNoMatchingSessions, true},
		{"No session record", SymptomNoSession, true},
		{"megolm: unknown inbound session id", SymptomUnknownSession, true},
		{"connection reset by peer", "", false},
		{"", "", false},
	}
	for _, test := range tests {
		t.Run(test.text, func(t *testing.T) {
			got, matched := ClassifyCorruption(test.text)
			if matched != test.matched || got != test.want {
				t.Errorf("ClassifyCorruption(%q) = %q, %v; want %q, %v",
					test.text, got, matched, test.want, test.matched)
			}
		})
	}
}

func newRecordingLogger(level slog.Level) (*slog.Logger, *[]Symptom, *bytes.Buffer) {
	var symptoms []Symptom
	var output bytes.Buffer
	inner := slog.NewTextHandler(&output, &slog.HandlerOptions{Level: level})
	handler := NewSymptomHandler(inner, func(symptom Symptom) {
		symptoms = append(symptoms, symptom)
	})
	return slog.New(handler), &symptoms, &output
}

func TestSymptomHandlerClassifiesWarnings(t *testing.T) {
	logger, symptoms, output := newRecordingLogger(slog.LevelInfo)

	logger.Warn("decrypt failed", "error", errors.New("Bad MAC"))
	logger.Error("No session for sender", "sender", "@a:example.org")
	logger.Warn("slow sync", "duration_ms", 4000)

	if len(*symptoms) != 2 {
		t.Fatalf("reported %d symptoms, want 2: %v", len(*symptoms), *symptoms)
	}
	if (*symptoms)[0] != SymptomBadMAC || (*symptoms)[1] != SymptomNoSession {
		t.Errorf("symptoms = %v", *symptoms)
	}
	if !strings.Contains(output.String(), "slow sync") {
		t.Error("records were not passed to the inner handler")
	}
}

func TestSymptomHandlerIgnoresInfo(t *testing.T) {
	logger, symptoms, _ := newRecordingLogger(slog.LevelDebug)
	logger.Info("retrying after Bad MAC")
	logger.Debug("No session")
	if len(*symptoms) != 0 {
		t.Fatalf("info/debug records reported symptoms: %v", *symptoms)
	}
}

func TestSymptomHandlerSeesWarningsBelowInnerLevel(t *testing.T) {
	logger, symptoms, output := newRecordingLogger(slog.LevelError)
	logger.Warn("Bad MAC")
	if len(*symptoms) != 1 {
		t.Fatalf("reported %d symptoms, want 1", len(*symptoms))
	}
	if output.Len() != 0 {
		t.Errorf("warning below the inner level was written: %q", output.String())
	}
}

func TestSymptomHandlerWithAttrs(t *testing.T) {
	logger, symptoms, _ := newRecordingLogger(slog.LevelInfo)
	scoped := logger.With("cause", "No matching sessions").WithGroup("crypto")
	scoped.Warn("message dropped")
	if len(*symptoms) != 1 || (*symptoms)[0] != SymptomNoMatchingSessions {
		t.Fatalf("symptoms = %v", *symptoms)
	}
}
