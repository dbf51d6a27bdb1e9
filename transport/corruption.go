// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"strings"
)

// Symptom names a sign that the end-to-end session state is corrupt.
type Symptom string

const (
	SymptomBadMAC             Symptom = "bad_mac"
	SymptomNoSession          Symptom = "no_session"
	SymptomNoMatchingSessions Symptom = "no_matching_sessions"
	SymptomUnknownSession     Symptom = "unknown_session"
	SymptomDecryptFailed      Symptom = "decrypt_failed"
)

// symptomPatterns maps lowercase substrings seen in crypto library
// errors and log lines to symptoms. Order matters: "no matching
// sessions" must be tested before "no session".
var symptomPatterns = []struct {
	needle  string
	symptom Symptom
}{
	{"bad mac", SymptomBadMAC},
	{"no matching sessions", SymptomNoMatchingSessions},
	{"no session", SymptomNoSession},
	{"unknown session", SymptomUnknownSession},
	{"unknown inbound session", SymptomUnknownSession},
	{"failed to decrypt", SymptomDecryptFailed},
	{"decryption failed", SymptomDecryptFailed},
}

// ClassifyCorruption inspects free text for a corruption symptom.
func ClassifyCorruption(text string) (Symptom, bool) {
	lower := strings.ToLower(text)
	for _, pattern := range symptomPatterns {
		if strings.Contains(lower, pattern.needle) {
			return pattern.symptom, true
		}
	}
	return "", false
}

// NewSymptomHandler wraps inner so that every record at Warn or above
// whose message or string attributes classify as corruption is
// reported to report before being passed on. report must not block.
func NewSymptomHandler(inner slog.Handler, report func(Symptom)) slog.Handler {
	return &symptomHandler{inner: inner, report: report}
}

type symptomHandler struct {
	inner  slog.Handler
	report func(Symptom)
	// preset holds classifications of attributes added with WithAttrs.
	preset Symptom
}

func (h *symptomHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn || h.inner.Enabled(ctx, level)
}

func (h *symptomHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn {
		symptom, found := ClassifyCorruption(record.Message)
		if !found {
			record.Attrs(func(attr slog.Attr) bool {
				symptom, found = classifyAttr(attr)
				return !found
			})
		}
		if !found && h.preset != "" {
			symptom, found = h.preset, true
		}
		if found {
			h.report(symptom)
		}
	}
	if !h.inner.Enabled(ctx, record.Level) {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

func (h *symptomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	preset := h.preset
	for _, attr := range attrs {
		if symptom, found := classifyAttr(attr); found && preset == "" {
			preset = symptom
		}
	}
	return &symptomHandler{inner: h.inner.WithAttrs(attrs), report: h.report, preset: preset}
}

func (h *symptomHandler) WithGroup(name string) slog.Handler {
	return &symptomHandler{inner: h.inner.WithGroup(name), report: h.report, preset: h.preset}
}

func classifyAttr(attr slog.Attr) (Symptom, bool) {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return ClassifyCorruption(value.String())
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return ClassifyCorruption(err.Error())
		}
	case slog.KindGroup:
		for _, member := range value.Group() {
			if symptom, found := classifyAttr(member); found {
				return symptom, true
			}
		}
	}
	return "", false
}
