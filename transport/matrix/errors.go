// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/switchboard/transport"
)

// Error is a structured error response from the homeserver. Use
// errors.As to reach it, or IsError to test for a code.
type Error struct {
	// Code is the Matrix error code, e.g. "M_FORBIDDEN".
	Code string `json:"errcode"`
	// Message is the server's description.
	Message string `json:"error"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes the transport reacts to.
const (
	CodeForbidden     = "M_FORBIDDEN"
	CodeUnknownToken  = "M_UNKNOWN_TOKEN"
	CodeNotFound      = "M_NOT_FOUND"
	CodeLimitExceeded = "M_LIMIT_EXCEEDED"
)

// IsError reports whether err is an *Error with the given code.
func IsError(err error, code string) bool {
	var matrixErr *Error
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// notFound rewrites lookups the server refuses or does not have into
// transport.ErrNotFound, keeping the original in the message.
func notFound(err error) error {
	var matrixErr *Error
	if errors.As(err, &matrixErr) &&
		(matrixErr.Code == CodeNotFound || matrixErr.StatusCode == http.StatusNotFound || matrixErr.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
	}
	return err
}
