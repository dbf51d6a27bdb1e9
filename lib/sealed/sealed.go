// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts auth material at rest with age X25519
// identities. A [Sealer] is handed to authstore; [Plain] leaves data
// untouched for deployments that rely on filesystem permissions alone.
package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Sealer turns plaintext into an opaque sealed form and back.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Plain is the identity Sealer.
type Plain struct{}

func (Plain) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (Plain) Open(sealed []byte) ([]byte, error)    { return sealed, nil }

// AgeSealer encrypts to its own X25519 recipient and decrypts with the
// matching identity.
type AgeSealer struct {
	identity *age.X25519Identity
}

// NewAgeSealer wraps a parsed identity.
func NewAgeSealer(identity *age.X25519Identity) *AgeSealer {
	return &AgeSealer{identity: identity}
}

// LoadOrCreateIdentity reads an age identity ("AGE-SECRET-KEY-1...")
// from path, generating and writing a new one with mode 0600 when the
// file does not exist.
func LoadOrCreateIdentity(path string) (*AgeSealer, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("sealed: generating identity: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sealed: creating identity directory: %w", err)
		}
		content := "# switchboard auth sealing key\n# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("sealed: writing identity: %w", err)
		}
		return NewAgeSealer(identity), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing identity in %s: %w", path, err)
		}
		return NewAgeSealer(identity), nil
	}
	return nil, fmt.Errorf("sealed: no identity found in %s", path)
}

// Recipient returns the public key that Seal encrypts to.
func (s *AgeSealer) Recipient() string {
	return s.identity.Recipient().String()
}

func (s *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	var out bytes.Buffer
	writer, err := age.Encrypt(&out, s.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("sealed: starting encryption: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finishing encryption: %w", err)
	}
	return out.Bytes(), nil
}

func (s *AgeSealer) Open(sealed []byte) ([]byte, error) {
	reader, err := age.Decrypt(bytes.NewReader(sealed), s.identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}
