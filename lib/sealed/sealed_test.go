// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAgeSealerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.txt")
	sealer, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}

	plaintext := []byte(`{"access_token":"syt_secret"}`)
	ciphertext, err := sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("syt_secret")) {
		t.Fatal("ciphertext contains the plaintext token")
	}

	opened, err := sealer.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}
}

func TestLoadOrCreateIdentityReusesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.txt")
	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("identity file mode = %o, want 600", mode)
	}

	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.Recipient() != second.Recipient() {
		t.Fatal("reloading the identity produced a different recipient")
	}

	ciphertext, err := first.Seal([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Open(ciphertext); err != nil {
		t.Fatalf("reloaded identity cannot open: %v", err)
	}
}

func TestOpenWithWrongIdentityFails(t *testing.T) {
	dir := t.TempDir()
	alice, err := LoadOrCreateIdentity(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	bob, err := LoadOrCreateIdentity(filepath.Join(dir, "b"))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, err := alice.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Open(ciphertext); err == nil {
		t.Fatal("Open with another identity succeeded")
	}
}

func TestLoadOrCreateIdentityRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.txt")
	if err := os.WriteFile(path, []byte("# comment only\nnot-a-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("garbage identity accepted")
	}
}

func TestPlainIsIdentity(t *testing.T) {
	var sealer Sealer = Plain{}
	sealed, _ := sealer.Seal([]byte("abc"))
	opened, _ := sealer.Open(sealed)
	if string(opened) != "abc" {
		t.Fatalf("Plain round trip = %q", opened)
	}
}
