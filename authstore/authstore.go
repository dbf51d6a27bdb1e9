// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/switchboard/lib/blob"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/keyhash"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/transport"
)

// ErrLocked is returned by Open when another process holds the
// instance's lock.
var ErrLocked = errors.New("authstore: instance is locked by another process")

const (
	credentialsFile = "credentials"
	keysDirectory   = "keys"
	lockFile        = "lock"
	keySuffix       = ".key"
)

// Config configures New.
type Config struct {
	Root   string
	Sealer sealed.Sealer
	Logger *slog.Logger
}

// Store is the root of all instances' auth directories.
type Store struct {
	root   string
	sealer sealed.Sealer
	logger *slog.Logger
}

// New creates the root directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("authstore: Root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o700); err != nil {
		return nil, fmt.Errorf("authstore: creating %s: %w", cfg.Root, err)
	}
	sealer := cfg.Sealer
	if sealer == nil {
		sealer = sealed.Plain{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{root: cfg.Root, sealer: sealer, logger: logger}, nil
}

func (s *Store) dir(id int64) string {
	return filepath.Join(s.root, strconv.FormatInt(id, 10))
}

// Open locks and returns the auth directory of instance id, creating
// it if needed.
func (s *Store) Open(id int64) (*Instance, error) {
	dir := s.dir(id)
	if err := os.MkdirAll(filepath.Join(dir, keysDirectory), 0o700); err != nil {
		return nil, fmt.Errorf("authstore: creating %s: %w", dir, err)
	}
	lock, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("authstore: opening lock: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %d", ErrLocked, id)
		}
		return nil, fmt.Errorf("authstore: locking %s: %w", dir, err)
	}
	return &Instance{
		id:     id,
		dir:    dir,
		sealer: s.sealer,
		logger: s.logger.With("instance", id),
		lock:   lock,
	}, nil
}

// Remove deletes everything stored for instance id. The instance must
// not be open.
func (s *Store) Remove(id int64) error {
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return fmt.Errorf("authstore: removing instance %d: %w", id, err)
	}
	return nil
}

// Instance is one instance's auth directory, held under an exclusive
// lock until Close.
type Instance struct {
	id     int64
	dir    string
	sealer sealed.Sealer
	logger *slog.Logger
	lock   *os.File
}

var _ transport.KeyStore = (*Instance)(nil)

// Credentials returns the stored root credential or nil.
func (a *Instance) Credentials() (transport.Credentials, error) {
	data, err := a.readSealed(filepath.Join(a.dir, credentialsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authstore: reading credentials: %w", err)
	}
	return transport.Credentials(data), nil
}

// HasCredentials reports whether a credential is stored.
func (a *Instance) HasCredentials() bool {
	_, err := os.Stat(filepath.Join(a.dir, credentialsFile))
	return err == nil
}

// SaveCredentials replaces the root credential.
func (a *Instance) SaveCredentials(credentials transport.Credentials) error {
	if len(credentials) == 0 {
		return fmt.Errorf("authstore: refusing to save empty credentials")
	}
	if err := a.writeSealed(filepath.Join(a.dir, credentialsFile), credentials); err != nil {
		return fmt.Errorf("authstore: saving credentials: %w", err)
	}
	a.logger.Info("credentials saved")
	return nil
}

type keyRecord struct {
	Name  string `cbor:"name"`
	Value []byte `cbor:"value"`
}

func (a *Instance) keyPath(name string) string {
	return filepath.Join(a.dir, keysDirectory, keyhash.Name(keyhash.SessionKeyDomain, name)+keySuffix)
}

// Get implements transport.KeyStore.
func (a *Instance) Get(name string) ([]byte, bool, error) {
	data, err := a.readSealed(a.keyPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("authstore: reading key %q: %w", name, err)
	}
	record, err := decodeKey(data)
	if err != nil {
		return nil, false, fmt.Errorf("authstore: key %q: %w", name, err)
	}
	if record.Name != name {
		return nil, false, fmt.Errorf("authstore: key file for %q holds %q", name, record.Name)
	}
	return record.Value, true, nil
}

// Put implements transport.KeyStore.
func (a *Instance) Put(name string, value []byte) error {
	encoded, err := codec.Marshal(keyRecord{Name: name, Value: value})
	if err != nil {
		return fmt.Errorf("authstore: encoding key %q: %w", name, err)
	}
	framed, err := blob.Pack(encoded, blob.LZ4)
	if err != nil {
		return fmt.Errorf("authstore: compressing key %q: %w", name, err)
	}
	if err := a.writeSealed(a.keyPath(name), framed); err != nil {
		return fmt.Errorf("authstore: writing key %q: %w", name, err)
	}
	return nil
}

// Delete implements transport.KeyStore. Deleting a missing key is not
// an error.
func (a *Instance) Delete(name string) error {
	if err := os.Remove(a.keyPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("authstore: deleting key %q: %w", name, err)
	}
	return nil
}

// KeyNames lists the names of stored session keys.
func (a *Instance) KeyNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.dir, keysDirectory))
	if err != nil {
		return nil, fmt.Errorf("authstore: listing keys: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), keySuffix) {
			continue
		}
		data, err := a.readSealed(filepath.Join(a.dir, keysDirectory, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("authstore: reading %s: %w", entry.Name(), err)
		}
		record, err := decodeKey(data)
		if err != nil {
			return nil, fmt.Errorf("authstore: %s: %w", entry.Name(), err)
		}
		names = append(names, record.Name)
	}
	return names, nil
}

// WipeSession deletes every session key and keeps the credential.
func (a *Instance) WipeSession() error {
	keys := filepath.Join(a.dir, keysDirectory)
	if err := os.RemoveAll(keys); err != nil {
		return fmt.Errorf("authstore: wiping session keys: %w", err)
	}
	if err := os.MkdirAll(keys, 0o700); err != nil {
		return fmt.Errorf("authstore: recreating keys directory: %w", err)
	}
	a.logger.Warn("session keys wiped")
	return nil
}

// WipeAll deletes the session keys and the credential.
func (a *Instance) WipeAll() error {
	if err := a.WipeSession(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(a.dir, credentialsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("authstore: deleting credentials: %w", err)
	}
	a.logger.Warn("credentials wiped")
	return nil
}

// Close releases the lock.
func (a *Instance) Close() error {
	if a.lock == nil {
		return nil
	}
	unix.Flock(int(a.lock.Fd()), unix.LOCK_UN)
	err := a.lock.Close()
	a.lock = nil
	return err
}

func decodeKey(framed []byte) (keyRecord, error) {
	encoded, err := blob.Unpack(framed)
	if err != nil {
		return keyRecord{}, err
	}
	var record keyRecord
	if err := codec.Unmarshal(encoded, &record); err != nil {
		return keyRecord{}, fmt.Errorf("decoding: %w", err)
	}
	return record, nil
}

func (a *Instance) readSealed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.sealer.Open(data)
}

func (a *Instance) writeSealed(path string, plaintext []byte) error {
	data, err := a.sealer.Seal(plaintext)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// writeAtomic replaces path so that readers see either the old or the
// new content, never a prefix.
func writeAtomic(path string, data []byte) error {
	temporary := path + ".tmp"
	file, err := os.OpenFile(temporary, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporary)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporary)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(temporary)
		return err
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return err
	}
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
