// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package vault stores the Audible device credential encrypted at rest.
//
// The credential is sealed with AES-256-GCM. The encryption key is derived
// with PBKDF2-SHA256 from a machine fingerprint (hostname + current
// username), so the credential file cannot be decrypted when copied to
// another machine or user account. The plaintext secret is cached in
// memory for the process lifetime and never logged.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/pbkdf2"

	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/metrics"
)

// Vault errors
var (
	// ErrAuthFailed indicates the credential file is missing, malformed,
	// or cannot be decrypted on this machine.
	ErrAuthFailed = errors.New("credential unavailable or undecryptable")

	// ErrEmptySecret indicates an attempt to store an empty credential.
	ErrEmptySecret = errors.New("secret must not be empty")
)

const (
	// fileVersion is the on-disk format version.
	fileVersion = 1

	// defaultIterations is the PBKDF2 iteration count for new files.
	defaultIterations = 480_000

	// minIterations is the lowest iteration count accepted when reading.
	minIterations = 100_000

	saltSize = 16
	keySize  = 32 // AES-256
)

// credentialFile is the JSON structure written to disk.
type credentialFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Ciphertext string `json:"ciphertext"` // nonce prepended, base64
}

// Vault encrypts and decrypts the device credential file.
type Vault struct {
	path        string
	iterations  int
	fingerprint func() []byte

	mu        sync.Mutex
	cached    string
	hasCached bool
}

// New creates a Vault for the configured credential path.
func New(cfg config.VaultConfig) *Vault {
	return &Vault{
		path:        cfg.Path,
		iterations:  defaultIterations,
		fingerprint: machineFingerprint,
	}
}

// StoreSecret encrypts the secret and writes the credential file,
// overwriting any existing file. The write is atomic (tmp + rename)
// and the file is created with 0600 permissions.
func (v *Vault) StoreSecret(plaintext string) (err error) {
	defer func() { metrics.RecordVaultOperation("store", err) }()

	if plaintext == "" {
		return ErrEmptySecret
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	aead, err := newAEAD(v.fingerprint(), salt, v.iterations)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// Encrypt and prepend nonce
	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)

	blob, err := json.Marshal(credentialFile{
		Version:    fileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: v.iterations,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return fmt.Errorf("marshal credential file: %w", err)
	}

	if err := writeFileAtomic(v.path, blob); err != nil {
		return err
	}

	v.mu.Lock()
	v.cached = plaintext
	v.hasCached = true
	v.mu.Unlock()

	return nil
}

// RetrieveSecret decrypts and returns the stored credential. The
// plaintext is cached for the process lifetime; use Invalidate to force
// a re-read. Returns an error wrapping ErrAuthFailed when the file is
// missing, malformed, or was sealed on a different machine or user.
func (v *Vault) RetrieveSecret() (secret string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.hasCached {
		return v.cached, nil
	}

	defer func() { metrics.RecordVaultOperation("retrieve", err) }()

	blob, err := os.ReadFile(v.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrAuthFailed, err.Error())
	}

	var cf credentialFile
	if err := json.Unmarshal(blob, &cf); err != nil {
		return "", fmt.Errorf("%w: malformed credential file", ErrAuthFailed)
	}
	if cf.Version != fileVersion {
		return "", fmt.Errorf("%w: unsupported credential file version %d", ErrAuthFailed, cf.Version)
	}
	if cf.Iterations < minIterations {
		return "", fmt.Errorf("%w: iteration count below minimum", ErrAuthFailed)
	}

	salt, err := base64.StdEncoding.DecodeString(cf.Salt)
	if err != nil || len(salt) != saltSize {
		return "", fmt.Errorf("%w: malformed salt", ErrAuthFailed)
	}
	data, err := base64.StdEncoding.DecodeString(cf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrAuthFailed)
	}

	aead, err := newAEAD(v.fingerprint(), salt, cf.Iterations)
	if err != nil {
		return "", err
	}

	nonceSize := aead.NonceSize()
	if len(data) < nonceSize+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrAuthFailed)
	}

	nonce := data[:nonceSize]
	plaintext, err := aead.Open(nil, nonce, data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed", ErrAuthFailed)
	}

	v.cached = string(plaintext)
	v.hasCached = true
	return v.cached, nil
}

// Invalidate clears the in-memory plaintext cache. The next
// RetrieveSecret re-reads and re-derives from disk.
func (v *Vault) Invalidate() {
	v.mu.Lock()
	v.cached = ""
	v.hasCached = false
	v.mu.Unlock()
}

// Stored reports whether a credential file exists on disk. It does not
// verify that the file can be decrypted.
func (v *Vault) Stored() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Path returns the credential file path.
func (v *Vault) Path() string {
	return v.path
}

// newAEAD derives the AES-256 key from the given fingerprint and returns
// a GCM cipher.
func newAEAD(fingerprint, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key(fingerprint, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}
	return aead, nil
}

// machineFingerprint builds the key-derivation password from the
// hostname and current username. Both fall back to fixed strings so the
// fingerprint is stable even when the lookup fails.
func machineFingerprint() []byte {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	username := "unknown-user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}

	sum := sha256.Sum256([]byte(hostname + ":" + username))
	return sum[:]
}

// writeFileAtomic writes data to path via a temp file in the same
// directory, fsyncs, and renames into place with 0600 permissions.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename credential file: %w", err)
	}
	return nil
}
