// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package identity manages the long-lived Ed25519 device identity: a
// keypair persisted as a single JSON file, and a stable device-id
// deterministically derived from the public key.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/localdrop/localdrop/internal/cryptoutil"
)

// FileVersion is the schema version written to identity.json.
const FileVersion = 1

// Identity is a device's persistent signing keypair plus its derived id.
type Identity struct {
	DeviceID uuid.UUID
	Public   ed25519.PublicKey
	private  ed25519.PrivateKey
	path     string
}

// identityFile is the on-disk JSON shape at <data_dir>/identity.json.
type identityFile struct {
	Version   int       `json:"version"`
	SecretKey string    `json:"secret_key"`
	DeviceID  uuid.UUID `json:"device_id"`
}

// DeriveDeviceID computes the 16-byte device-id from an Ed25519 public key:
// SHA-256("localdrop:device_id:" || pubkey)[0:16], with the UUIDv4
// version/variant bits forced so the result is a valid (if not truly
// random) UUIDv4 literal.
func DeriveDeviceID(pub ed25519.PublicKey) uuid.UUID {
	sum := sha256.Sum256(append([]byte(cryptoutil.DeviceIDPrefix), pub...))
	var bytes [16]byte
	copy(bytes[:], sum[:16])
	bytes[6] = (bytes[6] & 0x0f) | 0x40
	bytes[8] = (bytes[8] & 0x3f) | 0x80
	id, _ := uuid.FromBytes(bytes[:])
	return id
}

// Generate creates a brand-new identity; it is not persisted until Save
// is called.
func Generate() (*Identity, error) {
	pub, priv, err := cryptoutil.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	return &Identity{
		DeviceID: DeriveDeviceID(pub),
		Public:   pub,
		private:  priv,
	}, nil
}

// Load reads and validates an identity file at path. It re-derives the
// device-id from the decoded public key and fails if it does not match
// the stored value, guarding against a hand-edited or corrupted file.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file %s: %w", path, err)
	}

	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}

	secret, err := base64.StdEncoding.DecodeString(f.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decoding identity secret key: %w", err)
	}
	if len(secret) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity secret key has wrong length: got %d, want %d", len(secret), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(secret)
	pub := priv.Public().(ed25519.PublicKey)
	deviceID := DeriveDeviceID(pub)
	if deviceID != f.DeviceID {
		return nil, fmt.Errorf("device ID mismatch in identity file %s", path)
	}

	return &Identity{
		DeviceID: deviceID,
		Public:   pub,
		private:  priv,
		path:     path,
	}, nil
}

// LoadOrGenerate loads the identity at path if it exists, otherwise
// generates and saves a new one there.
func LoadOrGenerate(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat identity file %s: %w", path, err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.SaveAs(path); err != nil {
		return nil, err
	}
	return id, nil
}

// Save persists the identity to the path it was loaded from or saved to
// previously.
func (id *Identity) Save() error {
	if id.path == "" {
		return fmt.Errorf("identity has no associated path; use SaveAs")
	}
	return id.SaveAs(id.path)
}

// SaveAs writes the identity as pretty JSON to path, creating parent
// directories as needed.
func (id *Identity) SaveAs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	seed := id.private.Seed()
	f := identityFile{
		Version:   FileVersion,
		SecretKey: base64.StdEncoding.EncodeToString(seed),
		DeviceID:  id.DeviceID,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling identity file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing identity file %s: %w", path, err)
	}
	id.path = path
	return nil
}

// Sign produces an Ed25519 signature over data using the identity's
// private key.
func (id *Identity) Sign(data []byte) []byte {
	return cryptoutil.Sign(id.private, data)
}

// Verify reports whether sig is a valid signature over data by pub.
// It does not require an Identity instance: it is a free function over a
// remote peer's advertised public key.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return cryptoutil.Verify(pub, data, sig)
}

// PublicKeyBase64 returns the identity's public key, base64-encoded, as
// advertised in discovery beacons and trust store entries.
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.Public)
}

// DefaultPath returns the platform data directory path for identity.json,
// following OS conventions (XDG on Linux, Application Support on macOS,
// %APPDATA% on Windows) under an application-scoped subdirectory.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "identity.json"), nil
}

// DataDir resolves the platform data directory LocalDrop persists state
// under: identity, trust store, history and resume files all live in
// subdirectories of this root.
func DataDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "localdrop"), nil
}
