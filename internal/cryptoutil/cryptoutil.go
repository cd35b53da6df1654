// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package cryptoutil collects the small set of cryptographic primitives
// shared by identity, share-code verification and chunk/content integrity
// checking: SHA-256, HMAC-SHA256, xxHash64, Ed25519 and constant-time
// comparison.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SessionKeyPrefix and DeviceIDPrefix are the domain-separation prefixes
// used when deriving session keys and device ids. They must never change:
// both peers of a pairing derive the same value independently.
const (
	SessionKeyPrefix = "localdrop:session:"
	DeviceIDPrefix   = "localdrop:device_id:"
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// XXH64 returns the xxHash64 digest of data, seeded at 0.
func XXH64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// NewXXH64 returns a streaming xxHash64 hasher for incremental content.
func NewXXH64() *xxhash.Digest {
	return xxhash.New()
}

// SessionKey derives the shared session key from a pairing share code.
// Both sides compute this independently; it is never sent over the wire.
func SessionKey(code string) [32]byte {
	return sha256.Sum256([]byte(SessionKeyPrefix + code))
}

// HMACSHA256 computes HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are equal using a constant-time
// comparison, avoiding timing side channels on HMAC/signature checks.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateEd25519 creates a new Ed25519 keypair using a CSPRNG.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// Sign produces an Ed25519 signature over data.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid Ed25519 signature over data by pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return buf, nil
}
