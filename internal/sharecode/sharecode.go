// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sharecode generates and parses the four-character pairing codes
// exchanged out-of-band between two devices, and verifies them via the
// HMAC derived from cryptoutil's session key.
package sharecode

import (
	"fmt"
	"strings"

	"github.com/localdrop/localdrop/internal/cryptoutil"
)

// Alphabet is the 31-symbol ambiguity-free set codes are drawn from:
// digits minus 0/1 and uppercase letters minus I/O/L.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Length is the fixed length of a share code.
const Length = 4

// ErrInvalidCode is returned by Parse when the input is not a well-formed
// share code.
type ErrInvalidCode struct {
	Code string
}

func (e *ErrInvalidCode) Error() string {
	return fmt.Sprintf("invalid share code %q", e.Code)
}

// Generate draws Length independent random symbols from Alphabet.
// No collision detection is performed: pairing is per-process and
// discovery disambiguates further by device-id.
func Generate() (string, error) {
	raw, err := cryptoutil.RandomBytes(Length)
	if err != nil {
		return "", fmt.Errorf("generating share code: %w", err)
	}
	var b strings.Builder
	b.Grow(Length)
	for _, v := range raw {
		b.WriteByte(Alphabet[int(v)%len(Alphabet)])
	}
	return b.String(), nil
}

// Parse uppercases and validates a user-supplied code, returning
// ErrInvalidCode if the length or alphabet does not match.
func Parse(input string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if len(code) != Length {
		return "", &ErrInvalidCode{Code: input}
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return "", &ErrInvalidCode{Code: input}
		}
	}
	return code, nil
}

// VerifyHMAC recomputes HMAC-SHA256(session_key(code), code) and compares
// it against the value presented by a peer in constant time.
func VerifyHMAC(code string, presented []byte) bool {
	sessionKey := cryptoutil.SessionKey(code)
	expected := cryptoutil.HMACSHA256(sessionKey[:], []byte(code))
	return cryptoutil.ConstantTimeEqual(expected, presented)
}

// ComputeHMAC returns the HMAC a CodeVerify message should carry for code.
func ComputeHMAC(code string) []byte {
	sessionKey := cryptoutil.SessionKey(code)
	return cryptoutil.HMACSHA256(sessionKey[:], []byte(code))
}
