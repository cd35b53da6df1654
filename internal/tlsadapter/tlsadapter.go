// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tlsadapter builds the ephemeral, self-signed TLS 1.3 configs
// LocalDrop sessions use. Unlike the teacher's file-based mutual TLS
// (CA + per-agent certs), LocalDrop's trust root is the share-code HMAC
// or the Ed25519 device signature exchanged at the application layer
// after the handshake; the certificate itself only needs to stand up a
// channel, so both client and server generate a fresh keypair per
// session and the client accepts any server certificate.
package tlsadapter

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// certValidity is deliberately short: the certificate only needs to
// outlive a single transfer or sync session.
const certValidity = 24 * time.Hour

// GenerateEphemeralCert creates a self-signed ECDSA P-256 certificate
// valid for SANs localhost and 127.0.0.1 (and ::1), suitable for a
// one-shot TLS server.
func GenerateEphemeralCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating ephemeral TLS key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "localdrop-ephemeral"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating ephemeral certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// NewServerConfig builds a TLS 1.3-only server config around a freshly
// generated ephemeral certificate.
func NewServerConfig() (*tls.Config, error) {
	cert, err := GenerateEphemeralCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}, nil
}

// NewClientConfig builds a TLS 1.3-only client config that accepts any
// server certificate. This is intentional: authentication happens at
// the application layer (share-code HMAC or Ed25519 signature), not via
// the certificate chain.
func NewClientConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
	}
}
