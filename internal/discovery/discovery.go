// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package discovery announces and finds shares on the local network.
// It offers two independent transports that the hybrid racer in
// hybrid.go combines: a UDP broadcast (the simple, always-available
// path) and mDNS/DNS-SD via github.com/brutella/dnssd (the path that
// survives networks where broadcast traffic is filtered).
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// DefaultPort is the UDP port sharers broadcast discovery packets on.
const DefaultPort = 52525

// ProtocolName and ProtocolVersion identify a LocalDrop discovery packet
// to peers running the same protocol generation.
const (
	ProtocolName    = "localdrop"
	ProtocolVersion = "1.0"
)

// Packet is broadcast by a sharer every BroadcastInterval while a share
// is active, and parsed by listeners to populate the nearby-shares list.
type Packet struct {
	Protocol         string    `json:"protocol"`
	Version          string    `json:"version"`
	Code             string    `json:"code"`
	DeviceName       string    `json:"device_name"`
	DeviceID         uuid.UUID `json:"device_id"`
	ExpiresAt        int64     `json:"expires_at"`
	TransferPort     uint16    `json:"transfer_port"`
	Supports         []string  `json:"supports"`
	FileCount        int       `json:"file_count"`
	TotalSize        uint64    `json:"total_size"`
	PreviewAvailable bool      `json:"preview_available"`
}

// IsValid reports whether p was produced by a compatible LocalDrop peer.
func (p Packet) IsValid() bool {
	return p.Protocol == ProtocolName && p.Version == ProtocolVersion
}

// NewPacket builds a discovery packet for an active share.
func NewPacket(code, deviceName string, deviceID uuid.UUID, transferPort uint16, fileCount int, totalSize uint64, ttl time.Duration) Packet {
	expires := int64(0)
	if ttl > 0 {
		expires = time.Now().Add(ttl).Unix()
	}
	return Packet{
		Protocol:         ProtocolName,
		Version:          ProtocolVersion,
		Code:             code,
		DeviceName:       deviceName,
		DeviceID:         deviceID,
		ExpiresAt:        expires,
		TransferPort:     transferPort,
		Supports:         []string{"tcp"},
		FileCount:        fileCount,
		TotalSize:        totalSize,
		PreviewAvailable: true,
	}
}

// Announcement is a received discovery packet plus the address it came
// from and when it was seen.
type Announcement struct {
	Packet       Packet
	Source       net.Addr
	DiscoveredAt time.Time
}

// Broadcaster periodically sends a Packet to the LAN broadcast address.
type Broadcaster struct {
	conn *net.UDPConn
	port int
}

// NewBroadcaster opens a UDP socket suitable for broadcast sends.
func NewBroadcaster(port int) (*Broadcaster, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening broadcast socket: %w", err)
	}
	return &Broadcaster{conn: conn, port: port}, nil
}

// Run sends packet() on every tick until ctx is cancelled. packet is a
// function rather than a fixed value because file_count/total_size/
// expires_at can change across ticks (e.g. the share's TTL counting
// down).
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, packet func() Packet) error {
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := b.send(dst, packet()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.send(dst, packet()); err != nil {
				return err
			}
		}
	}
}

func (b *Broadcaster) send(dst *net.UDPAddr, p Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling discovery packet: %w", err)
	}
	if _, err := b.conn.WriteTo(data, dst); err != nil {
		return fmt.Errorf("sending discovery broadcast: %w", err)
	}
	return nil
}

// Close releases the broadcast socket.
func (b *Broadcaster) Close() error {
	return b.conn.Close()
}

// Listener receives discovery packets sent by Broadcaster.
type Listener struct {
	conn *net.UDPConn
}

// NewListener binds a UDP socket on port, ready to receive broadcasts.
func NewListener(port int) (*Listener, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding discovery listener on port %d: %w", port, err)
	}
	return &Listener{conn: conn}, nil
}

// Listen runs until ctx is cancelled, invoking onAnnounce for every
// well-formed packet received. Malformed or foreign-protocol datagrams
// are silently dropped, matching a best-effort discovery channel.
func (l *Listener) Listen(ctx context.Context, onAnnounce func(Announcement)) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading discovery packet: %w", err)
		}
		var p Packet
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			continue
		}
		if !p.IsValid() {
			continue
		}
		onAnnounce(Announcement{Packet: p, Source: addr, DiscoveredAt: time.Now()})
	}
}

// Close releases the listener socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
