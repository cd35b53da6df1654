// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/brutella/dnssd"
	"github.com/google/uuid"
)

// ServiceType is the DNS-SD service type LocalDrop registers under.
const ServiceType = "_localdrop._tcp.local."

// TXT record keys used in the mDNS service announcement.
const (
	txtCode       = "code"
	txtDeviceName = "device_name"
	txtDeviceID   = "device_id"
	txtFileCount  = "file_count"
	txtTotalSize  = "total_size"
	txtVersion    = "version"
)

// MDNSBroadcaster registers a LocalDrop share as a DNS-SD service so
// peers on networks that filter UDP broadcast can still find it.
type MDNSBroadcaster struct {
	responder dnssd.Responder
}

// NewMDNSBroadcaster creates the underlying DNS-SD responder.
func NewMDNSBroadcaster() (*MDNSBroadcaster, error) {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("creating mDNS responder: %w", err)
	}
	return &MDNSBroadcaster{responder: responder}, nil
}

// Announce registers packet as a DNS-SD service and serves it until ctx
// is cancelled.
func (b *MDNSBroadcaster) Announce(ctx context.Context, instanceName string, p Packet) error {
	cfg := dnssd.Config{
		Name: instanceName,
		Type: ServiceType,
		Port: int(p.TransferPort),
		Text: map[string]string{
			txtCode:       p.Code,
			txtDeviceName: p.DeviceName,
			txtDeviceID:   p.DeviceID.String(),
			txtFileCount:  strconv.Itoa(p.FileCount),
			txtTotalSize:  strconv.FormatUint(p.TotalSize, 10),
			txtVersion:    p.Version,
		},
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("building mDNS service description: %w", err)
	}
	if _, err := b.responder.Add(service); err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}
	return b.responder.Respond(ctx)
}

// MDNSListener browses for LocalDrop DNS-SD services.
type MDNSListener struct{}

// NewMDNSListener returns a ready-to-use browser; dnssd needs no setup
// beyond the running mDNS responder/resolver that ships with the OS.
func NewMDNSListener() *MDNSListener {
	return &MDNSListener{}
}

// Listen runs until ctx is cancelled, reporting every resolved LocalDrop
// service as an Announcement built from its TXT records.
func (l *MDNSListener) Listen(ctx context.Context, onAnnounce func(Announcement)) error {
	add := func(e dnssd.BrowseEntry) {
		p, ok := packetFromBrowseEntry(e)
		if !ok {
			return
		}
		addr := entryAddr(e)
		onAnnounce(Announcement{Packet: p, Source: addr, DiscoveredAt: time.Now()})
	}
	rmv := func(e dnssd.BrowseEntry) {}

	return dnssd.LookupType(ctx, ServiceType, add, rmv)
}

func packetFromBrowseEntry(e dnssd.BrowseEntry) (Packet, bool) {
	deviceID, err := uuid.Parse(e.Text[txtDeviceID])
	if err != nil {
		return Packet{}, false
	}
	code := e.Text[txtCode]
	if code == "" {
		return Packet{}, false
	}
	fileCount, _ := strconv.Atoi(e.Text[txtFileCount])
	totalSize, _ := strconv.ParseUint(e.Text[txtTotalSize], 10, 64)
	version := e.Text[txtVersion]
	if version == "" {
		version = ProtocolVersion
	}
	return Packet{
		Protocol:     ProtocolName,
		Version:      version,
		Code:         code,
		DeviceName:   e.Text[txtDeviceName],
		DeviceID:     deviceID,
		TransferPort: uint16(e.Port),
		FileCount:    fileCount,
		TotalSize:    totalSize,
	}, true
}

func entryAddr(e dnssd.BrowseEntry) net.Addr {
	if len(e.IPs) == 0 {
		return nil
	}
	return &net.TCPAddr{IP: e.IPs[0], Port: e.Port}
}
