// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// DeviceBeacon is an on-demand announcement used for direct
// device-to-device pairing with a trusted device, as opposed to the
// share-code broadcasts in Packet. It shares the discovery port but
// carries a distinct BeaconType so listeners can tell the two apart.
type DeviceBeacon struct {
	BeaconType     string     `json:"beacon_type"`
	Protocol       string     `json:"protocol"`
	Version        string     `json:"version"`
	DeviceID       uuid.UUID  `json:"device_id"`
	DeviceName     string     `json:"device_name"`
	PublicKeyB64   string     `json:"public_key"`
	TransferPort   uint16     `json:"transfer_port"`
	LookingFor     *uuid.UUID `json:"looking_for,omitempty"`
	ReadyToReceive bool       `json:"ready_to_receive"`
	Timestamp      int64      `json:"timestamp"`
}

const deviceBeaconType = "device"

// NewDeviceBeacon builds a beacon announcing deviceID's availability.
func NewDeviceBeacon(deviceID uuid.UUID, deviceName, publicKeyB64 string, transferPort uint16) DeviceBeacon {
	return DeviceBeacon{
		BeaconType:   deviceBeaconType,
		Protocol:     ProtocolName,
		Version:      ProtocolVersion,
		DeviceID:     deviceID,
		DeviceName:   deviceName,
		PublicKeyB64: publicKeyB64,
		TransferPort: transferPort,
		Timestamp:    time.Now().Unix(),
	}
}

// LookingFor marks the beacon as seeking a specific trusted device.
func (b DeviceBeacon) WithLookingFor(target uuid.UUID) DeviceBeacon {
	b.LookingFor = &target
	return b
}

// WithReadyToReceive marks whether the device is ready to accept an
// incoming transfer right now.
func (b DeviceBeacon) WithReadyToReceive(ready bool) DeviceBeacon {
	b.ReadyToReceive = ready
	return b
}

// IsValid reports whether b is a well-formed LocalDrop device beacon.
func (b DeviceBeacon) IsValid() bool {
	return b.BeaconType == deviceBeaconType && b.Protocol == ProtocolName && b.Version == ProtocolVersion
}

// IsLookingFor reports whether b is seeking deviceID.
func (b DeviceBeacon) IsLookingFor(deviceID uuid.UUID) bool {
	return b.LookingFor != nil && *b.LookingFor == deviceID
}

// BeaconBroadcaster sends on-demand device beacons: unlike Broadcaster,
// it is not meant to run continuously, only while actively pairing.
type BeaconBroadcaster struct {
	conn *net.UDPConn
	port int
}

// NewBeaconBroadcaster opens a UDP socket for beacon sends.
func NewBeaconBroadcaster(port int) (*BeaconBroadcaster, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening beacon socket: %w", err)
	}
	return &BeaconBroadcaster{conn: conn, port: port}, nil
}

// Send broadcasts beacon once, immediately.
func (b *BeaconBroadcaster) Send(beacon DeviceBeacon) error {
	data, err := json.Marshal(beacon)
	if err != nil {
		return fmt.Errorf("marshaling device beacon: %w", err)
	}
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}
	if _, err := b.conn.WriteTo(data, dst); err != nil {
		return fmt.Errorf("sending device beacon: %w", err)
	}
	return nil
}

// Close releases the beacon socket.
func (b *BeaconBroadcaster) Close() error {
	return b.conn.Close()
}

// DiscoveredDevice is a trusted device seen via a beacon.
type DiscoveredDevice struct {
	Beacon       DeviceBeacon
	Address      net.Addr
	DiscoveredAt time.Time
}

// BeaconListener listens for device beacons on the shared discovery
// port, ignoring ordinary share-code discovery packets.
type BeaconListener struct {
	conn *net.UDPConn
}

// NewBeaconListener binds a UDP socket to receive beacons. It shares
// the discovery port, so it cannot run alongside a Listener bound to
// the same port in the same process; callers typically run only one
// of the two depending on whether they are browsing shares or pairing
// a trusted device.
func NewBeaconListener(port int) (*BeaconListener, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding beacon listener on port %d: %w", port, err)
	}
	return &BeaconListener{conn: conn}, nil
}

// Listen runs until ctx is cancelled, reporting every valid device
// beacon. If lookingFor is non-nil, beacons not targeting that device
// are ignored.
func (l *BeaconListener) Listen(ctx context.Context, lookingFor *uuid.UUID, onBeacon func(DiscoveredDevice)) error {
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
			return fmt.Errorf("reading device beacon: %w", err)
		}
		var b DeviceBeacon
		if err := json.Unmarshal(buf[:n], &b); err != nil || !b.IsValid() {
			continue
		}
		if lookingFor != nil && !b.IsLookingFor(*lookingFor) {
			continue
		}
		onBeacon(DiscoveredDevice{Beacon: b, Address: addr, DiscoveredAt: time.Now()})
	}
}

// Close releases the beacon listener socket.
func (l *BeaconListener) Close() error {
	return l.conn.Close()
}
