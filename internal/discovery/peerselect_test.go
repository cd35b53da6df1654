// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
)

func listenAndPort(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	return l, uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestSelectByRTTPicksReachableDevice(t *testing.T) {
	good, goodPort := listenAndPort(t)
	defer good.Close()
	go func() {
		for {
			c, err := good.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	deviceID := uuid.New()
	unreachable := DiscoveredDevice{
		Beacon:       DeviceBeacon{BeaconType: deviceBeaconType, DeviceID: deviceID, TransferPort: 1},
		Address:      &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999},
		DiscoveredAt: time.Now(),
	}
	reachable := DiscoveredDevice{
		Beacon:       DeviceBeacon{BeaconType: deviceBeaconType, DeviceID: deviceID, TransferPort: goodPort},
		Address:      &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9998},
		DiscoveredAt: time.Now(),
	}

	best, err := SelectByRTT(context.Background(), []DiscoveredDevice{unreachable, reachable}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("SelectByRTT: %v", err)
	}
	if best.Device.Beacon.TransferPort != goodPort {
		t.Fatalf("expected the reachable device to win, got port %d", best.Device.Beacon.TransferPort)
	}
}

func TestSelectByRTTNoCandidatesIsNotFound(t *testing.T) {
	if _, err := SelectByRTT(context.Background(), nil, time.Second); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestSelectByRTTAllUnreachableIsNotFound(t *testing.T) {
	d := DiscoveredDevice{
		Beacon:  DeviceBeacon{BeaconType: deviceBeaconType, DeviceID: uuid.New(), TransferPort: 1},
		Address: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999},
	}
	if _, err := SelectByRTT(context.Background(), []DiscoveredDevice{d}, 200*time.Millisecond); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}
