// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultBroadcastInterval matches the 2-second cadence sharers use
// while a share is active.
const defaultBroadcastInterval = 2 * time.Second

// HybridBroadcaster runs the UDP broadcaster and the mDNS broadcaster
// side by side so a share is visible to both plain broadcast listeners
// and mDNS browsers. A network that blocks one transport still gets
// the other.
type HybridBroadcaster struct {
	udp  *Broadcaster
	mdns *MDNSBroadcaster
	log  *slog.Logger
}

// NewHybridBroadcaster wires a UDP broadcaster and an mDNS broadcaster
// together. mdnsErr from NewMDNSBroadcaster is tolerated: some
// sandboxed or container environments have no multicast route, and
// LocalDrop should still work over plain UDP broadcast in that case.
func NewHybridBroadcaster(port int, log *slog.Logger) (*HybridBroadcaster, error) {
	udp, err := NewBroadcaster(port)
	if err != nil {
		return nil, err
	}
	mdns, mdnsErr := NewMDNSBroadcaster()
	if mdnsErr != nil {
		log.Warn("mDNS broadcaster unavailable, falling back to UDP broadcast only", "error", mdnsErr)
		mdns = nil
	}
	return &HybridBroadcaster{udp: udp, mdns: mdns, log: log}, nil
}

// Run broadcasts packet() over every available transport until ctx is
// cancelled.
func (h *HybridBroadcaster) Run(ctx context.Context, instanceName string, packet func() Packet) error {
	var wg sync.WaitGroup
	var udpErr, mdnsErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		udpErr = h.udp.Run(ctx, defaultBroadcastInterval, packet)
	}()

	if h.mdns != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mdnsErr = h.mdns.Announce(ctx, instanceName, packet())
			if mdnsErr != nil {
				h.log.Warn("mDNS announcement stopped", "error", mdnsErr)
			}
		}()
	}

	wg.Wait()
	if udpErr != nil {
		return udpErr
	}
	return nil
}

// Close releases the UDP broadcast socket.
func (h *HybridBroadcaster) Close() error {
	return h.udp.Close()
}

// HybridListener merges announcements seen over UDP broadcast and mDNS
// into a single deduplicated stream, keyed by device ID and share code.
type HybridListener struct {
	udp  *Listener
	mdns *MDNSListener
	log  *slog.Logger
}

// NewHybridListener binds the UDP listener and prepares an mDNS browser.
func NewHybridListener(port int, log *slog.Logger) (*HybridListener, error) {
	udp, err := NewListener(port)
	if err != nil {
		return nil, err
	}
	return &HybridListener{udp: udp, mdns: NewMDNSListener(), log: log}, nil
}

// Listen runs both transports concurrently and delivers deduplicated
// Announcements to onAnnounce. The same device announcing over both
// transports is reported once per distinct code, preferring whichever
// transport's packet is seen first.
func (h *HybridListener) Listen(ctx context.Context, onAnnounce func(Announcement)) error {
	var mu sync.Mutex
	seen := make(map[string]bool)

	dedup := func(a Announcement) {
		key := a.Packet.DeviceID.String() + ":" + a.Packet.Code
		mu.Lock()
		already := seen[key]
		seen[key] = true
		mu.Unlock()
		if !already {
			onAnnounce(a)
		}
	}

	var wg sync.WaitGroup
	var udpErr, mdnsErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		udpErr = h.udp.Listen(ctx, dedup)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mdnsErr = h.mdns.Listen(ctx, dedup)
		if mdnsErr != nil {
			h.log.Warn("mDNS browsing stopped", "error", mdnsErr)
		}
	}()

	wg.Wait()
	return udpErr
}

// Close releases the UDP listener socket.
func (h *HybridListener) Close() error {
	return h.udp.Close()
}
