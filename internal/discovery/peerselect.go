// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// RankedDevice pairs a DiscoveredDevice with the round-trip time observed
// while probing its transfer port.
type RankedDevice struct {
	Device DiscoveredDevice
	Addr   string
	RTT    time.Duration
}

// SelectByRTT probes every candidate's transfer port with a bare TCP
// connect and returns the one with the lowest round-trip time, mirroring
// the teacher's peersByRTT-style sorting in its multi-homed agent
// dial path. A trust-store device is normally seen at one address, but a
// single Scan/beacon exchange can observe the same device-id over more
// than one local interface (wired + Wi-Fi, or multiple IPv4 addresses on
// the LAN); this breaks the tie by dialing all of them and keeping the
// fastest. candidates with no reachable address are dropped; an empty or
// fully-unreachable input returns ErrCodeNotFound.
func SelectByRTT(ctx context.Context, candidates []DiscoveredDevice, probeTimeout time.Duration) (RankedDevice, error) {
	if len(candidates) == 0 {
		return RankedDevice{}, ErrCodeNotFound
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}

	type probeResult struct {
		ranked RankedDevice
		ok     bool
	}
	results := make([]probeResult, len(candidates))

	var wg sync.WaitGroup
	for i, d := range candidates {
		host, ok := beaconHost(d)
		if !ok {
			continue
		}
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", d.Beacon.TransferPort))
		wg.Add(1)
		go func(i int, d DiscoveredDevice, addr string) {
			defer wg.Done()
			dialCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			start := time.Now()
			var dialer net.Dialer
			conn, err := dialer.DialContext(dialCtx, "tcp", addr)
			if err != nil {
				return
			}
			rtt := time.Since(start)
			conn.Close()
			results[i] = probeResult{ranked: RankedDevice{Device: d, Addr: addr, RTT: rtt}, ok: true}
		}(i, d, addr)
	}
	wg.Wait()

	var reachable []RankedDevice
	for _, r := range results {
		if r.ok {
			reachable = append(reachable, r.ranked)
		}
	}
	if len(reachable) == 0 {
		return RankedDevice{}, ErrCodeNotFound
	}
	sort.Slice(reachable, func(i, j int) bool { return reachable[i].RTT < reachable[j].RTT })
	return reachable[0], nil
}

// beaconHost extracts the dialable host portion of a DiscoveredDevice's
// source address, ignoring the ephemeral UDP port the beacon arrived on
// (the dialable port is Beacon.TransferPort).
func beaconHost(d DiscoveredDevice) (string, bool) {
	switch addr := d.Address.(type) {
	case *net.UDPAddr:
		return addr.IP.String(), addr.IP != nil
	case *net.TCPAddr:
		return addr.IP.String(), addr.IP != nil
	default:
		host, _, err := net.SplitHostPort(d.Address.String())
		if err != nil {
			return "", false
		}
		return host, true
	}
}
