// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// ErrCodeNotFound is returned by Find/FindWithFallback when no matching
// announcement arrives before the deadline.
var ErrCodeNotFound = errors.New("discovery: code not found")

// Find listens on the hybrid transport until an Announcement matching
// code arrives or timeout elapses. It is the common case behind a
// receiver's "enter the code" flow: the caller already knows which
// share they want and just needs its address.
func Find(ctx context.Context, port int, code string, timeout time.Duration, log *slog.Logger) (Announcement, error) {
	listener, err := NewHybridListener(port, log)
	if err != nil {
		return Announcement{}, fmt.Errorf("starting discovery listener: %w", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan Announcement, 1)
	go func() {
		listener.Listen(ctx, func(a Announcement) {
			if a.Packet.Code == code {
				select {
				case found <- a:
				default:
				}
			}
		})
	}()

	select {
	case a := <-found:
		return a, nil
	case <-ctx.Done():
		return Announcement{}, ErrCodeNotFound
	}
}

// Scan listens for duration and returns every distinct-device
// Announcement seen, for a "nearby shares" browsing UI. Unlike Find it
// does not stop early on a match — it always runs the full duration.
func Scan(ctx context.Context, port int, duration time.Duration, log *slog.Logger) ([]Announcement, error) {
	listener, err := NewHybridListener(port, log)
	if err != nil {
		return nil, fmt.Errorf("starting discovery listener: %w", err)
	}
	defer listener.Close()

	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var results []Announcement
	done := make(chan error, 1)
	go func() {
		done <- listener.Listen(scanCtx, func(a Announcement) {
			results = append(results, a)
		})
	}()

	<-scanCtx.Done()
	<-done
	return results, nil
}

// RetryPolicy configures FindWithFallback's exponential backoff between
// discovery attempts, grounded in internal/config's
// [discovery] retry_max_attempts/retry_initial_delay/retry_max_delay block.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// FindWithFallback retries Find up to policy.MaxAttempts times with
// exponential backoff, and if every discovery attempt times out, falls
// back to dialing fallbackAddrs directly (a caller-supplied address
// book from a prior session, or user-entered host:port) and probing
// each with a bare TCP connect. This is the path that keeps LocalDrop
// usable on networks where both broadcast and multicast are filtered.
func FindWithFallback(ctx context.Context, port int, code string, policy RetryPolicy, perAttemptTimeout time.Duration, fallbackAddrs []string, log *slog.Logger) (Announcement, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 250 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		a, err := Find(ctx, port, code, perAttemptTimeout, log)
		if err == nil {
			return a, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		log.Debug("discovery attempt found nothing, backing off", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return Announcement{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	// Fallback probing dials a batch of caller-supplied addresses; a
	// limiter keeps it from hammering the LAN with connect attempts when
	// the address book is large.
	probeLimiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	for _, addr := range fallbackAddrs {
		if err := probeLimiter.Wait(ctx); err != nil {
			return Announcement{}, err
		}
		if probeTCP(addr, 2*time.Second) {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				continue
			}
			var p int
			fmt.Sscanf(portStr, "%d", &p)
			return Announcement{
				Packet:       Packet{Protocol: ProtocolName, Version: ProtocolVersion, Code: code, TransferPort: uint16(p)},
				Source:       &net.TCPAddr{IP: net.ParseIP(host), Port: p},
				DiscoveredAt: time.Now(),
			}, nil
		}
	}

	if lastErr != nil {
		return Announcement{}, lastErr
	}
	return Announcement{}, ErrCodeNotFound
}

func probeTCP(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
