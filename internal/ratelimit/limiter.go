package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// DomainLimiter serializes outbound HTTP per remote host across all workers
// and enforces a minimum spacing between requests to the same host. Catalog
// sites rate-limit aggressively; without this, parallel workers hitting one
// site get 429s or an IP block. Different hosts proceed independently.
//
// Usage is a paired Acquire/Release around every outbound request. The host
// entry stays locked for the whole request so responses to one host are
// strictly sequential.
type DomainLimiter struct {
	mu       sync.Mutex
	hosts    map[string]*hostLimiter
	minDelay time.Duration
}

// hostLimiter tracks one remote host. The buffered channel is the host lock;
// a channel rather than a mutex so acquisition can honor context cancellation.
type hostLimiter struct {
	slot        chan struct{}
	mu          sync.Mutex
	lastRelease time.Time
}

// NewDomainLimiter creates a limiter with the given minimum per-host spacing
func NewDomainLimiter(minDelay time.Duration) *DomainLimiter {
	return &DomainLimiter{
		hosts:    make(map[string]*hostLimiter),
		minDelay: minDelay,
	}
}

// Acquire blocks until the host is free and at least minDelay has elapsed
// since the previous release for this host. Callers must pair every
// successful Acquire with a Release of the same URL.
func (l *DomainLimiter) Acquire(ctx context.Context, rawURL string) error {
	host := extractHost(rawURL)
	if host == "" {
		return nil // no host, nothing to serialize
	}

	hl := l.hostLimiter(host)

	select {
	case hl.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	hl.mu.Lock()
	nextAllowed := hl.lastRelease.Add(l.minDelay)
	hl.mu.Unlock()

	if wait := time.Until(nextAllowed); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			<-hl.slot
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

// Release frees the host for the next caller and records the release time
// that the next Acquire's spacing is measured from
func (l *DomainLimiter) Release(rawURL string) {
	host := extractHost(rawURL)
	if host == "" {
		return
	}

	hl := l.hostLimiter(host)

	hl.mu.Lock()
	hl.lastRelease = time.Now()
	hl.mu.Unlock()

	select {
	case <-hl.slot:
	default:
		// Release without Acquire is a caller bug; don't block on it
	}
}

// hostLimiter returns the entry for a host, creating it lazily. Entries are
// never removed; the set of catalog hosts is small and fixed.
func (l *DomainLimiter) hostLimiter(host string) *hostLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	hl, exists := l.hosts[host]
	if !exists {
		hl = &hostLimiter{slot: make(chan struct{}, 1)}
		l.hosts[host] = hl
	}
	return hl
}

// extractHost parses the host from a URL
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
