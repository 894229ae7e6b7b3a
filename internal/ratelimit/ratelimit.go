// Package ratelimit bounds inbound frame rate per session, guarding the
// broker against any single connection flooding it (spec §5 "Resource
// policy"). This is an ambient abuse guard, not part of the core
// broker contract: a session that exceeds its limit gets a BAD_REQUEST
// error frame, it is never disconnected.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 50
	defaultBurst = 100
)

// Limiter wraps rate.Limiter so callers don't need to import
// golang.org/x/time/rate directly.
type Limiter struct {
	l *rate.Limiter
}

func (l *Limiter) Allow() bool { return l.l.Allow() }

// Limiters tracks one Limiter per session id.
type Limiters struct {
	mu    sync.Mutex
	byID  map[string]*Limiter
	rps   float64
	burst int
}

// New creates a Limiters set using the default rate (50 req/s, burst
// 100). Use NewWithRate to configure it from Config.
func New() *Limiters {
	return NewWithRate(defaultRPS, defaultBurst)
}

func NewWithRate(rps float64, burst int) *Limiters {
	return &Limiters{byID: make(map[string]*Limiter), rps: rps, burst: burst}
}

// For returns the Limiter for id, creating one on first use.
func (l *Limiters) For(id string) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.byID[id]; ok {
		return existing
	}
	lim := &Limiter{l: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
	l.byID[id] = lim
	return lim
}

// Remove discards the Limiter for id on disconnect.
func (l *Limiters) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, id)
}
