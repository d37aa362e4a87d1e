package mqtt

import "time"

// ReconnectGate allows one connection attempt per fixed interval. The first
// attempt is always allowed.
type ReconnectGate struct {
	interval    time.Duration
	lastAttempt time.Time
}

func NewReconnectGate(interval time.Duration) *ReconnectGate {
	return &ReconnectGate{interval: interval}
}

// Due reports whether an attempt may be made at now and, if so, records it.
func (g *ReconnectGate) Due(now time.Time) bool {
	if !g.lastAttempt.IsZero() && now.Sub(g.lastAttempt) < g.interval && !now.Before(g.lastAttempt) {
		return false
	}
	g.lastAttempt = now
	return true
}

// Wait returns how long until the next attempt is allowed.
func (g *ReconnectGate) Wait(now time.Time) time.Duration {
	if g.lastAttempt.IsZero() {
		return 0
	}
	remaining := g.interval - now.Sub(g.lastAttempt)
	if remaining < 0 || remaining > g.interval {
		return 0
	}
	return remaining
}
