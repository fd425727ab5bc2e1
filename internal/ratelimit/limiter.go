// Package ratelimit admits inbound events through two independent
// token-bucket dimensions: source IP and event pubkey.
package ratelimit

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrIPLimited     = errors.New("rate limited (ip)")
	ErrPubkeyLimited = errors.New("rate limited (pubkey)")
)

// KeyedLimiter lazily creates one token bucket per key. Buckets start
// full and refill at rps up to burst.
type KeyedLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[key] = lim
	return lim
}

// Allow consumes one token for key if available.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// Admission combines the two bucket dimensions. IP is checked first and
// short-circuits, so an IP denial never burns a pubkey token.
type Admission struct {
	ip     *KeyedLimiter
	pubkey *KeyedLimiter
}

func NewAdmission(ipRPS, pubkeyRPS float64, burst int) *Admission {
	return &Admission{
		ip:     NewKeyedLimiter(ipRPS, burst),
		pubkey: NewKeyedLimiter(pubkeyRPS, burst),
	}
}

// Admit returns nil when both buckets permit, else the dimension that
// denied. Error text goes verbatim into the OK frame.
func (a *Admission) Admit(ip, pubkey string) error {
	if !a.ip.Allow(ip) {
		return ErrIPLimited
	}
	if !a.pubkey.Allow(pubkey) {
		return ErrPubkeyLimited
	}
	return nil
}
