package ratelimit

import (
	"sync"
	"time"
)

// Token bucket refilled at rate tokens per second up to burst
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}

	return false
}

// One limiter per key (remote address), forgotten after idle expires
type KeyedLimiters struct {
	limiters map[string]*keyedEntry
	rate     float64
	burst    int
	idle     time.Duration
	now      func() time.Time
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

type keyedEntry struct {
	limiter  *Limiter
	lastSeen time.Time
}

func NewKeyedLimiters(rate float64, burst int, idle time.Duration) *KeyedLimiters {
	kl := &KeyedLimiters{
		limiters: make(map[string]*keyedEntry),
		rate:     rate,
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go kl.cleanup()
	return kl
}

// Allow takes one token from key's bucket.
func (kl *KeyedLimiters) Allow(key string) bool {
	kl.mu.Lock()
	entry, ok := kl.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: newLimiter(kl.rate, kl.burst, kl.now)}
		kl.limiters[key] = entry
	}
	entry.lastSeen = kl.now()
	kl.mu.Unlock()

	return entry.limiter.Allow()
}

func (kl *KeyedLimiters) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiters) Stop() {
	kl.stopOnce.Do(func() { close(kl.stop) })
}

func (kl *KeyedLimiters) cleanup() {
	ticker := time.NewTicker(kl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-kl.stop:
			return
		case <-ticker.C:
			kl.prune()
		}
	}
}

// prune drops limiters not used within the idle window. A dropped key
// starts again with a full bucket.
func (kl *KeyedLimiters) prune() {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	cutoff := kl.now().Add(-kl.idle)
	for key, entry := range kl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(kl.limiters, key)
		}
	}
}
