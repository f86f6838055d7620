// Package ratelimit bounds request rates per client and caps concurrent
// chat sessions. Single-process, in-memory.
package ratelimit

import (
	"math"
	"net"
	"sync"
	"time"
)

type Config struct {
	// Token bucket per client. RPS or Burst at zero disables it.
	RPS   float64
	Burst int

	// Cap on concurrent WebSocket chat sessions across all clients.
	// Zero disables the cap.
	MaxSessions int

	// Operational bounds for the in-memory client map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg        Config
	sessionSem chan struct{}

	mu sync.Mutex
	m  map[string]*clientLimiter
}

type clientLimiter struct {
	mu       sync.Mutex
	tb       tokenBucket
	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64
	tokens   float64
	last     time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	l := &Limiter{
		cfg: cfg,
		m:   make(map[string]*clientLimiter),
	}
	if cfg.MaxSessions > 0 {
		l.sessionSem = make(chan struct{}, cfg.MaxSessions)
	}
	return l
}

// ClientKey identifies the bucket a request draws from: the user id when
// known, otherwise the remote host.
func ClientKey(userID, remoteAddr string) string {
	if userID != "" {
		return "u_" + userID
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		host = remoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return "ip_" + host
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest applies the per-client token bucket.
func (l *Limiter) AcquireRequest(client string, now time.Time) Decision {
	if client == "" {
		client = "anonymous"
	}

	cl := l.getOrCreate(client, now)
	cl.touch(now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := cl.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireSession claims a slot under the global chat session cap. The
// permit must be released when the session ends.
func (l *Limiter) AcquireSession() Decision {
	if l.sessionSem == nil {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	select {
	case l.sessionSem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-l.sessionSem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

// ActiveSessions reports claimed session slots. Zero when the cap is off.
func (l *Limiter) ActiveSessions() int {
	if l.sessionSem == nil {
		return 0
	}
	return len(l.sessionSem)
}

func (l *Limiter) getOrCreate(client string, now time.Time) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if cl, ok := l.m[client]; ok {
		return cl
	}
	cl := &clientLimiter{lastSeen: now}
	l.m[client] = cl
	return cl
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > ttl {
			delete(l.m, k)
		}
	}
}

func (cl *clientLimiter) touch(now time.Time) {
	cl.lastSeen = now
}

func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if burst <= 0 || rps <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if cl.tb.capacity == 0 {
		cl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	// If config changes at runtime (rare), adapt.
	cl.tb.rps = rps
	cl.tb.capacity = capacity

	elapsed := now.Sub(cl.tb.last).Seconds()
	if elapsed > 0 {
		cl.tb.tokens = math.Min(cl.tb.capacity, cl.tb.tokens+(elapsed*cl.tb.rps))
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - cl.tb.tokens
	seconds := needed / cl.tb.rps
	retryAfter := int(math.Ceil(seconds))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
