package session

import "time"

// audioBudget is one continuously refilled token bucket.
type audioBudget struct {
	rate       int64
	burst      int64
	tokens     int64
	lastRefill time.Time
}

func (b *audioBudget) refill(now time.Time) {
	if b == nil || b.rate <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		// Not enough elapsed time for a whole token; keep the clock so
		// fractional intervals accumulate instead of being lost.
		return
	}
	b.tokens += add
	if limit := b.rate * b.burst; b.tokens > limit {
		b.tokens = limit
	}
	b.lastRefill = now
}

func (b *audioBudget) has(n int64) bool {
	return b == nil || b.rate <= 0 || b.tokens >= n
}

func (b *audioBudget) take(n int64) {
	if b == nil || b.rate <= 0 {
		return
	}
	b.tokens -= n
}

// audioLimiter bounds inbound microphone traffic by frame rate and by
// bytes per second. Frames over budget are dropped, not queued.
type audioLimiter struct {
	now    func() time.Time
	frames *audioBudget
	bytes  *audioBudget
}

func newAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *audioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	start := now()
	l := &audioLimiter{now: now}
	if fps > 0 {
		l.frames = &audioBudget{
			rate:       int64(fps),
			burst:      int64(burstSeconds),
			tokens:     int64(fps) * int64(burstSeconds),
			lastRefill: start,
		}
	}
	if bps > 0 {
		l.bytes = &audioBudget{
			rate:       bps,
			burst:      int64(burstSeconds),
			tokens:     bps * int64(burstSeconds),
			lastRefill: start,
		}
	}
	return l
}

// Allow reports whether a frame of the given size fits the budgets, and
// deducts it when it does. Both budgets must pass before either pays.
func (l *audioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	if frameBytes < 0 {
		frameBytes = 0
	}
	now := l.now()
	l.frames.refill(now)
	l.bytes.refill(now)

	if !l.frames.has(1) || !l.bytes.has(int64(frameBytes)) {
		return false
	}
	l.frames.take(1)
	l.bytes.take(int64(frameBytes))
	return true
}
