package session

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAudioLimiterDisabled(t *testing.T) {
	if l := newAudioLimiter(nil, 0, 0, 0); l != nil {
		t.Fatal("expected nil limiter when both budgets are disabled")
	}
	var l *audioLimiter
	if !l.Allow(1 << 20) {
		t.Fatal("nil limiter must allow everything")
	}
}

func TestAudioLimiterFrameRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newAudioLimiter(clock.now, 2, 0, 1)

	if !l.Allow(100) || !l.Allow(100) {
		t.Fatal("burst frames denied")
	}
	if l.Allow(100) {
		t.Fatal("third frame allowed over a 2 fps budget")
	}

	clock.advance(time.Second)
	if !l.Allow(100) {
		t.Fatal("frame denied after refill")
	}
}

func TestAudioLimiterByteBudget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newAudioLimiter(clock.now, 0, 100, 1)

	if !l.Allow(100) {
		t.Fatal("initial burst denied")
	}
	if l.Allow(10) {
		t.Fatal("frame allowed with an empty byte budget")
	}

	clock.advance(500 * time.Millisecond)
	if !l.Allow(40) {
		t.Fatal("frame denied after partial refill")
	}
	if l.Allow(40) {
		t.Fatal("frame allowed past the refilled budget")
	}
}

func TestAudioLimiterDeniedFrameCostsNothing(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newAudioLimiter(clock.now, 10, 100, 1)

	// Oversized for the byte budget: denied, but the frame budget is untouched.
	if l.Allow(500) {
		t.Fatal("oversized frame allowed")
	}
	if !l.Allow(100) {
		t.Fatal("budget was charged for a denied frame")
	}
}

func TestAudioLimiterFractionalRefillAccumulates(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newAudioLimiter(clock.now, 1, 0, 1)

	if !l.Allow(0) {
		t.Fatal("burst frame denied")
	}
	// Two sub-token intervals must add up to one token.
	clock.advance(600 * time.Millisecond)
	if l.Allow(0) {
		t.Fatal("frame allowed before a full token accrued")
	}
	clock.advance(600 * time.Millisecond)
	if !l.Allow(0) {
		t.Fatal("fractional refill was lost across calls")
	}
}
