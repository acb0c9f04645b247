package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	l := NewLimiter(limit, window)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l.now = clock.now
	return l, clock
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("u1"); !ok {
			t.Fatalf("admission %d rejected, want allowed", i+1)
		}
	}
}

// N+1 operations inside the window yield exactly one rejection; after the
// window passes, the same user is admitted again.
func TestOverLimitThenRecovery(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)
	defer l.Close()

	rejections := 0
	var retry time.Duration
	for i := 0; i < 4; i++ {
		ok, wait := l.Allow("u1")
		if !ok {
			rejections++
			retry = wait
		}
	}
	if rejections != 1 {
		t.Fatalf("rejections = %d, want 1", rejections)
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("retry-after = %v, want within (0, 1m]", retry)
	}

	clock.advance(time.Minute + time.Second)
	if ok, _ := l.Allow("u1"); !ok {
		t.Fatal("admission after window rejected, want allowed")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	defer l.Close()

	if ok, _ := l.Allow("u1"); !ok {
		t.Fatal("first u1 admission rejected")
	}
	if ok, _ := l.Allow("u2"); !ok {
		t.Fatal("u1's admissions must not count against u2")
	}
	if ok, _ := l.Allow("u1"); ok {
		t.Fatal("second u1 admission allowed, want rejected")
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)
	defer l.Close()

	if got := l.Remaining("u1"); got != 2 {
		t.Fatalf("Remaining = %d, want 2", got)
	}
	l.Allow("u1")
	if got := l.Remaining("u1"); got != 1 {
		t.Fatalf("Remaining = %d, want 1", got)
	}
	l.Allow("u1")
	l.Allow("u1")
	if got := l.Remaining("u1"); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}
