package memcx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/memcx/transcode"
)

// CAS tests use float64 values: msgpack round-trips them as float64
// regardless of magnitude, so the arithmetic in fn stays one type.

func TestCASCreatesWhenAbsent(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	got, err := c.CAS(ctx, "counter", func(cur any, ok bool) (any, error) {
		if ok {
			t.Fatalf("fn saw a value on an absent key: %v", cur)
		}
		return float64(1), nil
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if got.(float64) != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	if n := f.callCount("Add"); n != 1 {
		t.Fatalf("Add called %d times, want 1 (create path)", n)
	}
	if n := f.callCount("CompareAndSwap"); n != 0 {
		t.Fatalf("CompareAndSwap called %d times on a create", n)
	}
	v, _, _ := c.Get(ctx, "counter")
	if v.(float64) != 1 {
		t.Fatalf("stored %v, want 1", v)
	}
}

func TestCASSwapsWhenPresent(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "counter", float64(5), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.CAS(ctx, "counter", func(cur any, ok bool) (any, error) {
		if !ok {
			t.Fatal("fn missed an existing value")
		}
		return cur.(float64) + 1, nil
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if got.(float64) != 6 {
		t.Fatalf("got %v, want 6", got)
	}
	if n := f.callCount("CompareAndSwap"); n != 1 {
		t.Fatalf("CompareAndSwap called %d times, want 1", n)
	}
}

func TestCASRetriesUntilItLands(t *testing.T) {
	c, f, rec := newHookedClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "counter", float64(0), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// The first three rounds lose to an interleaved writer.
	interleaved := 0
	f.beforeCAS = func(key string) {
		if interleaved < 3 {
			interleaved++
			if err := c.Set(ctx, key, float64(100+interleaved), 0); err != nil {
				t.Errorf("interleaved Set: %v", err)
			}
		}
	}

	got, err := c.CAS(ctx, "counter", func(cur any, ok bool) (any, error) {
		return cur.(float64) + 1, nil
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	// Round 4 read 103 and wrote 104.
	if got.(float64) != 104 {
		t.Fatalf("got %v, want 104", got)
	}
	if rec.retryCount() != 3 {
		t.Fatalf("CASRetry fired %d times, want 3", rec.retryCount())
	}
	if n := f.callCount("CompareAndSwap"); n != 4 {
		t.Fatalf("CompareAndSwap called %d times, want 4", n)
	}
	if rec.exhaustedCount() != 0 {
		t.Fatal("a converging loop must not report exhaustion")
	}
}

func TestCASMaxAttempts(t *testing.T) {
	c, f, rec := newHookedClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "hot", float64(0), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.beforeCAS = func(key string) {
		if err := c.Set(ctx, key, float64(-1), 0); err != nil {
			t.Errorf("interleaved Set: %v", err)
		}
	}

	_, err := c.CAS(ctx, "hot", func(cur any, ok bool) (any, error) {
		return cur.(float64) + 1, nil
	}, MaxAttempts(2))
	if err == nil {
		t.Fatal("CAS won against a permanent conflict")
	}
	var ce *CASConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *CASConflictError", err)
	}
	if ce.Key != "hot" || ce.Attempts != 2 {
		t.Fatalf("conflict = %+v, want key hot after 2 attempts", ce)
	}
	if !errors.Is(err, ErrCASConflict) {
		t.Fatal("err must match ErrCASConflict")
	}
	if rec.retryCount() != 2 || rec.exhaustedCount() != 1 {
		t.Fatalf("hooks: retries=%d exhausted=%d, want 2 and 1", rec.retryCount(), rec.exhaustedCount())
	}

	// A single attempt against a guaranteed conflict fails on round one.
	_, err = c.CAS(ctx, "hot", func(cur any, ok bool) (any, error) {
		return cur.(float64) + 1, nil
	}, MaxAttempts(1))
	if !errors.As(err, &ce) || ce.Attempts != 1 {
		t.Fatalf("MaxAttempts(1): err=%v, want a one-attempt conflict", err)
	}
}

func TestCASLosesCreateRace(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	// Someone else creates the key between our miss and our Add.
	raced := false
	f.beforeAdd = func(key string) {
		if !raced {
			raced = true
			if err := c.Set(ctx, key, float64(7), 0); err != nil {
				t.Errorf("interleaved Set: %v", err)
			}
		}
	}

	sawMiss, sawHit := false, false
	got, err := c.CAS(ctx, "slot", func(cur any, ok bool) (any, error) {
		if !ok {
			sawMiss = true
			return float64(1), nil
		}
		sawHit = true
		return cur.(float64) + 1, nil
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if !sawMiss || !sawHit {
		t.Fatalf("fn paths: miss=%v hit=%v, want both", sawMiss, sawHit)
	}
	if got.(float64) != 8 {
		t.Fatalf("got %v, want 8 (retry on top of the racer's 7)", got)
	}
}

func TestCASRecoversWhenEntryVanishes(t *testing.T) {
	c, f, rec := newHookedClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "slot", float64(3), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// The entry is deleted between our gets and our swap. The loop must
	// treat that as a lost race, re-read the miss and create instead.
	vanished := false
	f.beforeCAS = func(key string) {
		if !vanished {
			vanished = true
			if _, err := c.Delete(ctx, key); err != nil {
				t.Errorf("interleaved Delete: %v", err)
			}
		}
	}

	sawHit, sawMiss := false, false
	got, err := c.CAS(ctx, "slot", func(cur any, ok bool) (any, error) {
		if !ok {
			sawMiss = true
			return float64(1), nil
		}
		sawHit = true
		return cur.(float64) + 1, nil
	})
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if !sawHit || !sawMiss {
		t.Fatalf("fn paths: hit=%v miss=%v, want both", sawHit, sawMiss)
	}
	if got.(float64) != 1 {
		t.Fatalf("got %v, want 1 (created after the vanish)", got)
	}
	if rec.retryCount() != 1 {
		t.Fatalf("CASRetry fired %d times, want 1", rec.retryCount())
	}
	if n := f.callCount("CompareAndSwap"); n != 1 {
		t.Fatalf("CompareAndSwap called %d times, want 1", n)
	}
	if n := f.callCount("Add"); n != 1 {
		t.Fatalf("Add called %d times, want 1 (recovery path)", n)
	}
	v, _, _ := c.Get(ctx, "slot")
	if v.(float64) != 1 {
		t.Fatalf("stored %v, want 1", v)
	}
}

func TestCASFnErrorAborts(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", float64(1), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	boom := errors.New("no thanks")
	_, err := c.CAS(ctx, "k", func(any, bool) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the fn error verbatim", err)
	}
	if n := f.callCount("CompareAndSwap"); n != 0 {
		t.Fatalf("CompareAndSwap called %d times after fn failed", n)
	}
}

func TestCASExpiry(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	if _, err := c.CAS(ctx, "pinned", func(any, bool) (any, error) {
		return float64(1), nil
	}, CASExpiry(time.Minute)); err != nil {
		t.Fatalf("CAS: %v", err)
	}
	e, _ := f.entry("pinned")
	if e.exp.IsZero() {
		t.Fatal("CASExpiry did not reach the stored entry")
	}

	if _, err := c.CAS(ctx, "forever", func(any, bool) (any, error) {
		return float64(1), nil
	}); err != nil {
		t.Fatalf("CAS: %v", err)
	}
	e, _ = f.entry("forever")
	if !e.exp.IsZero() {
		t.Fatal("default CAS write must not expire")
	}
}

func TestCASContextCancel(t *testing.T) {
	c, f := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CAS(ctx, "k", func(any, bool) (any, error) { return float64(1), nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := f.callCount("Gets"); n != 0 {
		t.Fatal("a dead context still reached the driver")
	}
}

func TestCASDecodeErrorAborts(t *testing.T) {
	c, f, rec := newHookedClient(t)
	ctx := context.Background()

	f.setEntry("bad", fakeEntry{value: []byte{0xc1}, flags: transcode.TagStructured, casid: 9})
	_, err := c.CAS(ctx, "bad", func(any, bool) (any, error) { return float64(1), nil })
	if err == nil {
		t.Fatal("CAS swallowed a decode failure")
	}
	rec.mu.Lock()
	fired := len(rec.decodeErr)
	rec.mu.Unlock()
	if fired != 1 {
		t.Fatalf("DecodeFailure fired %d times, want 1", fired)
	}
}
