package memcx

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTryLockMutualExclusion(t *testing.T) {
	c, f, rec := newHookedClient(t)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := c.TryLock(ctx, "job", time.Minute, func() error {
			close(holding)
			<-release
			return nil
		}, nil)
		done <- err
	}()

	<-holding
	acquired, err := c.TryLock(ctx, "job", time.Minute, func() error {
		t.Error("second contender ran onAcquired")
		return nil
	}, func() error { return nil })
	if err != nil {
		t.Fatalf("contended TryLock: %v", err)
	}
	if acquired {
		t.Fatal("two holders at once")
	}
	if rec.contendedCount() != 1 {
		t.Fatalf("LockContended fired %d times, want 1", rec.contendedCount())
	}
	// The holder's lease must survive the losing attempt.
	if _, held := f.entry("job"); !held {
		t.Fatal("contender erased the holder's lease")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder TryLock: %v", err)
	}
	if _, held := f.entry("job"); held {
		t.Fatal("lease not released after onAcquired returned")
	}
}

func TestTryLockReleasesOnPanic(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_, _ = c.TryLock(ctx, "boom", time.Minute, func() error {
			panic("kaboom")
		}, nil)
	}()
	if recovered == nil {
		t.Fatal("panic did not propagate")
	}
	if _, held := f.entry("boom"); held {
		t.Fatal("lease survived the panic")
	}
}

func TestTryLockExpiredLease(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	f.setEntry("stale", fakeEntry{value: []byte("1"), casid: 1, exp: time.Now().Add(-time.Second)})
	acquired, err := c.TryLock(ctx, "stale", time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !acquired {
		t.Fatal("an expired lease must be acquirable")
	}
}

func TestTryLockNotAcquiredError(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	f.setEntry("held", fakeEntry{value: []byte("1"), casid: 1})
	busy := errors.New("come back later")
	acquired, err := c.TryLock(ctx, "held", time.Minute, nil, func() error { return busy })
	if acquired {
		t.Fatal("acquired a held lease")
	}
	if !errors.Is(err, busy) {
		t.Fatalf("err = %v, want the onNotAcquired error", err)
	}

	// Nil onNotAcquired is a clean no-op.
	acquired, err = c.TryLock(ctx, "held", time.Minute, nil, nil)
	if acquired || err != nil {
		t.Fatalf("nil callback: acquired=%v err=%v", acquired, err)
	}
}

func TestTryLockCallbackError(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	boom := errors.New("work failed")
	acquired, err := c.TryLock(ctx, "task", time.Minute, func() error { return boom }, nil)
	if !acquired {
		t.Fatal("lease was free, must acquire")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the onAcquired error", err)
	}
	if _, held := f.entry("task"); held {
		t.Fatal("lease not released after a failing callback")
	}
}

func TestTryLockLeaseCarriesTTL(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	_, err := c.TryLock(ctx, "ttl", 30*time.Second, func() error {
		e, held := f.entry("ttl")
		if !held {
			t.Fatal("lease missing while held")
		}
		if e.exp.IsZero() {
			t.Fatal("lease has no expiry; a crash would pin it forever")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
}
