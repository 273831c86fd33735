package memcx

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/memcx/driver"
)

// fakeConn is an in-memory driver.Conn with memcached semantics: cas ids
// bump on every write, counters are ASCII decimals, conditional deletes
// compare cas ids. Tests reach into items directly when they need to
// expire or inspect an entry.
type fakeConn struct {
	mu     sync.Mutex
	items  map[string]fakeEntry
	casSeq uint64
	calls  map[string]int

	// beforeCAS and beforeAdd run at the top of CompareAndSwap and Add
	// before the lock is taken, so tests can inject competing writes
	// through the same fake without deadlocking.
	beforeCAS func(key string)
	beforeAdd func(key string)

	flushed bool
	closed  bool
}

type fakeEntry struct {
	value []byte
	flags uint32
	casid uint64
	exp   time.Time // zero = never expires
}

var _ driver.Conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{
		items: make(map[string]fakeEntry),
		calls: make(map[string]int),
	}
}

// live looks up key and lazily evicts it when expired. Callers hold mu.
func (f *fakeConn) live(key string) (fakeEntry, bool) {
	e, ok := f.items[key]
	if !ok {
		return fakeEntry{}, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(f.items, key)
		return fakeEntry{}, false
	}
	return e, true
}

// store writes an entry with a fresh cas id. Callers hold mu.
func (f *fakeConn) store(key string, value []byte, flags uint32, exp int32) {
	f.casSeq++
	f.items[key] = fakeEntry{
		value: append([]byte(nil), value...),
		flags: flags,
		casid: f.casSeq,
		exp:   expAt(exp),
	}
}

func expAt(exp int32) time.Time {
	if exp <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(exp) * time.Second)
}

func (f *fakeConn) Get(ctx context.Context, key string) (*driver.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Get"]++
	e, ok := f.live(key)
	if !ok {
		return nil, driver.ErrCacheMiss
	}
	return &driver.Item{Key: key, Value: append([]byte(nil), e.value...), Flags: e.flags}, nil
}

func (f *fakeConn) GetMulti(ctx context.Context, keys []string) (map[string]*driver.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetMulti"]++
	out := make(map[string]*driver.Item)
	for _, k := range keys {
		if e, ok := f.live(k); ok {
			out[k] = &driver.Item{Key: k, Value: append([]byte(nil), e.value...), Flags: e.flags}
		}
	}
	return out, nil
}

func (f *fakeConn) Gets(ctx context.Context, key string) (*driver.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Gets"]++
	e, ok := f.live(key)
	if !ok {
		return nil, driver.ErrCacheMiss
	}
	return &driver.Item{
		Key:   key,
		Value: append([]byte(nil), e.value...),
		Flags: e.flags,
		Token: e.casid,
	}, nil
}

func (f *fakeConn) Set(ctx context.Context, it *driver.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Set"]++
	f.store(it.Key, it.Value, it.Flags, it.Expiration)
	return nil
}

func (f *fakeConn) Add(ctx context.Context, it *driver.Item) error {
	if f.beforeAdd != nil {
		f.beforeAdd(it.Key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Add"]++
	if _, ok := f.live(it.Key); ok {
		return driver.ErrNotStored
	}
	f.store(it.Key, it.Value, it.Flags, it.Expiration)
	return nil
}

func (f *fakeConn) Replace(ctx context.Context, it *driver.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Replace"]++
	if _, ok := f.live(it.Key); !ok {
		return driver.ErrNotStored
	}
	f.store(it.Key, it.Value, it.Flags, it.Expiration)
	return nil
}

func (f *fakeConn) Append(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Append"]++
	e, ok := f.live(key)
	if !ok {
		return driver.ErrNotStored
	}
	e.value = append(append([]byte(nil), e.value...), data...)
	f.casSeq++
	e.casid = f.casSeq
	f.items[key] = e
	return nil
}

func (f *fakeConn) Prepend(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Prepend"]++
	e, ok := f.live(key)
	if !ok {
		return driver.ErrNotStored
	}
	e.value = append(append([]byte(nil), data...), e.value...)
	f.casSeq++
	e.casid = f.casSeq
	f.items[key] = e
	return nil
}

func (f *fakeConn) CompareAndSwap(ctx context.Context, it *driver.Item) error {
	if f.beforeCAS != nil {
		f.beforeCAS(it.Key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CompareAndSwap"]++
	id, ok := it.Token.(uint64)
	if !ok {
		return fmt.Errorf("fake: token %T is not from this driver", it.Token)
	}
	e, found := f.live(it.Key)
	if !found {
		return driver.ErrNotStored
	}
	if e.casid != id {
		return driver.ErrCASConflict
	}
	f.store(it.Key, it.Value, it.Flags, it.Expiration)
	return nil
}

func (f *fakeConn) Incr(ctx context.Context, key string, delta uint64, init *uint64, exp int32) (uint64, error) {
	return f.adjust("Incr", key, delta, init, exp, func(n, d uint64) uint64 { return n + d })
}

func (f *fakeConn) Decr(ctx context.Context, key string, delta uint64, init *uint64, exp int32) (uint64, error) {
	return f.adjust("Decr", key, delta, init, exp, func(n, d uint64) uint64 {
		if d > n {
			return 0
		}
		return n - d
	})
}

func (f *fakeConn) adjust(op, key string, delta uint64, init *uint64, exp int32, apply func(n, d uint64) uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	e, ok := f.live(key)
	if !ok {
		if init == nil {
			return 0, driver.ErrCacheMiss
		}
		f.store(key, strconv.AppendUint(nil, *init, 10), 0, exp)
		return *init, nil
	}
	n, err := strconv.ParseUint(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fake: cannot adjust non-numeric value %q", e.value)
	}
	n = apply(n, delta)
	e.value = strconv.AppendUint(nil, n, 10)
	f.casSeq++
	e.casid = f.casSeq
	f.items[key] = e // expiry kept
	return n, nil
}

func (f *fakeConn) Delete(ctx context.Context, key string, token driver.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Delete"]++
	e, ok := f.live(key)
	if !ok {
		return driver.ErrCacheMiss
	}
	if token != nil {
		id, isID := token.(uint64)
		if !isID {
			return fmt.Errorf("fake: token %T is not from this driver", token)
		}
		if e.casid != id {
			return driver.ErrCASConflict
		}
	}
	delete(f.items, key)
	return nil
}

func (f *fakeConn) Touch(ctx context.Context, key string, exp int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Touch"]++
	e, ok := f.live(key)
	if !ok {
		return driver.ErrCacheMiss
	}
	e.exp = expAt(exp)
	f.items[key] = e
	return nil
}

func (f *fakeConn) Stats(ctx context.Context) (map[string]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Stats"]++
	return map[string]map[string]string{
		"fake": {"curr_items": strconv.Itoa(len(f.items))},
	}, nil
}

func (f *fakeConn) FlushAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FlushAll"]++
	f.items = make(map[string]fakeEntry)
	f.flushed = true
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// entry peeks at the raw stored entry, bypassing expiry.
func (f *fakeConn) entry(key string) (fakeEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[key]
	return e, ok
}

func (f *fakeConn) setEntry(key string, e fakeEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = e
}

func (f *fakeConn) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// recordingHooks captures hook events for assertions.
type recordingHooks struct {
	mu        sync.Mutex
	retries   []int
	exhausted []int
	decodeErr []error
	contended []string
	heartbeat []error
}

var _ Hooks = (*recordingHooks)(nil)

func (h *recordingHooks) CASRetry(key string, attempt int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, attempt)
}

func (h *recordingHooks) CASExhausted(key string, attempts int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted = append(h.exhausted, attempts)
}

func (h *recordingHooks) DecodeFailure(key string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decodeErr = append(h.decodeErr, err)
}

func (h *recordingHooks) LockContended(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.contended = append(h.contended, key)
}

func (h *recordingHooks) HeartbeatError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heartbeat = append(h.heartbeat, err)
}

func (h *recordingHooks) retryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.retries)
}

func (h *recordingHooks) exhaustedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exhausted)
}

func (h *recordingHooks) contendedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.contended)
}

func newTestClient(t *testing.T) (*Client, *fakeConn) {
	t.Helper()
	f := newFakeConn()
	c, err := New(Options{Conn: f})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, f
}

func newHookedClient(t *testing.T) (*Client, *fakeConn, *recordingHooks) {
	t.Helper()
	f := newFakeConn()
	rec := &recordingHooks{}
	c, err := New(Options{Conn: f, Hooks: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, f, rec
}
