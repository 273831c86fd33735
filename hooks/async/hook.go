// Package asynchook decouples hook execution from cache calls. Events
// are handed to a worker pool through a bounded queue and dropped when
// the queue is full, so a slow sink can never stall an operation.
//
// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{
//	    CASRetryEvery: 10, // sample logs: ~every 10th retry
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := memcx.New(memcx.Options{
//	    Servers: []string{"127.0.0.1:11211"},
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/memcx"
)

type Hooks struct {
	inner memcx.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ memcx.Hooks = (*Hooks)(nil)

func New(inner memcx.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CASRetry(k string, n int)     { h.try(func() { h.inner.CASRetry(k, n) }) }
func (h *Hooks) CASExhausted(k string, n int) { h.try(func() { h.inner.CASExhausted(k, n) }) }
func (h *Hooks) DecodeFailure(k string, err error) {
	h.try(func() { h.inner.DecodeFailure(k, err) })
}
func (h *Hooks) LockContended(k string)   { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) HeartbeatError(err error) { h.try(func() { h.inner.HeartbeatError(err) }) }
