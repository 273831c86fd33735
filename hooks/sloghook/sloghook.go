package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/memcx"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	CASRetryEvery      uint64
	LockContendedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	casRetryCtr  atomic.Uint64
	contendedCtr atomic.Uint64
}

var _ memcx.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CASRetry(key string, attempt int) {
	if h.l == nil || !sample(h.opts.CASRetryEvery, &h.casRetryCtr) {
		return
	}
	h.l.Debug("memcx.cas_retry",
		"key", h.redact(key),
		"attempt", attempt)
}

func (h *Hooks) CASExhausted(key string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Warn("memcx.cas_exhausted",
		"key", h.redact(key),
		"attempts", attempts)
}

func (h *Hooks) DecodeFailure(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memcx.decode_failure",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) LockContended(key string) {
	if h.l == nil || !sample(h.opts.LockContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("memcx.lock_contended",
		"key", h.redact(key))
}

func (h *Hooks) HeartbeatError(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("memcx.heartbeat_error",
		"err", err)
}
