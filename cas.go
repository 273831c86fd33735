package memcx

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/memcx/driver"
)

type casConfig struct {
	maxAttempts int // 0 means retry until ctx gives up
	ttl         time.Duration
}

// CASOption tunes a single CAS call.
type CASOption func(*casConfig)

// MaxAttempts caps the number of read-modify-write rounds. Values < 1
// are ignored; the default is unbounded with ctx as the brake.
func MaxAttempts(n int) CASOption {
	return func(cfg *casConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// CASExpiry sets the expiry written with the swapped value. The default
// is 0: the entry never expires.
func CASExpiry(ttl time.Duration) CASOption {
	return func(cfg *casConfig) {
		cfg.ttl = ttl
	}
}

// CAS atomically transforms the value under key. fn receives the current
// value (ok=false when the key is absent) and returns the value to
// store. On contention the read-modify-write repeats with a fresh
// snapshot until it lands, ctx expires, or MaxAttempts runs out.
//
// fn may run multiple times and must be pure apart from its inputs.
// Errors from fn abort the loop verbatim.
func (c *Client) CAS(ctx context.Context, key string, fn func(cur any, ok bool) (any, error), opts ...CASOption) (any, error) {
	var cfg casConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	k, err := c.key(key)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		it, err := c.conn.Gets(ctx, k)
		exists := true
		switch {
		case errors.Is(err, driver.ErrCacheMiss):
			exists = false
		case err != nil:
			return nil, err
		}

		var cur any
		if exists {
			cur, err = c.decode(key, it)
			if err != nil {
				return nil, err
			}
		}

		next, err := fn(cur, exists)
		if err != nil {
			return nil, err
		}

		data, flags, err := c.tc.Encode(next)
		if err != nil {
			return nil, err
		}
		wr := &driver.Item{Key: k, Value: data, Flags: flags, Expiration: expiration(cfg.ttl)}

		if exists {
			wr.Token = it.Token
			err = c.conn.CompareAndSwap(ctx, wr)
		} else {
			err = c.conn.Add(ctx, wr)
		}
		if err == nil {
			return next, nil
		}
		// Lost races only: a conflicting swap, a concurrent create under
		// our Add, or the entry vanishing under our token.
		if !errors.Is(err, driver.ErrCASConflict) && !errors.Is(err, driver.ErrNotStored) {
			return nil, err
		}

		c.hooks.CASRetry(key, attempt)
		c.log.Debug("cas attempt lost the race", Fields{"client": c.name, "key": key, "attempt": attempt})

		if cfg.maxAttempts > 0 && attempt >= cfg.maxAttempts {
			c.hooks.CASExhausted(key, attempt)
			return nil, &CASConflictError{Key: key, Attempts: attempt}
		}
	}
}
