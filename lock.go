package memcx

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/memcx/driver"
)

// lockMarker is the stored lease body. Its content never matters; the
// lease is the key's existence.
const lockMarker = "1"

// TryLock runs onAcquired under a best-effort lease at key, created with
// Add so exactly one contender wins. acquired reports which callback ran;
// err is that callback's error. The lease is deleted when onAcquired
// returns, and expires on its own after ttl if this process dies first.
//
// Both callbacks may be nil. The lease is advisory: nothing stops a
// caller who skips TryLock from touching the guarded resource.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration, onAcquired, onNotAcquired func() error) (acquired bool, err error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}
	data, flags, err := c.tc.Encode(lockMarker)
	if err != nil {
		return false, err
	}

	err = c.conn.Add(ctx, &driver.Item{Key: k, Value: data, Flags: flags, Expiration: expiration(ttl)})
	if errors.Is(err, driver.ErrNotStored) {
		c.hooks.LockContended(key)
		c.log.Debug("lock already held", Fields{"client": c.name, "key": key})
		if onNotAcquired != nil {
			return false, onNotAcquired()
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Release must happen even when onAcquired panics; the panic
	// continues after the delete. WithoutCancel so a dead ctx cannot
	// leave the lease pinned until ttl.
	defer func() {
		_, derr := c.Delete(context.WithoutCancel(ctx), key)
		if err == nil {
			err = derr
		}
	}()

	if onAcquired != nil {
		return true, onAcquired()
	}
	return true, nil
}
