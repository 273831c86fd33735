package memcx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/memcx/driver"
)

type ctxKey struct{}

var defaultClient atomic.Pointer[Client]

// SetDefault installs c as the process-wide fallback client. Pass nil to
// clear it. Safe to call concurrently with From.
func SetDefault(c *Client) {
	defaultClient.Store(c)
}

// Default returns the process-wide client, or nil when none is set.
func Default() *Client {
	return defaultClient.Load()
}

// Bind attaches c to the context. From prefers the innermost Bind over
// the process default, so request-scoped overrides nest naturally.
func Bind(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// From resolves the client for ctx: the innermost Bind wins, then the
// SetDefault client. ErrNoClient when neither is present.
func From(ctx context.Context) (*Client, error) {
	if c, ok := ctx.Value(ctxKey{}).(*Client); ok && c != nil {
		return c, nil
	}
	if c := Default(); c != nil {
		return c, nil
	}
	return nil, ErrNoClient
}

// The package-level operations resolve a client with From and delegate.
// They exist so call sites that already thread a context do not also
// need to thread a *Client.

func Get(ctx context.Context, key string) (any, bool, error) {
	c, err := From(ctx)
	if err != nil {
		return nil, false, err
	}
	return c.Get(ctx, key)
}

func GetMulti(ctx context.Context, keys ...string) (map[string]any, error) {
	c, err := From(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetMulti(ctx, keys...)
}

func Gets(ctx context.Context, key string) (any, driver.Token, bool, error) {
	c, err := From(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	return c.Gets(ctx, key)
}

func Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c, err := From(ctx)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, value, ttl)
}

func Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.Add(ctx, key, value, ttl)
}

func Replace(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.Replace(ctx, key, value, ttl)
}

func Append(ctx context.Context, key string, value any) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.Append(ctx, key, value)
}

func Prepend(ctx context.Context, key string, value any) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.Prepend(ctx, key, value)
}

func Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.Touch(ctx, key, ttl)
}

func Incr(ctx context.Context, key string, delta uint64) (uint64, bool, error) {
	c, err := From(ctx)
	if err != nil {
		return 0, false, err
	}
	return c.Incr(ctx, key, delta)
}

func Decr(ctx context.Context, key string, delta uint64) (uint64, bool, error) {
	c, err := From(ctx)
	if err != nil {
		return 0, false, err
	}
	return c.Decr(ctx, key, delta)
}

func IncrWithInit(ctx context.Context, key string, delta, init uint64, ttl time.Duration) (uint64, error) {
	c, err := From(ctx)
	if err != nil {
		return 0, err
	}
	return c.IncrWithInit(ctx, key, delta, init, ttl)
}

func DecrWithInit(ctx context.Context, key string, delta, init uint64, ttl time.Duration) (uint64, error) {
	c, err := From(ctx)
	if err != nil {
		return 0, err
	}
	return c.DecrWithInit(ctx, key, delta, init, ttl)
}

func Delete(ctx context.Context, key string) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.Delete(ctx, key)
}

func DeleteWithToken(ctx context.Context, key string, token driver.Token) error {
	c, err := From(ctx)
	if err != nil {
		return err
	}
	return c.DeleteWithToken(ctx, key, token)
}

func FlushAll(ctx context.Context) error {
	c, err := From(ctx)
	if err != nil {
		return err
	}
	return c.FlushAll(ctx)
}

func Stats(ctx context.Context) (map[string]map[string]string, error) {
	c, err := From(ctx)
	if err != nil {
		return nil, err
	}
	return c.Stats(ctx)
}

func CAS(ctx context.Context, key string, fn func(cur any, ok bool) (any, error), opts ...CASOption) (any, error) {
	c, err := From(ctx)
	if err != nil {
		return nil, err
	}
	return c.CAS(ctx, key, fn, opts...)
}

func TryLock(ctx context.Context, key string, ttl time.Duration, onAcquired, onNotAcquired func() error) (bool, error) {
	c, err := From(ctx)
	if err != nil {
		return false, err
	}
	return c.TryLock(ctx, key, ttl, onAcquired, onNotAcquired)
}

func Through(ctx context.Context, key string, ttl time.Duration, loader func() (any, error)) (any, error) {
	c, err := From(ctx)
	if err != nil {
		return nil, err
	}
	return c.Through(ctx, key, ttl, loader)
}
