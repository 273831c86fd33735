package memcx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unkn0wn-root/memcx/driver"
	mcdriver "github.com/unkn0wn-root/memcx/driver/memcache"
	"github.com/unkn0wn-root/memcx/internal/keys"
	"github.com/unkn0wn-root/memcx/transcode"
)

// Client is the operation facade over one driver connection. All methods
// are safe for concurrent use. Construct with New; the zero value is not
// usable.
type Client struct {
	conn      driver.Conn
	tc        transcode.Transcoder
	log       Logger
	hooks     Hooks
	name      string
	sanitize  bool
	closeConn bool
}

// New builds a Client. With Servers set the bundled memcached driver is
// assembled (addresses resolve now, sockets dial lazily); with Conn set
// the provided driver is used as-is.
func New(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		name:     opts.Name,
		sanitize: opts.SanitizeKeys,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
	}

	if opts.DisableReconnect {
		c.log.Info("reconnect disabled is advisory: bundled drivers heal connections on demand",
			Fields{"client": c.name})
	}

	if opts.Conn != nil {
		c.conn = opts.Conn
		c.closeConn = opts.CloseConn
	} else {
		var hb time.Duration
		if opts.Heartbeat {
			hb = coalesce(opts.HeartbeatInterval, defaultHeartbeatInterval)
		}
		conn, err := mcdriver.New(mcdriver.Config{
			Servers:           opts.Servers,
			Hash:              mcdriver.Hash(coalesce(opts.Hash, HashConsistent)),
			Timeout:           opts.Timeout,
			MaxIdleConns:      opts.PoolSize,
			HeartbeatInterval: hb,
			OnHeartbeatError: func(err error) {
				c.hooks.HeartbeatError(err)
				c.log.Warn("heartbeat ping failed", Fields{"client": c.name, "err": err})
			},
		})
		if err != nil {
			return nil, err
		}
		c.conn = conn
		c.closeConn = true
	}

	c.tc = opts.Transcoder
	if c.tc == nil {
		c.tc = transcode.NewMsgpackPipeline()
	}
	if opts.CompressThreshold > 0 {
		cell := transcode.DefaultThreshold()
		if p, ok := c.tc.(*transcode.Pipeline); ok {
			cell = p.Threshold()
		}
		cell.Set(opts.CompressThreshold)
	}

	return c, nil
}

// Name returns the cosmetic client name from Options.
func (c *Client) Name() string { return c.name }

// Conn exposes the underlying driver, for operations outside the facade.
func (c *Client) Conn() driver.Conn { return c.conn }

// Close releases the driver when this client owns it: always for
// Servers-built drivers, per CloseConn for provided ones.
func (c *Client) Close() error {
	if !c.closeConn {
		return nil
	}
	return c.conn.Close()
}

// key validates or rewrites a caller key into its storage form.
func (c *Client) key(k string) (string, error) {
	if c.sanitize {
		return keys.Sanitize(k), nil
	}
	if !keys.Valid(k) {
		return "", fmt.Errorf("%w: %q", driver.ErrMalformedKey, k)
	}
	return k, nil
}

func (c *Client) encode(key string, value any, ttl time.Duration) (*driver.Item, error) {
	k, err := c.key(key)
	if err != nil {
		return nil, err
	}
	data, flags, err := c.tc.Encode(value)
	if err != nil {
		return nil, err
	}
	return &driver.Item{Key: k, Value: data, Flags: flags, Expiration: expiration(ttl)}, nil
}

func (c *Client) decode(key string, it *driver.Item) (any, error) {
	v, err := c.tc.Decode(it.Value, it.Flags)
	if err != nil {
		c.hooks.DecodeFailure(key, err)
		c.log.Warn("stored value failed to decode",
			Fields{"client": c.name, "key": key, "flags": it.Flags, "err": err})
		return nil, err
	}
	return v, nil
}

// expiration converts a Go duration to protocol seconds: 0 never
// expires, sub-second durations round up to the protocol's 1s floor.
func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := (int64(ttl) + int64(time.Second) - 1) / int64(time.Second)
	if secs > math.MaxInt32 {
		secs = math.MaxInt32
	}
	return int32(secs)
}

// Get returns the decoded value under key. ok is false on a miss.
func (c *Client) Get(ctx context.Context, key string) (any, bool, error) {
	k, err := c.key(key)
	if err != nil {
		return nil, false, err
	}
	it, err := c.conn.Get(ctx, k)
	if errors.Is(err, driver.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := c.decode(key, it)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetMulti fetches keys in one round trip. The result holds only the
// keys that were present; absences are omissions, never errors.
func (c *Client) GetMulti(ctx context.Context, ks ...string) (map[string]any, error) {
	if len(ks) == 0 {
		return map[string]any{}, nil
	}
	storage := make([]string, len(ks))
	caller := make(map[string]string, len(ks)) // storage key -> caller key
	for i, k := range ks {
		sk, err := c.key(k)
		if err != nil {
			return nil, err
		}
		storage[i] = sk
		caller[sk] = k
	}

	items, err := c.conn.GetMulti(ctx, storage)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(items))
	for sk, it := range items {
		ck, ok := caller[sk]
		if !ok {
			continue // driver returned a key nobody asked for
		}
		v, err := c.decode(ck, it)
		if err != nil {
			return nil, err
		}
		out[ck] = v
	}
	return out, nil
}

// Gets is Get plus the entry's CAS token for a later CompareAndSwap or
// conditional delete.
func (c *Client) Gets(ctx context.Context, key string) (any, driver.Token, bool, error) {
	k, err := c.key(key)
	if err != nil {
		return nil, nil, false, err
	}
	it, err := c.conn.Gets(ctx, k)
	if errors.Is(err, driver.ErrCacheMiss) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	v, err := c.decode(key, it)
	if err != nil {
		return nil, nil, false, err
	}
	return v, it.Token, true, nil
}

// Set stores value under key. ttl 0 means the entry never expires.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	it, err := c.encode(key, value, ttl)
	if err != nil {
		return err
	}
	return c.conn.Set(ctx, it)
}

// Add stores value only when key is absent. stored reports whether this
// call created the entry.
func (c *Client) Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	it, err := c.encode(key, value, ttl)
	if err != nil {
		return false, err
	}
	return storedCond(c.conn.Add(ctx, it))
}

// Replace stores value only when key already exists.
func (c *Client) Replace(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	it, err := c.encode(key, value, ttl)
	if err != nil {
		return false, err
	}
	return storedCond(c.conn.Replace(ctx, it))
}

// storedCond folds a conditional store's outcome into (stored, err).
func storedCond(err error) (bool, error) {
	if errors.Is(err, driver.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Append concatenates value after the stored entry; stored is false when
// the entry does not exist. Only string and []byte values concatenate:
// structured payloads would not decode afterwards, and fragments are
// never compressed for the same reason.
func (c *Client) Append(ctx context.Context, key string, value any) (bool, error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}
	frag, err := fragment(value)
	if err != nil {
		return false, err
	}
	return storedCond(c.conn.Append(ctx, k, frag))
}

// Prepend concatenates value before the stored entry.
func (c *Client) Prepend(ctx context.Context, key string, value any) (bool, error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}
	frag, err := fragment(value)
	if err != nil {
		return false, err
	}
	return storedCond(c.conn.Prepend(ctx, k, frag))
}

func fragment(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("memcx: append/prepend take string or []byte, got %T", value)
	}
}

// Touch resets key's expiry without reading the value. ok is false when
// the key is absent.
func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}
	err = c.conn.Touch(ctx, k, expiration(ttl))
	if errors.Is(err, driver.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Incr adds delta to the counter at key and returns the new value. ok is
// false when no counter exists; nothing is created.
func (c *Client) Incr(ctx context.Context, key string, delta uint64) (uint64, bool, error) {
	return c.adjust(ctx, key, delta, c.conn.Incr)
}

// Decr subtracts delta from the counter at key. Counters floor at zero.
func (c *Client) Decr(ctx context.Context, key string, delta uint64) (uint64, bool, error) {
	return c.adjust(ctx, key, delta, c.conn.Decr)
}

func (c *Client) adjust(ctx context.Context, key string, delta uint64,
	op func(context.Context, string, uint64, *uint64, int32) (uint64, error)) (uint64, bool, error) {
	k, err := c.key(key)
	if err != nil {
		return 0, false, err
	}
	v, err := op(ctx, k, delta, nil, 0)
	if errors.Is(err, driver.ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// IncrWithInit is Incr, except an absent counter is created holding init
// with the given expiry. Delta is not applied to the seed; existing
// counters are adjusted as usual and keep their expiry.
func (c *Client) IncrWithInit(ctx context.Context, key string, delta, init uint64, ttl time.Duration) (uint64, error) {
	k, err := c.key(key)
	if err != nil {
		return 0, err
	}
	return c.conn.Incr(ctx, k, delta, &init, expiration(ttl))
}

// DecrWithInit is IncrWithInit's negative twin.
func (c *Client) DecrWithInit(ctx context.Context, key string, delta, init uint64, ttl time.Duration) (uint64, error) {
	k, err := c.key(key)
	if err != nil {
		return 0, err
	}
	return c.conn.Decr(ctx, k, delta, &init, expiration(ttl))
}

// Delete removes key. found is false when nothing was there.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}
	err = c.conn.Delete(ctx, k, nil)
	if errors.Is(err, driver.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteWithToken removes key only when the entry is unchanged since the
// Gets that produced token. Drivers that cannot express a conditional
// delete return driver.ErrNotSupported.
func (c *Client) DeleteWithToken(ctx context.Context, key string, token driver.Token) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}
	return c.conn.Delete(ctx, k, token)
}

// FlushAll asks every server to expire its entire dataset.
func (c *Client) FlushAll(ctx context.Context) error {
	return c.conn.FlushAll(ctx)
}

// Stats returns per-server statistics keyed by server address. Drivers
// without a stats round trip return driver.ErrNotSupported.
func (c *Client) Stats(ctx context.Context) (map[string]map[string]string, error) {
	return c.conn.Stats(ctx)
}
