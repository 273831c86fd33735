// Package memcache adapts bradfitz/gomemcache to the memcx driver
// contract. It is the primary backend: flags ride the protocol's native
// flags field, and CAS tokens are the items the underlying client hands
// back from gets.
//
// The underlying client takes no context; each operation checks the
// context before touching the network, which is the closest the text
// protocol client gets to cancellation.
package memcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/memcx/driver"
)

// Hash selects the server-selection strategy built from Config.Servers.
type Hash string

const (
	// HashConsistent places servers on a hash ring with virtual nodes, so
	// membership changes remap only the affected arc.
	HashConsistent Hash = "consistent"
	// HashStandard is the underlying client's modulo distribution.
	HashStandard Hash = "standard"
	// HashPHP reproduces the php memcache extension's key placement.
	HashPHP Hash = "php"
)

// Config assembles the adapter.
type Config struct {
	// Servers are "host:port" or unix socket paths. Ignored when
	// Selector is set.
	Servers []string

	// Hash picks how keys map to Servers. Empty means HashConsistent.
	Hash Hash

	// Selector overrides server selection entirely, for custom locator
	// schemes. Hash and Servers are ignored when set.
	Selector memcache.ServerSelector

	// Timeout is the per-operation socket timeout. 0 keeps the
	// underlying client's default.
	Timeout time.Duration

	// MaxIdleConns caps idle connections per server. 0 keeps the
	// underlying client's default.
	MaxIdleConns int

	// HeartbeatInterval enables a background ping loop when positive.
	HeartbeatInterval time.Duration

	// OnHeartbeatError is called with each failed ping. Optional.
	OnHeartbeatError func(error)
}

// Conn is the adapter. Create with New.
type Conn struct {
	mc *memcache.Client

	hbStop chan struct{}
	hbWG   sync.WaitGroup
	once   sync.Once
}

var _ driver.Conn = (*Conn)(nil)

var errForeignToken = errors.New("memcache driver: cas token not from this driver")

// New builds the adapter and, when configured, starts its heartbeat.
// Addresses are resolved here; nothing is dialed until the first
// operation.
func New(cfg Config) (*Conn, error) {
	ss := cfg.Selector
	if ss == nil {
		if len(cfg.Servers) == 0 {
			return nil, driver.ErrNoServers
		}
		var err error
		switch cfg.Hash {
		case HashConsistent, "":
			ss, err = NewConsistentSelector(cfg.Servers...)
		case HashStandard:
			sl := new(memcache.ServerList)
			err = sl.SetServers(cfg.Servers...)
			ss = sl
		case HashPHP:
			ss, err = NewPHPSelector(cfg.Servers...)
		default:
			return nil, errors.New("memcache driver: unknown hash strategy " + strconv.Quote(string(cfg.Hash)))
		}
		if err != nil {
			return nil, err
		}
	}

	mc := memcache.NewFromSelector(ss)
	if cfg.Timeout > 0 {
		mc.Timeout = cfg.Timeout
	}
	if cfg.MaxIdleConns > 0 {
		mc.MaxIdleConns = cfg.MaxIdleConns
	}

	c := &Conn{mc: mc, hbStop: make(chan struct{})}
	if cfg.HeartbeatInterval > 0 {
		c.hbWG.Add(1)
		go c.heartbeatLoop(cfg.HeartbeatInterval, cfg.OnHeartbeatError)
	}
	return c, nil
}

func (c *Conn) heartbeatLoop(every time.Duration, onErr func(error)) {
	defer c.hbWG.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.mc.Ping(); err != nil && onErr != nil {
				onErr(err)
			}
		case <-c.hbStop:
			return
		}
	}
}

// Ping checks that every configured server answers.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Ping())
}

func (c *Conn) Get(ctx context.Context, key string) (*driver.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := c.mc.Get(key)
	if err != nil {
		return nil, mapErr(err)
	}
	return fromMC(it), nil
}

func (c *Conn) GetMulti(ctx context.Context, keys []string) (map[string]*driver.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := c.mc.GetMulti(keys)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make(map[string]*driver.Item, len(found))
	for k, it := range found {
		out[k] = fromMC(it)
	}
	return out, nil
}

// Gets returns the item with its CAS token. The underlying client issues
// gets for every read, so the token is simply the returned item, whose
// unexported cas id travels with it back into CompareAndSwap.
func (c *Conn) Gets(ctx context.Context, key string) (*driver.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := c.mc.Get(key)
	if err != nil {
		return nil, mapErr(err)
	}
	out := fromMC(it)
	out.Token = it
	return out, nil
}

func (c *Conn) Set(ctx context.Context, it *driver.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Set(toMC(it)))
}

func (c *Conn) Add(ctx context.Context, it *driver.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Add(toMC(it)))
}

func (c *Conn) Replace(ctx context.Context, it *driver.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Replace(toMC(it)))
}

func (c *Conn) Append(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Append(&memcache.Item{Key: key, Value: data}))
}

func (c *Conn) Prepend(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Prepend(&memcache.Item{Key: key, Value: data}))
}

func (c *Conn) CompareAndSwap(ctx context.Context, it *driver.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	orig, ok := it.Token.(*memcache.Item)
	if !ok || orig == nil || orig.Key != it.Key {
		return errForeignToken
	}
	// The cas id lives unexported inside the token item; write the new
	// state onto it and send it back.
	orig.Value = it.Value
	orig.Flags = it.Flags
	orig.Expiration = it.Expiration
	if err := c.mc.CompareAndSwap(orig); err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return driver.ErrNotStored // entry vanished since the gets
		}
		return mapErr(err)
	}
	return nil
}

func (c *Conn) Incr(ctx context.Context, key string, delta uint64, init *uint64, expiration int32) (uint64, error) {
	return c.counter(ctx, key, delta, init, expiration, c.mc.Increment)
}

func (c *Conn) Decr(ctx context.Context, key string, delta uint64, init *uint64, expiration int32) (uint64, error) {
	return c.counter(ctx, key, delta, init, expiration, c.mc.Decrement)
}

func (c *Conn) counter(ctx context.Context, key string, delta uint64, init *uint64, expiration int32, op func(string, uint64) (uint64, error)) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := op(key, delta)
	if !errors.Is(err, memcache.ErrCacheMiss) || init == nil {
		return v, mapErr(err)
	}
	// The text protocol has no atomic create-or-adjust: seed with add,
	// fall back to the adjustment when a racing writer seeded first.
	seed := &memcache.Item{Key: key, Value: strconv.AppendUint(nil, *init, 10), Expiration: expiration}
	switch err := c.mc.Add(seed); {
	case err == nil:
		return *init, nil
	case !errors.Is(err, memcache.ErrNotStored):
		return 0, mapErr(err)
	}
	v, err = op(key, delta)
	return v, mapErr(err)
}

func (c *Conn) Delete(ctx context.Context, key string, token driver.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token != nil {
		// The text protocol dropped delete-with-cas long ago; there is no
		// way to express a conditional delete here.
		return driver.ErrNotSupported
	}
	return mapErr(c.mc.Delete(key))
}

func (c *Conn) Touch(ctx context.Context, key string, expiration int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.Touch(key, expiration))
}

// Stats is not available through the underlying client; it exposes no
// per-server stats round trip.
func (c *Conn) Stats(context.Context) (map[string]map[string]string, error) {
	return nil, driver.ErrNotSupported
}

func (c *Conn) FlushAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(c.mc.FlushAll())
}

// Close stops the heartbeat and releases idle connections. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.hbStop)
		c.hbWG.Wait()
		err = c.mc.Close()
	})
	return err
}

func fromMC(it *memcache.Item) *driver.Item {
	return &driver.Item{
		Key:        it.Key,
		Value:      it.Value,
		Flags:      it.Flags,
		Expiration: it.Expiration,
	}
}

func toMC(it *driver.Item) *memcache.Item {
	return &memcache.Item{
		Key:        it.Key,
		Value:      it.Value,
		Flags:      it.Flags,
		Expiration: it.Expiration,
	}
}

// mapErr folds the underlying client's sentinels into the driver's.
// Anything else (socket errors, SERVER_ERROR responses) passes through
// unmodified.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memcache.ErrCacheMiss):
		return driver.ErrCacheMiss
	case errors.Is(err, memcache.ErrNotStored):
		return driver.ErrNotStored
	case errors.Is(err, memcache.ErrCASConflict):
		return driver.ErrCASConflict
	case errors.Is(err, memcache.ErrNoServers):
		return driver.ErrNoServers
	case errors.Is(err, memcache.ErrMalformedKey):
		return driver.ErrMalformedKey
	default:
		return err
	}
}
