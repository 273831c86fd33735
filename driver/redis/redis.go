// Package redis adapts go-redis to the memcx driver contract, so code
// written against the memcached-shaped API can run on a redis fleet.
//
// Redis stores one bare byte string per key with no flags sidecar, so
// every value travels inside the internal wire envelope carrying the
// flags word. Values found without an envelope (counters, foreign
// writers) read back as flag-less raw bytes, the same way memcached
// treats values stored with flags 0. CAS tokens are the raw stored
// envelope; conditional operations compare it to the current value
// inside a Lua script, which keeps them atomic on servers and in
// miniredis-backed tests alike. Comparison is by value: an A-B-A rewrite
// between Gets and CompareAndSwap is invisible here, unlike memcached's
// monotonic cas ids.
//
// Counters operate on bare ASCII decimals like their memcached
// originals. Values past 2^53 lose precision in the script's number
// space; protocol parity for realistic counters, not a 64-bit ALU.
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/memcx/driver"
	"github.com/unkn0wn-root/memcx/internal/wire"
)

var (
	ErrNilClient = errors.New("redis driver: nil client")

	errForeignToken = errors.New("redis driver: cas token not from this driver")
)

type Conn struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ driver.Conn = (*Conn)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this driver exclusively owns the client
}

func New(cfg Config) (*Conn, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Conn{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// casSwap replaces the value only when it still equals ARGV[1]. ARGV[3]
// is the new expiry in milliseconds; 0 stores without expiry, matching
// the memcached cas command's fresh-expiry semantics.
// Returns 1 stored, -1 conflict, -2 missing.
var casSwap = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then return -2 end
if cur ~= ARGV[1] then return -1 end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// casSwapKeepTTL is casSwap preserving the key's remaining TTL, for
// append/prepend which must not disturb expiry.
var casSwapKeepTTL = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then return -2 end
if cur ~= ARGV[1] then return -1 end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// casDelete removes the key only when it still equals ARGV[1].
// Returns 1 deleted, -1 conflict, -2 missing.
var casDelete = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then return -2 end
if cur ~= ARGV[1] then return -1 end
redis.call('DEL', KEYS[1])
return 1
`)

// counter implements memcached counter semantics over a bare decimal:
// ARGV[1] signed delta, ARGV[2] optional seed ('' = none), ARGV[3] seed
// expiry in milliseconds. Absent key without a seed is a miss (nil).
// Results floor at zero. An existing counter keeps its remaining TTL.
var counter = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
  if ARGV[2] == '' then return false end
  if tonumber(ARGV[3]) > 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  else
    redis.call('SET', KEYS[1], ARGV[2])
  end
  return ARGV[2]
end
local n = tonumber(cur)
if n == nil then
  return redis.error_reply('cannot increment or decrement non-numeric value')
end
n = n + tonumber(ARGV[1])
if n < 0 then n = 0 end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], tostring(n), 'PX', ttl)
else
  redis.call('SET', KEYS[1], tostring(n))
end
return tostring(n)
`)

// relativeExpiryCap is the memcached family convention: expirations up
// to 30 days are relative seconds, larger values are absolute unix
// timestamps.
const relativeExpiryCap = 60 * 60 * 24 * 30

func expiry(exp int32) time.Duration {
	switch {
	case exp <= 0:
		return 0
	case exp > relativeExpiryCap:
		d := time.Until(time.Unix(int64(exp), 0))
		if d <= 0 {
			return time.Millisecond // already past, expire at once
		}
		return d
	default:
		return time.Duration(exp) * time.Second
	}
}

func expiryMS(exp int32) int64 {
	return int64(expiry(exp) / time.Millisecond)
}

// unframe splits a stored blob into (flags, payload). Blobs without the
// envelope read as flag-less raw bytes.
func unframe(key string, b []byte) *driver.Item {
	flags, payload, err := wire.DecodeValue(b)
	if err != nil {
		return &driver.Item{Key: key, Value: b}
	}
	return &driver.Item{Key: key, Value: payload, Flags: flags}
}

func (c *Conn) Get(ctx context.Context, key string) (*driver.Item, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, driver.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return unframe(key, b), nil
}

func (c *Conn) GetMulti(ctx context.Context, keys []string) (map[string]*driver.Item, error) {
	if len(keys) == 0 {
		return map[string]*driver.Item{}, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*driver.Item, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // nil slot: absent keys are omitted
		}
		out[keys[i]] = unframe(keys[i], []byte(s))
	}
	return out, nil
}

func (c *Conn) Gets(ctx context.Context, key string) (*driver.Item, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, driver.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	it := unframe(key, b)
	it.Token = b // raw stored blob, compare target for the cas scripts
	return it, nil
}

func (c *Conn) Set(ctx context.Context, it *driver.Item) error {
	return c.rdb.Set(ctx, it.Key, wire.EncodeValue(it.Flags, it.Value), expiry(it.Expiration)).Err()
}

func (c *Conn) Add(ctx context.Context, it *driver.Item) error {
	ok, err := c.rdb.SetNX(ctx, it.Key, wire.EncodeValue(it.Flags, it.Value), expiry(it.Expiration)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return driver.ErrNotStored
	}
	return nil
}

func (c *Conn) Replace(ctx context.Context, it *driver.Item) error {
	ok, err := c.rdb.SetXX(ctx, it.Key, wire.EncodeValue(it.Flags, it.Value), expiry(it.Expiration)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return driver.ErrNotStored
	}
	return nil
}

// concatRetries bounds the optimistic loops emulating memcached's atomic
// append/prepend over GET plus conditional SET.
const concatRetries = 8

func (c *Conn) Append(ctx context.Context, key string, data []byte) error {
	return c.concat(ctx, key, data, false)
}

func (c *Conn) Prepend(ctx context.Context, key string, data []byte) error {
	return c.concat(ctx, key, data, true)
}

func (c *Conn) concat(ctx context.Context, key string, data []byte, front bool) error {
	for i := 0; i < concatRetries; i++ {
		cur, err := c.rdb.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return driver.ErrNotStored // concat onto nothing is a failed condition
		}
		if err != nil {
			return err
		}

		it := unframe(key, cur)
		var next []byte
		if front {
			next = append(append(make([]byte, 0, len(data)+len(it.Value)), data...), it.Value...)
		} else {
			next = append(append(make([]byte, 0, len(it.Value)+len(data)), it.Value...), data...)
		}

		res, err := casSwapKeepTTL.Run(ctx, c.rdb, []string{key}, cur, wire.EncodeValue(it.Flags, next)).Int64()
		if err != nil {
			return err
		}
		switch res {
		case 1:
			return nil
		case -2:
			return driver.ErrNotStored // vanished since the read
		}
		// lost the swap, read again
	}
	return driver.ErrCASConflict
}

func (c *Conn) CompareAndSwap(ctx context.Context, it *driver.Item) error {
	token, ok := it.Token.([]byte)
	if !ok || token == nil {
		return errForeignToken
	}
	res, err := casSwap.Run(ctx, c.rdb, []string{it.Key},
		token, wire.EncodeValue(it.Flags, it.Value), expiryMS(it.Expiration)).Int64()
	if err != nil {
		return err
	}
	switch res {
	case 1:
		return nil
	case -1:
		return driver.ErrCASConflict
	default:
		return driver.ErrNotStored // entry vanished since the gets
	}
}

func (c *Conn) Incr(ctx context.Context, key string, delta uint64, init *uint64, expiration int32) (uint64, error) {
	return c.adjust(ctx, key, strconv.FormatUint(delta, 10), init, expiration)
}

func (c *Conn) Decr(ctx context.Context, key string, delta uint64, init *uint64, expiration int32) (uint64, error) {
	return c.adjust(ctx, key, "-"+strconv.FormatUint(delta, 10), init, expiration)
}

func (c *Conn) adjust(ctx context.Context, key, delta string, init *uint64, expiration int32) (uint64, error) {
	seed := ""
	if init != nil {
		seed = strconv.FormatUint(*init, 10)
	}
	res, err := counter.Run(ctx, c.rdb, []string{key}, delta, seed, expiryMS(expiration)).Text()
	if err == goredis.Nil {
		return 0, driver.ErrCacheMiss
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(res, 10, 64)
}

func (c *Conn) Delete(ctx context.Context, key string, token driver.Token) error {
	if token == nil {
		n, err := c.rdb.Del(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return driver.ErrCacheMiss
		}
		return nil
	}

	tb, ok := token.([]byte)
	if !ok {
		return errForeignToken
	}
	res, err := casDelete.Run(ctx, c.rdb, []string{key}, tb).Int64()
	if err != nil {
		return err
	}
	switch res {
	case 1:
		return nil
	case -1:
		return driver.ErrCASConflict
	default:
		return driver.ErrCacheMiss
	}
}

func (c *Conn) Touch(ctx context.Context, key string, expiration int32) error {
	if expiration <= 0 {
		// touch to "never expires": drop the TTL if the key is there
		n, err := c.rdb.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return driver.ErrCacheMiss
		}
		return c.rdb.Persist(ctx, key).Err()
	}
	ok, err := c.rdb.PExpire(ctx, key, expiry(expiration)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return driver.ErrCacheMiss
	}
	return nil
}

// Stats surfaces INFO as a single-server stats map. Field names follow
// redis, not memcached; callers reading specific keys branch on the
// backend anyway.
func (c *Conn) Stats(ctx context.Context) (map[string]map[string]string, error) {
	text, err := c.rdb.Info(ctx).Result()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	return map[string]map[string]string{"redis": fields}, nil
}

func (c *Conn) FlushAll(ctx context.Context) error {
	return c.rdb.FlushAll(ctx).Err()
}

// Close releases the underlying redis client only when this driver owns
// it. Safe to call multiple times; repeated calls become no-ops.
func (c *Conn) Close() error {
	if c.closeClient {
		if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
