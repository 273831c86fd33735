// Package driver defines the connection abstraction the memcx client
// speaks to. Everything above it (transcoding, coordination, handle
// resolution) is backend-agnostic; everything below it is one concrete
// network client.
//
// Implementations MUST be byte-for-byte transparent: Get must return
// exactly the Value and Flags previously stored for a key, with no
// prepended/appended metadata, no re-encoding, no mutation. Backends
// lacking a native flags sidecar carry the flags in a private envelope,
// fully stripped before the bytes come back out.
//
// Absences and failed store conditions surface as the sentinel errors
// below so callers can branch on them; transport and server errors pass
// through unmodified.
package driver

import (
	"context"
	"errors"
)

// Token is an opaque compare-and-swap token. Its concrete type belongs
// to the driver that produced it; callers only carry it from Gets to
// CompareAndSwap or Delete on the same driver.
type Token any

// Item is one cache entry in driver terms.
type Item struct {
	Key   string
	Value []byte

	// Flags is the 32-bit word stored alongside the value.
	Flags uint32

	// Expiration is in seconds. 0 means no expiry. The server reads
	// values above 30 days as absolute unix timestamps.
	Expiration int32

	// Token is populated by Gets and consumed by CompareAndSwap.
	Token Token
}

var (
	// ErrCacheMiss means the key was not found.
	ErrCacheMiss = errors.New("memcx: cache miss")

	// ErrNotStored means a conditional store's condition failed: Add on a
	// present key, or Replace/Append/Prepend on an absent one.
	ErrNotStored = errors.New("memcx: item not stored")

	// ErrCASConflict means the entry changed between Gets and
	// CompareAndSwap.
	ErrCASConflict = errors.New("memcx: compare-and-swap conflict")

	// ErrNotSupported means this driver cannot express the operation.
	ErrNotSupported = errors.New("memcx: operation not supported by driver")

	// ErrNoServers means no server is configured or reachable.
	ErrNoServers = errors.New("memcx: no servers configured")

	// ErrMalformedKey means the key contains bytes the protocol forbids,
	// or is too long.
	ErrMalformedKey = errors.New("memcx: malformed key")
)

// Conn is the operation surface of one backend connection (usually a
// pool under the hood). Implementations must be safe for concurrent use.
type Conn interface {
	Get(ctx context.Context, key string) (*Item, error)

	// GetMulti returns the found subset keyed by Item.Key. Absent keys
	// are omitted, never an error.
	GetMulti(ctx context.Context, keys []string) (map[string]*Item, error)

	// Gets is Get with the item's Token populated.
	Gets(ctx context.Context, key string) (*Item, error)

	Set(ctx context.Context, it *Item) error
	Add(ctx context.Context, it *Item) error
	Replace(ctx context.Context, it *Item) error

	// Append and Prepend concatenate raw bytes onto an existing value.
	// The stored flags are left as they are.
	Append(ctx context.Context, key string, data []byte) error
	Prepend(ctx context.Context, key string, data []byte) error

	// CompareAndSwap stores it.Value only if the entry is unchanged since
	// the Gets that produced it.Token.
	CompareAndSwap(ctx context.Context, it *Item) error

	// Incr adjusts the ASCII decimal counter at key by delta. With a nil
	// init an absent key fails with ErrCacheMiss; otherwise the counter
	// is seeded with *init (delta is not applied to the seed) and the
	// given expiry.
	Incr(ctx context.Context, key string, delta uint64, init *uint64, expiration int32) (uint64, error)

	// Decr is Incr's negative twin. Counters floor at zero instead of
	// wrapping.
	Decr(ctx context.Context, key string, delta uint64, init *uint64, expiration int32) (uint64, error)

	// Delete removes the entry. A non-nil token makes the delete
	// conditional on the entry being unchanged since the Gets that
	// produced it; drivers unable to express that return ErrNotSupported.
	Delete(ctx context.Context, key string, token Token) error

	// Touch resets the entry's expiry without reading it.
	Touch(ctx context.Context, key string, expiration int32) error

	// Stats returns per-server statistic maps keyed by server address.
	Stats(ctx context.Context) (map[string]map[string]string, error)

	// FlushAll expires every entry on every server.
	FlushAll(ctx context.Context) error

	Close() error
}
