package memcx

import (
	"context"
	"time"
)

// emptyValue reports values Through never writes back: misses dressed up
// as values would otherwise pin the cache.
func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []byte:
		return len(t) == 0
	}
	return false
}

// Through returns the cached value under key, or runs loader and caches
// its result with Add. Add keeps concurrent loaders from clobbering each
// other: the first write wins and the rest return their own loaded
// value. Empty results (nil, "", empty []byte) are returned but never
// stored.
func (c *Client) Through(ctx context.Context, key string, ttl time.Duration, loader func() (any, error)) (any, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}

	loaded, err := loader()
	if err != nil {
		return nil, err
	}
	if emptyValue(loaded) {
		return loaded, nil
	}

	if _, err := c.Add(ctx, key, loaded, ttl); err != nil {
		return nil, err
	}
	return loaded, nil
}
