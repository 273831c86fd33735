// Package memcx is a memcached client facade with pluggable drivers,
// value transcoding and compare-and-swap helpers. Values round-trip as
// Go types; the flags word records how each one was encoded so readers
// never guess.
//
// Components:
//   - driver.Conn: protocol operations over raw bytes plus flags
//     (bundled: memcached text protocol, Redis with a value envelope).
//   - transcode.Pipeline: type tagging, serialization (msgpack, JSON,
//     CBOR, protobuf) and size-gated compression.
//   - Client: the operation facade. Package-level functions resolve a
//     client from the context (Bind) or the process default (SetDefault).
//
// Handle resolution:
//
//	c, _ := memcx.New(memcx.Options{Servers: []string{"127.0.0.1:11211"}})
//	memcx.SetDefault(c)
//	v, ok, err := memcx.Get(ctx, "user:42")
//
// CAS pattern:
//
//	_, err := c.CAS(ctx, "cart:42", func(cur any, ok bool) (any, error) {
//		items := asCart(cur, ok) // fresh snapshot every attempt
//		items = append(items, sku)
//		return items, nil
//	}, memcx.MaxAttempts(8))
package memcx
