// Package keys validates and rewrites cache keys for the memcached text
// protocol: at most 250 bytes, no whitespace or control characters.
package keys

import (
	"crypto/sha256"
	"fmt"
	"net/url"
)

// MaxLen is the protocol's key length limit.
const MaxLen = 250

// Valid reports whether key is usable as-is: non-empty, at most MaxLen
// bytes, no space, control or DEL bytes.
func Valid(key string) bool {
	if len(key) == 0 || len(key) > MaxLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// Sanitize rewrites key into a form every server in the family accepts.
// Reserved bytes are percent-escaped. Results still over the limit keep
// a readable prefix plus a short hash of the full key, so distinct keys
// stay distinct.
func Sanitize(key string) string {
	k := url.QueryEscape(key)
	if len(k) <= MaxLen {
		return k
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%x", k[:MaxLen-17], sum[:8]) // prefix + ":" + 16 hex chars
}
