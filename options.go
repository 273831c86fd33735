package memcx

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/memcx/driver"
	"github.com/unkn0wn-root/memcx/transcode"
)

// Protocol selects the wire dialect of the bundled memcached driver.
type Protocol string

const (
	// ProtocolText is the memcached ASCII protocol (the default).
	ProtocolText Protocol = "text"
	// ProtocolBinary is the deprecated memcached binary protocol. The
	// bundled driver does not speak it; asking for it fails New.
	ProtocolBinary Protocol = "binary"
	// ProtocolKestrel talks to kestrel queue servers, which speak the
	// text dialect with queue semantics server-side.
	ProtocolKestrel Protocol = "kestrel"
)

// HashStrategy selects how keys map to servers in the bundled driver.
type HashStrategy string

const (
	// HashConsistent is a hash ring with virtual nodes (the default).
	HashConsistent HashStrategy = "consistent"
	// HashStandard is the underlying client's modulo placement.
	HashStandard HashStrategy = "standard"
	// HashPHP mirrors the php memcache extension's placement, for fleets
	// shared with php code.
	HashPHP HashStrategy = "php"
)

// Options tune the client. Only Servers or Conn is required; everything
// else has defaults. Misconfiguration fails New loudly instead of being
// ignored.
type Options struct {
	// Servers for the bundled memcached driver, "host:port" or unix
	// socket paths. Mutually exclusive with Conn.
	Servers []string

	// Conn plugs in a prebuilt driver (driver/memcache with a custom
	// selector, driver/redis, or your own). Driver knobs below
	// (Protocol, Hash, PoolSize, Timeout, Heartbeat*) configure the
	// bundled driver only and must stay zero when Conn is set.
	Conn driver.Conn

	// CloseConn hands ownership of Conn to the client: Close releases
	// it. A client built from Servers always owns its driver.
	CloseConn bool

	// Name tags this client's log lines. Purely cosmetic.
	Name string

	// Protocol of the bundled driver. Default ProtocolText.
	Protocol Protocol

	// Hash strategy of the bundled driver. Default HashConsistent.
	Hash HashStrategy

	// PoolSize caps idle connections per server. 0 keeps the driver's
	// default.
	PoolSize int

	// Timeout is the per-operation socket timeout. 0 keeps the driver's
	// default.
	Timeout time.Duration

	// SanitizeKeys rewrites keys so any string becomes legal on the
	// wire: reserved bytes are escaped, overlong keys keep a readable
	// prefix plus a short hash. When false, bad keys fail the operation
	// with driver.ErrMalformedKey.
	SanitizeKeys bool

	// DisableReconnect is advisory. Both bundled drivers re-dial dead
	// connections on demand and cannot be told not to; setting this only
	// records the intent in the logs at construction.
	DisableReconnect bool

	// Heartbeat runs a background ping loop in the bundled driver.
	// Failures reach Hooks.HeartbeatError and the Logger.
	Heartbeat bool

	// HeartbeatInterval paces the loop. 0 with Heartbeat set means 30s.
	HeartbeatInterval time.Duration

	// Transcoder overrides the value pipeline. Default is the msgpack
	// pipeline; transcode.NewJSONPipeline gives the textual variant.
	Transcoder transcode.Transcoder

	// CompressThreshold rewrites the pipeline's threshold cell at
	// construction: values whose encoded payload is strictly larger are
	// compressed. The cell is shared, so every pipeline reading it (the
	// process default unless the Transcoder carries its own) follows,
	// existing clients included. 0 leaves the cell untouched.
	CompressThreshold int

	Logger Logger // if nil, logging is disabled
	Hooks  Hooks  // if nil, hooks are disabled
}

func (o *Options) validate() error {
	if o.Conn == nil && len(o.Servers) == 0 {
		return fmt.Errorf("memcx: servers or conn is required")
	}
	if o.Conn != nil {
		if len(o.Servers) > 0 {
			return fmt.Errorf("memcx: servers and conn are mutually exclusive")
		}
		if o.Protocol != "" || o.Hash != "" || o.PoolSize != 0 || o.Timeout != 0 ||
			o.Heartbeat || o.HeartbeatInterval != 0 {
			return fmt.Errorf("memcx: protocol, hash, pool, timeout and heartbeat configure the bundled driver and require servers")
		}
		if o.CompressThreshold < 0 {
			return fmt.Errorf("memcx: compress threshold must be >= 0, got %d", o.CompressThreshold)
		}
		return o.validateTranscoder()
	}

	switch o.Protocol {
	case "", ProtocolText, ProtocolKestrel:
		// kestrel shares the text dialect; nothing to switch client-side
	case ProtocolBinary:
		return fmt.Errorf("memcx: the binary protocol is not supported by the bundled driver; provide Conn")
	default:
		return fmt.Errorf("memcx: unknown protocol %q", o.Protocol)
	}

	switch o.Hash {
	case "", HashConsistent, HashStandard, HashPHP:
	default:
		return fmt.Errorf("memcx: unknown hash strategy %q", o.Hash)
	}

	if o.PoolSize < 0 {
		return fmt.Errorf("memcx: pool size must be >= 0, got %d", o.PoolSize)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("memcx: timeout must be >= 0, got %v", o.Timeout)
	}
	if o.HeartbeatInterval < 0 {
		return fmt.Errorf("memcx: heartbeat interval must be >= 0, got %v", o.HeartbeatInterval)
	}
	if o.CompressThreshold < 0 {
		return fmt.Errorf("memcx: compress threshold must be >= 0, got %d", o.CompressThreshold)
	}
	return o.validateTranscoder()
}

func (o *Options) validateTranscoder() error {
	if o.CompressThreshold > 0 && o.Transcoder != nil {
		if _, ok := o.Transcoder.(*transcode.Pipeline); !ok {
			return fmt.Errorf("memcx: compress threshold applies to the built-in pipeline; the provided transcoder manages its own compression")
		}
	}
	return nil
}
