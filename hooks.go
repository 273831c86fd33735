package memcx

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The client calls them on hot paths; wrap slow sinks with hooks/async.
type Hooks interface {
	// A CAS round was lost to another writer and will be retried.
	CASRetry(key string, attempt int)

	// A bounded CAS loop gave up after exhausting its attempts.
	CASExhausted(key string, attempts int)

	// Stored bytes could not be decoded back into a value.
	// The error is a *transcode.DecodeError or *transcode.CompressionError.
	DecodeFailure(key string, err error)

	// A lease was requested while another holder had it.
	LockContended(key string)

	// A background heartbeat ping failed.
	HeartbeatError(err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CASRetry(string, int)        {}
func (NopHooks) CASExhausted(string, int)    {}
func (NopHooks) DecodeFailure(string, error) {}
func (NopHooks) LockContended(string)        {}
func (NopHooks) HeartbeatError(error)        {}
