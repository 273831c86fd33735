package memcx

import (
	"errors"
	"fmt"
)

// ErrNoClient is returned by the package-level operations when the
// context carries no binding and no process default is installed.
var ErrNoClient = errors.New("memcx: no client bound")

// ErrCASConflict is the errors.Is target for *CASConflictError.
var ErrCASConflict = errors.New("memcx: cas attempts exhausted")

// CASConflictError reports a bounded CAS loop that ran out of attempts
// without winning a write.
type CASConflictError struct {
	Key      string
	Attempts int
}

func (e *CASConflictError) Error() string {
	return fmt.Sprintf("memcx: cas on %q lost after %d attempts", e.Key, e.Attempts)
}

func (e *CASConflictError) Is(target error) bool { return target == ErrCASConflict }
