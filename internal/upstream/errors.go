package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers connect, timeout and transport failures talking to
	// the debug endpoint. The poll loop retries these.
	ErrUnreachable = errors.New("upstream unreachable")

	// ErrProtocol means the endpoint answered but the payload was unusable
	ErrProtocol = errors.New("upstream protocol error")
)

// Error is returned by every Client call that fails
type Error struct {
	Kind error  // ErrUnreachable or ErrProtocol
	Op   string // "fetch targets", "fetch version", ...
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
