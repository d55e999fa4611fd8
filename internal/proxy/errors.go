package proxy

import (
	"errors"
	"fmt"

	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

var (
	// ErrNoTarget refuses a client before any target path is known
	ErrNoTarget = errors.New("no target path available yet")

	// ErrRelay ends one relay session (upstream dial or transport failure)
	ErrRelay = errors.New("relay failed")

	// ErrListenerBind means a category port could not be bound
	ErrListenerBind = errors.New("listener bind failed")
)

// BindError reports which category failed to bind and why
type BindError struct {
	Category target.Category
	Addr     string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s proxy cannot listen on %s: %v (is another proxy or debugger already using the port?)",
		e.Category, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func (e *BindError) Is(target error) bool {
	return target == ErrListenerBind
}
