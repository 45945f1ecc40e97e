package deploy

import (
	"errors"
	"fmt"
)

// ErrInvalidOptions is returned for a request that cannot be run, such as
// one with neither a registry check nor a file comparison.
var ErrInvalidOptions = errors.New("invalid deployment options")

// ReconcileError is a file operation that failed while placing a package.
type ReconcileError struct {
	Op   string
	Path string
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}
