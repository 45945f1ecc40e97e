package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a package or version is not found.
	ErrNotFound = errors.New("not found")

	// ErrManifestUnavailable is returned when a feed knows a version but
	// has no file list for it.
	ErrManifestUnavailable = errors.New("package manifest unavailable")

	ErrInvalidVersion   = errors.New("invalid version")
	ErrInvalidSpecifier = errors.New("invalid version specifier")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Feed    string
	Package string
	Spec    string
}

func (e *NotFoundError) Error() string {
	if e.Spec != "" {
		return fmt.Sprintf("%s: package %s matching version %q not found", e.Feed, e.Package, e.Spec)
	}
	return fmt.Sprintf("%s: package %s not found", e.Feed, e.Package)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
