// Package blob defines the versioned blob store the navigation document is
// persisted in. Every write is conditioned on the version the writer read,
// which is the only mutual exclusion between concurrent editors.
package blob

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrTransport       = errors.New("store transport error")
	// ErrUnauthorized means the store refused the credential a request was
	// made with. Retrying with the same credential cannot succeed.
	ErrUnauthorized = errors.New("store credential rejected")
)

// ConflictError is returned when the expected version is no longer current.
type ConflictError struct {
	Path     string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %q, current %q", e.Path, e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Blob is a document together with the version token it was read at.
type Blob struct {
	Content []byte
	Version string
}

// Author identifies who a write is made on behalf of. Token is the caller's
// credential for stores that commit as the caller.
type Author struct {
	Name  string
	Email string
	Token string
}

// WriteRequest is a conditional write. An empty ExpectedVersion means the
// blob must not exist yet.
type WriteRequest struct {
	Path            string
	Content         []byte
	ExpectedVersion string
	Message         string
	Author          Author
}

type Store interface {
	Read(ctx context.Context, path string) (Blob, error)
	Write(ctx context.Context, req WriteRequest) (string, error)
}

// Transportf wraps a backend failure as ErrTransport, keeping the cause.
func Transportf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, fmt.Sprintf(format, args...), err)
}
