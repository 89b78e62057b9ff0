// Package apperr defines the error kinds shared by the vault engine and its surfaces.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrAlreadyExists         = errors.New("already exists")
	ErrNotADirectory         = errors.New("not a directory")
	ErrVaultNotInitialized   = errors.New("vault not initialized")
	ErrFileTooLarge          = errors.New("file too large")
	ErrInvalidPath           = errors.New("invalid path")
	ErrCriticalInconsistency = errors.New("critical inconsistency")
)

// ErrFileNotFound is the file-level spelling of ErrNotFound.
var ErrFileNotFound = ErrNotFound

// PathError attaches a path to one of the sentinel kinds above.
type PathError struct {
	Kind error
	Path string
}

// NewPathError returns a PathError for kind at path.
func NewPathError(kind error, path string) *PathError {
	return &PathError{Kind: kind, Path: path}
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

func (e *PathError) Unwrap() error { return e.Kind }

// FileTooLargeError reports a file that exceeds the parse size ceiling.
type FileTooLargeError struct {
	Path string
	Size int64
	Max  int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file too large: %s (%d bytes, max %d)", e.Path, e.Size, e.Max)
}

func (e *FileTooLargeError) Unwrap() error { return ErrFileTooLarge }

// CriticalError is returned when a failed transaction could not be rolled
// back. The vault may be inconsistent and needs operator attention.
type CriticalError struct {
	TxID     string
	Cause    error
	Rollback []error
}

func (e *CriticalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "critical inconsistency in tx %s: %v", e.TxID, e.Cause)
	for _, err := range e.Rollback {
		fmt.Fprintf(&b, "; rollback: %v", err)
	}
	return b.String()
}

// Unwrap exposes the sentinel, the original cause and every rollback failure.
func (e *CriticalError) Unwrap() []error {
	out := make([]error, 0, len(e.Rollback)+2)
	out = append(out, ErrCriticalInconsistency, e.Cause)
	return append(out, e.Rollback...)
}
