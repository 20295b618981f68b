// Package errors provides error types and handling for filesystem operations
// performed over an object store.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a filesystem operation error with context about the
// operation that failed.
type Error struct {
	// Op is the operation that failed (e.g., "create", "rename", "uploadPart")
	Op string

	// Path is the filesystem path (if applicable)
	Path string

	// Key is the object key (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Path != "" && e.Key != "" {
		return fmt.Sprintf("objfs.%s %s (key %s): %v", e.Op, e.Path, e.Key, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("objfs.%s %s: %v", e.Op, e.Path, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("objfs.%s key %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("objfs.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the classification of the underlying error.
func (e *Error) Code() ErrorCode {
	return CodeOf(e.Err)
}

// WithPath adds filesystem path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewPathError creates a new Error with path context.
func NewPathError(op, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewKeyError creates a new Error with object key context.
func NewKeyError(op, key string, err error) *Error {
	return &Error{
		Op:  op,
		Key: key,
		Err: err,
	}
}

// Sentinel errors. These can be used with errors.Is() for error checking.
var (
	// ErrInvalidPath indicates a malformed path or one outside the configured root
	ErrInvalidPath = errors.New("objfs: invalid path")

	// ErrStagingIO indicates local scratch storage failed; nothing was sent to the store
	ErrStagingIO = errors.New("objfs: staging i/o failure")

	// ErrNotFound indicates that the requested path or key does not exist
	ErrNotFound = errors.New("objfs: not found")

	// ErrDirectoryNotEmpty indicates a non-recursive delete of a non-empty directory
	ErrDirectoryNotEmpty = errors.New("objfs: directory not empty")

	// ErrTransfer indicates a remote put, copy or part transfer failed
	ErrTransfer = errors.New("objfs: transfer failed")

	// ErrPartialRename indicates the destination was written but the source could not be deleted
	ErrPartialRename = errors.New("objfs: rename copied but source not deleted")

	// ErrAlreadyExists indicates the target path is already occupied
	ErrAlreadyExists = errors.New("objfs: already exists")

	// ErrNotDirectory indicates a file exists where a directory is required
	ErrNotDirectory = errors.New("objfs: not a directory")

	// ErrChecksumMismatch indicates the stored object does not match what was sent
	ErrChecksumMismatch = errors.New("objfs: checksum mismatch")

	// ErrInvalidConfig indicates an unusable configuration value
	ErrInvalidConfig = errors.New("objfs: invalid configuration")
)

// Transfer marks err as a remote transfer failure. It returns nil for nil.
func Transfer(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransfer) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransfer, err)
}

// Staging marks err as a local scratch storage failure. It returns nil for nil.
func Staging(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStagingIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStagingIO, err)
}

// WithAbort reports cause together with the failure to abort a multipart
// session. The cause always comes first and is never replaced.
func WithAbort(cause, abortErr error) error {
	if abortErr == nil {
		return cause
	}
	return errors.Join(cause, fmt.Errorf("abort multipart session: %w", abortErr))
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// IsNotFound checks if an error indicates that a path or key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidPath checks if an error indicates an invalid path.
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath)
}

// IsPartialRename checks if an error indicates a rename that left both objects behind.
func IsPartialRename(err error) bool {
	return errors.Is(err, ErrPartialRename)
}

// IsTransfer checks if an error indicates a remote transfer failure.
func IsTransfer(err error) bool {
	return errors.Is(err, ErrTransfer)
}

// IsDirectoryNotEmpty checks if an error indicates a blocked non-recursive delete.
func IsDirectoryNotEmpty(err error) bool {
	return errors.Is(err, ErrDirectoryNotEmpty)
}

// IsStagingIO checks if an error indicates a local staging failure.
func IsStagingIO(err error) bool {
	return errors.Is(err, ErrStagingIO)
}
