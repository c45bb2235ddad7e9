package modelcache

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad indicates the remote fetch failed, the identifier is invalid,
	// or authentication was rejected.
	ErrLoad = errors.New("model load failed")

	// ErrCorruptCache indicates a cache directory carries a checkpoint marker
	// but the remaining artifacts are missing or unreadable.
	ErrCorruptCache = errors.New("corrupt model cache")

	// ErrFilesystem indicates the cache directory could not be created or modified.
	ErrFilesystem = errors.New("model cache filesystem error")
)

// Backend conditions the loader must not mistake for corruption.
var (
	// ErrVariantNotCached indicates the cache holds a checkpoint, but not the
	// variant the options ask for. The missing variant is fetched into the
	// existing directory.
	ErrVariantNotCached = errors.New("requested model variant not cached")

	// ErrBackendUnavailable indicates the backend's runtime could not be
	// initialised, so nothing on disk can be judged.
	ErrBackendUnavailable = errors.New("model backend unavailable")
)

// Retry classification for remote fetch failures.
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, 5xx from the hub.
	ErrRecoverable = errors.New("recoverable fetch error")

	// ErrFatal indicates a failure that will not succeed if retried.
	// Examples: unknown repository, rejected token, refused remote code.
	ErrFatal = errors.New("fatal fetch error")
)

// LoadError reports a failed acquisition from the remote source.
type LoadError struct {
	ModelID  string
	Revision string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s@%s: %v", e.ModelID, revisionLabel(e.Revision), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// CorruptCacheError reports a populated cache directory whose artifacts can't be read.
type CorruptCacheError struct {
	Dir    string
	Marker string
	Err    error
}

func (e *CorruptCacheError) Error() string {
	return fmt.Sprintf("corrupt cache %s (marker %s): %v", e.Dir, e.Marker, e.Err)
}

func (e *CorruptCacheError) Unwrap() error { return e.Err }

func (e *CorruptCacheError) Is(target error) bool { return target == ErrCorruptCache }

// FilesystemError reports a failed filesystem operation on the cache.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

func (e *FilesystemError) Is(target error) bool { return target == ErrFilesystem }

// RetryableError wraps an underlying error with retry classification.
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message != "" {
		if e.Underlying != nil {
			return e.Message + ": " + e.Underlying.Error()
		}
		return e.Message
	}
	return e.Underlying.Error()
}

func (e *RetryableError) Unwrap() []error {
	class := ErrFatal
	if e.Retryable {
		class = ErrRecoverable
	}
	if e.Underlying == nil {
		return []error{class}
	}
	return []error{class, e.Underlying}
}

// NewRecoverableError creates a recoverable error with context.
func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  true,
		Message:    message,
	}
}

// NewFatalError creates a fatal error with context.
func NewFatalError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  false,
		Message:    message,
	}
}

// IsRecoverable checks if an error is recoverable and should be retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func revisionLabel(revision string) string {
	if revision == "" {
		return "default"
	}
	return revision
}
