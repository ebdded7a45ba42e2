package gpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrCreationFailed matches every *CreationError.
	ErrCreationFailed = errors.New("gpu object creation failed")
	// ErrPoolExhausted marks an allocation miss inside a fixed-size pool or block.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrConfiguration marks caller bugs such as a missing buffer pool or binding.
	ErrConfiguration = errors.New("invalid gpu configuration")
	// ErrSynchronization marks fence waits and resets that failed or timed out.
	ErrSynchronization = errors.New("gpu synchronization failed")
	// ErrNotFound marks lookups of handles the pool never handed out.
	ErrNotFound = errors.New("not found")
	// ErrIncompatibleBlob marks a persisted cache produced by another build or device.
	ErrIncompatibleBlob = errors.New("incompatible cache blob")
)

// CreationError reports a native object the device refused to build.
type CreationError struct {
	Kind    ObjectKind
	Ordinal int
	Err     error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create %s #%d: %v", e.Kind, e.Ordinal, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

func (e *CreationError) Is(target error) bool {
	return target == ErrCreationFailed
}

// Result extracts the native code behind the failure, or ErrorUnknown.
func (e *CreationError) Result() Result {
	var res Result
	if errors.As(e.Err, &res) {
		return res
	}
	return ErrorUnknown
}

// NewCreationError wraps err unless it already carries a CreationError, so
// nested constructions keep the innermost kind and ordinal.
func NewCreationError(kind ObjectKind, ordinal int, err error) error {
	var ce *CreationError
	if errors.As(err, &ce) {
		return err
	}
	return &CreationError{Kind: kind, Ordinal: ordinal, Err: err}
}

// SyncError marks err as a synchronization failure.
func SyncError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrSynchronization)
}

// ConfigError builds a configuration error.
func ConfigError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}
