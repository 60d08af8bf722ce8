package apperrors

import "fmt"

// ErrBackendUnavailable represents a transient I/O failure on a specific cache tier.
type ErrBackendUnavailable struct {
	Tier string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *ErrBackendUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s tier unavailable during %s: %v", e.Tier, e.Op, e.Err)
	}
	return fmt.Sprintf("%s tier unavailable during %s", e.Tier, e.Op)
}

// Is allows for error checking with errors.Is().
func (e *ErrBackendUnavailable) Is(target error) bool {
	_, ok := target.(*ErrBackendUnavailable)
	return ok
}

// Unwrap returns the underlying backend error.
func (e *ErrBackendUnavailable) Unwrap() error {
	return e.Err
}

// NewBackendUnavailableError creates a new ErrBackendUnavailable.
func NewBackendUnavailableError(tier, op string, err error) *ErrBackendUnavailable {
	return &ErrBackendUnavailable{
		Tier: tier,
		Op:   op,
		Err:  err,
	}
}

// ErrSerializationFailure is returned when a value could not be encoded by the codec.
type ErrSerializationFailure struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *ErrSerializationFailure) Error() string {
	return fmt.Sprintf("failed to serialize value for key %q: %v", e.Key, e.Err)
}

// Is allows for error checking with errors.Is().
func (e *ErrSerializationFailure) Is(target error) bool {
	_, ok := target.(*ErrSerializationFailure)
	return ok
}

// Unwrap returns the underlying codec error.
func (e *ErrSerializationFailure) Unwrap() error {
	return e.Err
}

// ErrCorruptEntry is returned when a stored entry could not be decoded.
// Readers treat it as a miss, not a fatal error.
type ErrCorruptEntry struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *ErrCorruptEntry) Error() string {
	return fmt.Sprintf("corrupt cache entry for key %q: %v", e.Key, e.Err)
}

// Is allows for error checking with errors.Is().
func (e *ErrCorruptEntry) Is(target error) bool {
	_, ok := target.(*ErrCorruptEntry)
	return ok
}

// Unwrap returns the underlying decode error.
func (e *ErrCorruptEntry) Unwrap() error {
	return e.Err
}
