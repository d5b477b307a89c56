package output

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned by ParseOptions. It is fatal: the
	// output can't start without a valid Config.
	ErrInvalidConfiguration = errors.New("invalid output configuration")
	// ErrFieldResolution marks a record that can't be turned into a write.
	// These records are skipped, never retried.
	ErrFieldResolution = errors.New("can't resolve record field")
	// ErrStoreWrite marks a batch that didn't reach Redis. The caller
	// should retry the whole batch.
	ErrStoreWrite = errors.New("can't write the batch to redis")
)

// FieldResolutionError names the option whose path didn't resolve.
type FieldResolutionError struct {
	Option string // e.g. "value_name"
	Path   string
	Reason string
}

func (e *FieldResolutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v %q: %v", e.Option, e.Path, e.Reason)
	}
	return fmt.Sprintf("%v %q not found in the record", e.Option, e.Path)
}

// Is lets callers match any resolution failure with errors.Is.
func (e *FieldResolutionError) Is(target error) bool {
	return target == ErrFieldResolution
}

// StoreWriteError wraps the transport or protocol failure that prevented a
// batch from being written.
type StoreWriteError struct {
	Records int
	Err     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("can't write %v records to redis: %v", e.Records, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Is lets callers match any store write failure with errors.Is.
func (e *StoreWriteError) Is(target error) bool {
	return target == ErrStoreWrite
}

// TrimError describes a failed trim. The write it followed has already
// been applied.
type TrimError struct {
	Key string
	Err error
}

func (e *TrimError) Error() string {
	return fmt.Sprintf("can't trim %q: %v", e.Key, e.Err)
}

func (e *TrimError) Unwrap() error { return e.Err }

// invalid formats an ErrInvalidConfiguration.
func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
