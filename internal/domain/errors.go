package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidRange = errors.New("invalid range")
	ErrStorage      = errors.New("storage failure")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RangeError is returned when a time window has start after end.
type RangeError struct {
	Start int64
	End   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range: startTime %d is after endTime %d", e.Start, e.End)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// StorageError wraps a failure of the durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NotFoundError carries the kind and key of the missing record.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CheckRange returns a *RangeError when start > end.
func CheckRange(start, end int64) error {
	if start > end {
		return &RangeError{Start: start, End: end}
	}
	return nil
}
