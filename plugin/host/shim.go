// Package host implements the callback shim between the extender and the
// host application.
//
// Every host operation goes through Shim.Invoke, which checks that a host is
// attached, that the host exposes the operation and that the arguments fit
// the Operations table. A host that lacks an operation, or rejects it as not
// implemented in its version, always surfaces as UnsupportedOperationError.
// Nothing is retried.
package host

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrHostUnavailable is returned when no host callbacks are attached.
	ErrHostUnavailable = errors.New("host callbacks unavailable")

	// ErrAlreadyAttached is returned when attaching host callbacks twice.
	ErrAlreadyAttached = errors.New("host callbacks already attached")

	// ErrUnsupportedOperation matches every UnsupportedOperationError.
	ErrUnsupportedOperation = errors.New("operation not available in this host version")

	// ErrInvalidArguments is returned when arguments do not fit an operation.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrUnexpectedResult is returned when the host returns a value of an
	// unexpected type.
	ErrUnexpectedResult = errors.New("unexpected result from host")
)

// UnsupportedOperationError is returned when the host does not provide an
// operation.
type UnsupportedOperationError struct {
	Op string
	// Err is the error returned by the host, if any.
	Err error
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s() not available in this host version", e.Op)
}

// Is makes errors.Is(err, ErrUnsupportedOperation) match.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation //nolint:errorlint
}

func (e *UnsupportedOperationError) Unwrap() error {
	return e.Err
}

// Shim validates and delegates calls to the host callbacks.
type Shim struct {
	lock      sync.RWMutex
	callbacks Callbacks
}

// NewShim returns a shim with callbacks attached. A nil callbacks value
// leaves the shim detached.
func NewShim(callbacks Callbacks) *Shim {
	return &Shim{callbacks: callbacks}
}

// Attach attaches the host callbacks. It may only be called once.
func (s *Shim) Attach(callbacks Callbacks) error {
	if callbacks == nil {
		return ErrHostUnavailable
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.callbacks != nil {
		return ErrAlreadyAttached
	}
	s.callbacks = callbacks
	return nil
}

// Attached returns whether host callbacks are attached.
func (s *Shim) Attached() bool {
	if s == nil {
		return false
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.callbacks != nil
}

// Supports returns whether the host exposes the operation.
func (s *Shim) Supports(op string) bool {
	if s == nil {
		return false
	}

	s.lock.RLock()
	cb := s.callbacks
	s.lock.RUnlock()

	return cb != nil && cb.Has(op)
}

// Invoke calls the named host operation and returns its result unchanged.
func (s *Shim) Invoke(op string, args ...any) (any, error) {
	if s == nil {
		return nil, ErrHostUnavailable
	}

	s.lock.RLock()
	cb := s.callbacks
	s.lock.RUnlock()

	if cb == nil {
		return nil, ErrHostUnavailable
	}
	if !cb.Has(op) {
		return nil, &UnsupportedOperationError{Op: op}
	}
	if spec, ok := Operations[op]; ok && !spec.Accepts(len(args)) {
		return nil, fmt.Errorf("%s: %w: got %d arguments", op, ErrInvalidArguments, len(args))
	}

	result, err := cb.Invoke(op, args...)
	if err != nil {
		if errors.Is(err, ErrNotImplemented) {
			return nil, &UnsupportedOperationError{Op: op, Err: err}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// call invokes op and discards the result.
func (s *Shim) call(op string, args ...any) error {
	_, err := s.Invoke(op, args...)
	return err
}

// invokeAs invokes op and asserts the result type. A nil result yields the
// zero value.
func invokeAs[T any](s *Shim, op string, args ...any) (T, error) {
	var zero T

	result, err := s.Invoke(op, args...)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w: %T", op, ErrUnexpectedResult, result)
	}
	return typed, nil
}
