package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when creating a dataset or volume whose
	// name is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a named dataset or volume is absent.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when a service attempts to push a volume it
	// does not own.
	ErrNotOwner = errors.New("not the volume owner")

	// ErrUnknownSnapshot is returned when a send names a base snapshot the
	// origin does not have.
	ErrUnknownSnapshot = errors.New("unknown snapshot")

	// ErrBaseMismatch is returned when an incremental stream declares a base
	// snapshot the receiving dataset does not contain.
	ErrBaseMismatch = errors.New("base snapshot mismatch")

	// ErrBusy is returned when an operation on a volume is rejected because
	// another operation on the same volume is underway.
	ErrBusy = errors.New("volume busy")

	// ErrTransport marks any transport-level failure: connect, stream I/O,
	// or a non-zero remote exit status.
	ErrTransport = errors.New("transport failure")
)

// TransportError wraps a failure from the replication transport with the
// operation that produced it. It matches ErrTransport under errors.Is.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsAlreadyExists reports whether err is a name-collision error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsNotFound reports whether err is a missing-name error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBusy reports whether err is a concurrent-operation rejection.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }
