package documents

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a request of the same kind is already in flight.
	ErrBusy = errors.New("request already in progress")
	// ErrUnknownDocument is returned for an id not in the local collection.
	ErrUnknownDocument = errors.New("document not found")
	// ErrNotConfirmed is returned when the user declined a delete.
	ErrNotConfirmed = errors.New("delete not confirmed")
	// ErrUnsupportedType is returned for files outside the accepted kinds.
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("file is empty")
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrClosed          = errors.New("synchronizer closed")
)

// ResourceError reports a failed list, upload or delete. It is transient;
// the user retries by issuing the action again.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s documents: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
