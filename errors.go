package querycache

import (
	"errors"
	"fmt"
)

var (
	ErrClosed            = errors.New("querycache: cache is closed")
	ErrNamespaceRequired = errors.New("querycache: namespace is required")
	ErrFetchRequired     = errors.New("querycache: fetch function is required")
	ErrTypeMismatch      = errors.New("querycache: cached value has unexpected type")
)

// ErrorInfo describes a failed fetch as seen by observers.
// Message is the human-readable text of the underlying error.
type ErrorInfo struct {
	Message string
	Err     error
}

func newErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	// only a bare *ErrorInfo is reused; wrapping text must survive
	if ei, ok := err.(*ErrorInfo); ok {
		return ei
	}
	return &ErrorInfo{Message: err.Error(), Err: err}
}

func (e *ErrorInfo) Error() string { return e.Message }

func (e *ErrorInfo) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PanicError wraps a value recovered from a panicking fetch function.
type PanicError struct {
	Namespace string
	Key       string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fetch %s/%s panicked: %v", e.Namespace, e.Key, e.Value)
}
