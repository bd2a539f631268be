package querycache

import (
	"context"
	"time"
)

// FetchFunc loads the resource identified by key. It must be safe to call
// more than once with the same key. Timeouts are the FetchFunc's own business;
// ctx is only cancelled when the cache is closed.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// NoKey is the null key: binding to it never fetches.
const NoKey = ""

// Status is the lifecycle state of a cache entry.
type Status uint8

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the untyped view of one entry at a point in time.
type Snapshot struct {
	Status   Status
	Value    any
	HasValue bool
	Err      *ErrorInfo
	Token    uint64
}

// Loading reports whether a fetch for the entry is in flight.
func (s Snapshot) Loading() bool { return s.Status == StatusPending }

// Result is what an observer renders: data, loading flag and error.
// HasData distinguishes "no data" from a zero V.
type Result[V any] struct {
	Data    V
	HasData bool
	Loading bool
	Err     *ErrorInfo
}

func resultOf[V any](s Snapshot) Result[V] {
	r := Result[V]{Loading: s.Loading(), Err: s.Err}
	if !s.HasValue {
		return r
	}
	if s.Value == nil { // fetch returned a nil V
		r.HasData = true
		return r
	}
	v, ok := s.Value.(V)
	if !ok {
		r.Err = newErrorInfo(ErrTypeMismatch)
		return r
	}
	r.Data = v
	r.HasData = true
	return r
}

// Options tune the cache. All fields are optional.
type Options struct {
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// Retention is how long a settled entry without observers is kept after it
	// was last touched. 0 keeps entries for the lifetime of the cache.
	Retention time.Duration
	// SweepInterval is how often unobserved entries are checked; 0 => Retention/2.
	SweepInterval time.Duration

	// BaseContext is the parent of the context handed to every FetchFunc.
	// It is cancelled by Close. nil => context.Background().
	BaseContext context.Context
}

// New creates an isolated cache. Call Close to stop the sweeper and cancel
// in-flight fetches.
func New(opts Options) *Cache {
	return newCache(opts)
}
