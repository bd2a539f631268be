package querycache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths, never while holding its lock.
type Hooks interface {
	// A new fetch was issued for the entry; token is the issuance token.
	FetchIssued(namespace, key string, token uint64)

	// An observer joined a fetch that was already in flight.
	FetchAttached(namespace, key string, token uint64)

	// A current (non-superseded) fetch completed. err is nil on success.
	FetchSettled(namespace, key string, token uint64, took time.Duration, err error)

	// A completion arrived for a superseded token and was dropped.
	StaleDiscarded(namespace, key string, token, current uint64)

	// The fetch function panicked; the panic was converted into a failure.
	FetchPanicked(namespace, key string, recovered any)

	// The sweeper removed an unobserved entry.
	EntryEvicted(namespace, key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchIssued(string, string, uint64)                        {}
func (NopHooks) FetchAttached(string, string, uint64)                      {}
func (NopHooks) FetchSettled(string, string, uint64, time.Duration, error) {}
func (NopHooks) StaleDiscarded(string, string, uint64, uint64)             {}
func (NopHooks) FetchPanicked(string, string, any)                         {}
func (NopHooks) EntryEvicted(string, string)                               {}
