package querycache

import (
	"context"
	"errors"
	"sync"
)

var errCacheRequired = errors.New("querycache: cache is required")

// Query is a one-shot get-or-fetch: it returns the current state of
// (namespace, key) and issues fetch when the entry is cold. A NoKey key never
// fetches and yields an empty Result.
func Query[V any](c *Cache, namespace, key string, fetch FetchFunc[V]) Result[V] {
	if key == NoKey || fetch == nil {
		return Result[V]{}
	}
	return resultOf[V](c.acquire(entryKey{namespace, key}, erase(fetch), 0))
}

func erase[V any](fetch FetchFunc[V]) anyFetch {
	return func(ctx context.Context, key string) (any, error) {
		v, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Namespace is a typed handle on one class of resources in a Cache.
type Namespace[V any] struct {
	cache *Cache
	name  string
	fetch anyFetch
}

func NewNamespace[V any](c *Cache, name string, fetch FetchFunc[V]) (*Namespace[V], error) {
	if c == nil {
		return nil, errCacheRequired
	}
	if name == "" {
		return nil, ErrNamespaceRequired
	}
	if fetch == nil {
		return nil, ErrFetchRequired
	}
	return &Namespace[V]{cache: c, name: name, fetch: erase(fetch)}, nil
}

func (n *Namespace[V]) Name() string { return n.name }

func (n *Namespace[V]) Cache() *Cache { return n.cache }

// Get returns the state for key, issuing a fetch when the entry is cold.
func (n *Namespace[V]) Get(key string) Result[V] {
	if key == NoKey {
		return Result[V]{}
	}
	return resultOf[V](n.cache.acquire(entryKey{n.name, key}, n.fetch, 0))
}

// Peek returns the state for key without fetching.
func (n *Namespace[V]) Peek(key string) Result[V] {
	return resultOf[V](n.cache.Peek(n.name, key))
}

// Await is Get followed by waiting until the entry is no longer loading.
// It returns ctx.Err() together with the last seen state if ctx ends first.
func (n *Namespace[V]) Await(ctx context.Context, key string) (Result[V], error) {
	if key == NoKey {
		return Result[V]{}, nil
	}
	changed := make(chan struct{}, 1)
	unsub := n.cache.Subscribe(n.name, key, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	r := n.Get(key)
	for r.Loading {
		select {
		case <-changed:
		case <-ctx.Done():
			return r, ctx.Err()
		}
		r = n.Peek(key)
	}
	return r, nil
}

// Refetch issues a fresh fetch for key even if one is in flight.
func (n *Namespace[V]) Refetch(key string) Result[V] {
	if key == NoKey {
		return Result[V]{}
	}
	ek := entryKey{n.name, key}
	c := n.cache
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result[V]{Err: newErrorInfo(ErrClosed)}
	}
	e := c.entryLocked(ek)
	return resultOf[V](c.reissueLocked(ek, e, n.fetch, true))
}

func (n *Namespace[V]) Invalidate(key string) { n.cache.Invalidate(n.name, key) }

// Observe creates an unbound observer. onChange (may be nil) is called with
// the observer's current Result after every change of the bound entry.
func (n *Namespace[V]) Observe(onChange func(Result[V])) *Observer[V] {
	return &Observer[V]{ns: n, onChange: onChange}
}

// Observer follows one key of a namespace at a time, the way a view follows
// its route parameter.
type Observer[V any] struct {
	ns       *Namespace[V]
	onChange func(Result[V])

	mu    sync.Mutex
	key   string
	unsub func()
	// in-flight tokens this observer walked away from, by key
	abandoned map[string]uint64
	closed    bool
}

// Bind points the observer at key and returns the state to render.
//
// Binding NoKey releases the current entry and never fetches. Binding a new
// key issues a fetch when its entry is cold, or joins one already in flight.
// Rebinding the current key is a plain read unless the entry went idle.
// Coming back to a key whose fetch this observer abandoned mid-flight issues a
// fresh fetch; the abandoned one becomes stale.
func (o *Observer[V]) Bind(key string) Result[V] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return Result[V]{Err: newErrorInfo(ErrClosed)}
	}

	if key != o.key {
		o.leaveLocked()
		o.key = key
		if key != NoKey {
			o.unsub = o.ns.cache.Subscribe(o.ns.name, key, o.notifier(key))
		}
	}
	if key == NoKey {
		return Result[V]{}
	}

	abandoned := o.abandoned[key]
	delete(o.abandoned, key)
	return resultOf[V](o.ns.cache.acquire(entryKey{o.ns.name, key}, o.ns.fetch, abandoned))
}

// Clear is Bind(NoKey).
func (o *Observer[V]) Clear() { o.Bind(NoKey) }

// Key returns the currently bound key (NoKey when unbound).
func (o *Observer[V]) Key() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// Result returns the state of the bound entry without fetching.
func (o *Observer[V]) Result() Result[V] {
	return o.ns.Peek(o.Key())
}

// Close unbinds the observer; later Binds return ErrClosed.
func (o *Observer[V]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leaveLocked()
	o.abandoned = nil
	o.closed = true
}

func (o *Observer[V]) leaveLocked() {
	if o.key == NoKey {
		return
	}
	c := o.ns.cache

	// forget issuances that are no longer in flight
	for k, tok := range o.abandoned {
		if s := c.Peek(o.ns.name, k); s.Status != StatusPending || s.Token != tok {
			delete(o.abandoned, k)
		}
	}
	if s := c.Peek(o.ns.name, o.key); s.Status == StatusPending {
		if o.abandoned == nil {
			o.abandoned = make(map[string]uint64)
		}
		o.abandoned[o.key] = s.Token
	}

	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
	o.key = NoKey
}

func (o *Observer[V]) notifier(key string) func() {
	return func() {
		o.mu.Lock()
		current := !o.closed && o.key == key
		o.mu.Unlock()
		if !current || o.onChange == nil {
			return
		}
		o.onChange(o.ns.Peek(key))
	}
}
