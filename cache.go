package querycache

import (
	"context"
	"sync"
	"time"
)

type anyFetch func(ctx context.Context, key string) (any, error)

type entryKey struct {
	ns  string
	key string
}

type entry struct {
	status   Status
	value    any
	hasValue bool
	err      *ErrorInfo
	token    uint64
	fetch    anyFetch // last fetch used, replayed by Refetch/Invalidate
	touched  time.Time
	subs     map[uint64]func()
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Status:   e.status,
		Value:    e.value,
		HasValue: e.hasValue,
		Err:      e.err,
		Token:    e.token,
	}
}

func (e *entry) subscribers() []func() {
	if len(e.subs) == 0 {
		return nil
	}
	out := make([]func(), 0, len(e.subs))
	for _, fn := range e.subs {
		out = append(out, fn)
	}
	return out
}

// Cache is the process-wide entry map shared by every observer.
// It is safe for concurrent use.
type Cache struct {
	log   Logger
	hooks Hooks

	retention     time.Duration
	sweepInterval time.Duration

	// fetch context; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[entryKey]*entry
	seq     uint64 // token source shared by all entries
	nextSub uint64
	closed  bool

	inflight sync.WaitGroup
	drained  chan struct{} // closed once inflight reaches zero after Close

	// background sweeping
	ticker    *time.Ticker
	stopCh    chan struct{}
	sweepWg   sync.WaitGroup
	closeOnce sync.Once
}

func newCache(opts Options) *Cache {
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	c := &Cache{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[entryKey]*entry),
	}

	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.retention = opts.Retention
	c.sweepInterval = coalesce(opts.SweepInterval, opts.Retention/2)

	if c.retention > 0 && c.sweepInterval > 0 {
		c.ticker = time.NewTicker(c.sweepInterval)
		c.stopCh = make(chan struct{})
		c.sweepWg.Add(1)
		go c.sweepLoop()
	}
	return c
}

// Peek returns the entry state without creating the entry or fetching.
// A missing entry reads as StatusIdle.
func (c *Cache) Peek(namespace, key string) Snapshot {
	if key == NoKey {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[entryKey{namespace, key}]
	if !ok {
		return Snapshot{}
	}
	return e.snapshot()
}

// Subscribe registers fn to be called after every state change of the entry
// (namespace, key). The entry is created lazily. fn runs on the goroutine that
// settled the change and must not block.
func (c *Cache) Subscribe(namespace, key string, fn func()) (unsubscribe func()) {
	if key == NoKey || fn == nil {
		return func() {}
	}
	ek := entryKey{namespace, key}

	c.mu.Lock()
	e := c.entryLocked(ek)
	c.nextSub++
	id := c.nextSub
	if e.subs == nil {
		e.subs = make(map[uint64]func())
	}
	e.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if e, ok := c.entries[ek]; ok {
				delete(e.subs, id)
				e.touched = time.Now()
			}
			c.mu.Unlock()
		})
	}
}

// Refetch issues a new fetch for an existing entry even when one is already in
// flight; the older fetch becomes stale. It reports false when the entry is
// unknown or has never been fetched.
func (c *Cache) Refetch(namespace, key string) bool {
	ek := entryKey{namespace, key}
	c.mu.Lock()
	e, ok := c.entries[ek]
	if !ok || e.fetch == nil || c.closed {
		c.mu.Unlock()
		return false
	}
	c.reissueLocked(ek, e, e.fetch, true)
	return true
}

// Invalidate discards the entry's state. Observed entries are refetched right
// away (the previous value stays visible while loading); unobserved entries go
// idle and refetch on next observation. In-flight fetches become stale.
func (c *Cache) Invalidate(namespace, key string) {
	ek := entryKey{namespace, key}
	c.mu.Lock()
	e, ok := c.entries[ek]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	if len(e.subs) > 0 && e.fetch != nil {
		c.reissueLocked(ek, e, e.fetch, true)
		c.log.Debug("invalidated observed entry (refetching)", Fields{"ns": namespace, "key": key})
		return
	}
	c.seq++
	e.token = c.seq
	e.status = StatusIdle
	e.value, e.hasValue, e.err = nil, false, nil
	c.mu.Unlock()
	c.log.Debug("invalidated entry", Fields{"ns": namespace, "key": key})
}

// InvalidateNamespace invalidates every entry of the namespace.
func (c *Cache) InvalidateNamespace(namespace string) {
	c.mu.Lock()
	var keys []string
	for ek := range c.entries {
		if ek.ns == namespace {
			keys = append(keys, ek.key)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.Invalidate(namespace, k)
	}
}

// Len returns the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper, fails pending entries with ErrClosed and cancels
// the fetch context. It waits for in-flight fetches until ctx is done; a
// fetch that ignores cancellation keeps one background waiter alive until it
// returns, shared by every Close call.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		var notify []func()
		for _, e := range c.entries {
			if e.status != StatusPending {
				continue
			}
			c.seq++
			e.token = c.seq
			e.status = StatusFailed
			e.value, e.hasValue = nil, false
			e.err = newErrorInfo(ErrClosed)
			notify = append(notify, e.subscribers()...)
		}
		c.mu.Unlock()

		if c.stopCh != nil {
			close(c.stopCh)
			c.ticker.Stop()
			c.sweepWg.Wait()
		}
		c.cancel()
		for _, fn := range notify {
			fn()
		}

		// no issuance can Add after closed is set
		c.drained = make(chan struct{})
		go func() {
			c.inflight.Wait()
			close(c.drained)
		}()
	})

	select {
	case <-c.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire returns the state of ek and issues a fetch when the entry is idle.
// A pending entry is joined (single flight) unless its token equals abandoned:
// the caller left that very issuance earlier and must not inherit its result.
func (c *Cache) acquire(ek entryKey, fetch anyFetch, abandoned uint64) Snapshot {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{Status: StatusFailed, Err: newErrorInfo(ErrClosed)}
	}
	e := c.entryLocked(ek)
	e.touched = time.Now()

	switch e.status {
	case StatusSuccess, StatusFailed:
		s := e.snapshot()
		c.mu.Unlock()
		return s
	case StatusPending:
		if abandoned == 0 || e.token != abandoned {
			s := e.snapshot()
			c.mu.Unlock()
			c.hooks.FetchAttached(ek.ns, ek.key, s.Token)
			return s
		}
	}
	return c.reissueLocked(ek, e, fetch, false)
}

// reissueLocked bumps the entry token, marks it pending and starts fetch.
// It is called with c.mu held and releases it. Subscribers are told about the
// pending state only when notify is set; acquire callers read it from the
// returned snapshot instead.
func (c *Cache) reissueLocked(ek entryKey, e *entry, fetch anyFetch, notify bool) Snapshot {
	c.seq++
	e.token = c.seq
	e.status = StatusPending
	e.err = nil
	e.fetch = fetch
	e.touched = time.Now()
	c.inflight.Add(1)

	s := e.snapshot()
	var subs []func()
	if notify {
		subs = e.subscribers()
	}
	c.mu.Unlock()

	c.hooks.FetchIssued(ek.ns, ek.key, s.Token)
	c.log.Debug("fetch issued", Fields{"ns": ek.ns, "key": ek.key, "token": s.Token})
	go c.run(ek, s.Token, fetch)

	for _, fn := range subs {
		fn()
	}
	return s
}

func (c *Cache) run(ek entryKey, token uint64, fetch anyFetch) {
	defer c.inflight.Done()
	start := time.Now()
	v, err := c.call(ek, fetch)
	c.settle(ek, token, v, err, time.Since(start))
}

func (c *Cache) call(ek entryKey, fetch anyFetch) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.hooks.FetchPanicked(ek.ns, ek.key, r)
			c.log.Error("fetch panicked", Fields{"ns": ek.ns, "key": ek.key, "panic": r})
			v, err = nil, &PanicError{Namespace: ek.ns, Key: ek.key, Value: r}
		}
	}()
	return fetch(c.ctx, ek.key)
}

// settle applies a completion iff token is still the entry's current token.
func (c *Cache) settle(ek entryKey, token uint64, v any, err error, took time.Duration) {
	c.mu.Lock()
	e, ok := c.entries[ek]
	if !ok || e.token != token || c.closed {
		var current uint64
		if ok {
			current = e.token
		}
		c.mu.Unlock()
		c.hooks.StaleDiscarded(ek.ns, ek.key, token, current)
		c.log.Debug("stale fetch result discarded", Fields{"ns": ek.ns, "key": ek.key, "token": token, "current": current})
		return
	}

	if err != nil {
		e.status = StatusFailed
		e.value, e.hasValue = nil, false
		e.err = newErrorInfo(err)
	} else {
		e.status = StatusSuccess
		e.value, e.hasValue = v, true
		e.err = nil
	}
	e.touched = time.Now()
	subs := e.subscribers()
	c.mu.Unlock()

	c.hooks.FetchSettled(ek.ns, ek.key, token, took, err)
	if err != nil {
		c.log.Warn("fetch failed", Fields{"ns": ek.ns, "key": ek.key, "token": token, "err": err})
	}
	for _, fn := range subs {
		fn()
	}
}

func (c *Cache) entryLocked(ek entryKey) *entry {
	e, ok := c.entries[ek]
	if !ok {
		e = &entry{touched: time.Now()}
		c.entries[ek] = e
	}
	return e
}

func (c *Cache) sweepLoop() {
	defer c.sweepWg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.sweep(time.Now().Add(-c.retention))
		case <-c.stopCh:
			return
		}
	}
}

// sweep drops unobserved, non-pending entries last touched before cutoff.
func (c *Cache) sweep(cutoff time.Time) int {
	var evicted []entryKey

	c.mu.Lock()
	for ek, e := range c.entries {
		if e.status == StatusPending || len(e.subs) > 0 {
			continue
		}
		if e.touched.Before(cutoff) {
			delete(c.entries, ek)
			evicted = append(evicted, ek)
		}
	}
	c.mu.Unlock()

	for _, ek := range evicted {
		c.hooks.EntryEvicted(ek.ns, ek.key)
	}
	if len(evicted) > 0 {
		c.log.Debug("sweep evicted unobserved entries", Fields{"removed": len(evicted)})
	}
	return len(evicted)
}
