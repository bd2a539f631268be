// Package asynchook moves hook work off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StaleEvery: 10})
//	hooks := asynchook.New(raw, raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache := querycache.New(querycache.Options{Hooks: hooks})
//	store, _ := tier.New[pokeapi.Pokemon](tier.Options[pokeapi.Pokemon]{
//	    Namespace: "pokemon-details",
//	    Provider:  provider,
//	    Codec:     codec.JSON[pokeapi.Pokemon]{},
//	    Hooks:     hooks,
//	})
//
// Events are dropped, not queued unboundedly, when the workers fall behind.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/tier"
)

type Hooks struct {
	cache querycache.Hooks
	tier  tier.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	dropped atomic.Uint64
}

var (
	_ querycache.Hooks = (*Hooks)(nil)
	_ tier.Hooks       = (*Hooks)(nil)
)

// New forwards cache events to c and tier events to t; either may be nil.
func New(c querycache.Hooks, t tier.Hooks, workers, qlen int) *Hooks {
	if c == nil {
		c = querycache.NopHooks{}
	}
	if t == nil {
		t = tier.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{cache: c, tier: t, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the queue was full
// or the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchIssued(ns, k string, tok uint64) {
	h.try(func() { h.cache.FetchIssued(ns, k, tok) })
}
func (h *Hooks) FetchAttached(ns, k string, tok uint64) {
	h.try(func() { h.cache.FetchAttached(ns, k, tok) })
}
func (h *Hooks) FetchSettled(ns, k string, tok uint64, took time.Duration, err error) {
	h.try(func() { h.cache.FetchSettled(ns, k, tok, took, err) })
}
func (h *Hooks) StaleDiscarded(ns, k string, tok, cur uint64) {
	h.try(func() { h.cache.StaleDiscarded(ns, k, tok, cur) })
}
func (h *Hooks) FetchPanicked(ns, k string, r any) {
	h.try(func() { h.cache.FetchPanicked(ns, k, r) })
}
func (h *Hooks) EntryEvicted(ns, k string) { h.try(func() { h.cache.EntryEvicted(ns, k) }) }

func (h *Hooks) SelfHeal(k, r string)             { h.try(func() { h.tier.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)     { h.try(func() { h.tier.ProviderSetRejected(k) }) }
func (h *Hooks) GenBumpError(k string, err error) { h.try(func() { h.tier.GenBumpError(k, err) }) }
func (h *Hooks) GenSnapshotError(n int, err error) {
	h.try(func() { h.tier.GenSnapshotError(n, err) })
}
func (h *Hooks) InvalidateOutage(k string, be, de error) {
	h.try(func() { h.tier.InvalidateOutage(k, be, de) })
}
