package cli

import (
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/tier"
)

type hookSet interface {
	querycache.Hooks
	tier.Hooks
}

// fanout forwards every event to each hook set in order.
type fanout []hookSet

func (f fanout) FetchIssued(ns, k string, tok uint64) {
	for _, h := range f {
		h.FetchIssued(ns, k, tok)
	}
}

func (f fanout) FetchAttached(ns, k string, tok uint64) {
	for _, h := range f {
		h.FetchAttached(ns, k, tok)
	}
}

func (f fanout) FetchSettled(ns, k string, tok uint64, took time.Duration, err error) {
	for _, h := range f {
		h.FetchSettled(ns, k, tok, took, err)
	}
}

func (f fanout) StaleDiscarded(ns, k string, tok, cur uint64) {
	for _, h := range f {
		h.StaleDiscarded(ns, k, tok, cur)
	}
}

func (f fanout) FetchPanicked(ns, k string, r any) {
	for _, h := range f {
		h.FetchPanicked(ns, k, r)
	}
}

func (f fanout) EntryEvicted(ns, k string) {
	for _, h := range f {
		h.EntryEvicted(ns, k)
	}
}

func (f fanout) SelfHeal(k, reason string) {
	for _, h := range f {
		h.SelfHeal(k, reason)
	}
}

func (f fanout) ProviderSetRejected(k string) {
	for _, h := range f {
		h.ProviderSetRejected(k)
	}
}

func (f fanout) GenSnapshotError(n int, err error) {
	for _, h := range f {
		h.GenSnapshotError(n, err)
	}
}

func (f fanout) GenBumpError(k string, err error) {
	for _, h := range f {
		h.GenBumpError(k, err)
	}
}

func (f fanout) InvalidateOutage(k string, be, de error) {
	for _, h := range f {
		h.InvalidateOutage(k, be, de)
	}
}
