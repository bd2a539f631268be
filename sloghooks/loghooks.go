// Package sloghooks logs cache and warm-tier events through log/slog.
// Hooks implements both querycache.Hooks and tier.Hooks.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/tier"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FetchEvery    uint64
	StaleEvery    uint64
	SelfHealEvery uint64
	// Optional key redactor for tier storage keys. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	fetchCtr    atomic.Uint64
	staleCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var (
	_ querycache.Hooks = (*Hooks)(nil)
	_ tier.Hooks       = (*Hooks)(nil)
)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchIssued(ns, key string, token uint64) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("querycache.fetch_issued", "ns", ns, "key", key, "token", token)
}

func (h *Hooks) FetchAttached(ns, key string, token uint64) {
	if h.l == nil {
		return
	}
	h.l.Debug("querycache.fetch_attached", "ns", ns, "key", key, "token", token)
}

func (h *Hooks) FetchSettled(ns, key string, token uint64, took time.Duration, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("querycache.fetch_failed",
			"ns", ns,
			"key", key,
			"token", token,
			"took", took,
			"err", err)
		return
	}
	h.l.Debug("querycache.fetch_settled", "ns", ns, "key", key, "token", token, "took", took)
}

func (h *Hooks) StaleDiscarded(ns, key string, token, current uint64) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Info("querycache.stale_discarded",
		"ns", ns,
		"key", key,
		"token", token,
		"current", current)
}

func (h *Hooks) FetchPanicked(ns, key string, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("querycache.fetch_panicked", "ns", ns, "key", key, "panic", recovered)
}

func (h *Hooks) EntryEvicted(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querycache.entry_evicted", "ns", ns, "key", key)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("querycache.tier.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.tier.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.tier.gen_snapshot_error",
		"count", count,
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.tier.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("querycache.tier.invalidate_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}
