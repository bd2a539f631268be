// Package otelhook turns cache and warm-tier events into OpenTelemetry metrics.
// Keys are never used as attributes; only namespaces and reasons are.
package otelhook

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/tier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Hooks records metrics. Safe for concurrent use.
type Hooks struct {
	issued    metric.Int64Counter
	attached  metric.Int64Counter
	settled   metric.Int64Counter
	stale     metric.Int64Counter
	panics    metric.Int64Counter
	evicted   metric.Int64Counter
	duration  metric.Float64Histogram
	selfHeal  metric.Int64Counter
	rejected  metric.Int64Counter
	genErrors metric.Int64Counter
	outages   metric.Int64Counter
}

var (
	_ querycache.Hooks = (*Hooks)(nil)
	_ tier.Hooks       = (*Hooks)(nil)
)

// New registers the instruments on meter.
func New(meter metric.Meter) (*Hooks, error) {
	h := &Hooks{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&h.issued, "querycache.fetch.issued", "Fetches issued", "{fetch}"},
		{&h.attached, "querycache.fetch.attached", "Observers that joined an in-flight fetch", "{fetch}"},
		{&h.settled, "querycache.fetch.settled", "Current fetches that completed", "{fetch}"},
		{&h.stale, "querycache.fetch.stale", "Completions discarded because a newer fetch was issued", "{fetch}"},
		{&h.panics, "querycache.fetch.panics", "Fetch functions that panicked", "{panic}"},
		{&h.evicted, "querycache.entries.evicted", "Unobserved entries removed by the sweeper", "{entry}"},
		{&h.selfHeal, "querycache.tier.self_heal", "Tier entries deleted on read", "{entry}"},
		{&h.rejected, "querycache.tier.set_rejected", "Tier writes refused by the provider", "{write}"},
		{&h.genErrors, "querycache.tier.gen_errors", "Generation store failures", "{error}"},
		{&h.outages, "querycache.tier.invalidate_outages", "Invalidations where both bump and delete failed", "{error}"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	var err error
	h.duration, err = meter.Float64Histogram(
		"querycache.fetch.duration_ms",
		metric.WithDescription("Duration of current fetches in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func nsAttr(ns string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("querycache.namespace", ns))
}

func (h *Hooks) FetchIssued(ns, _ string, _ uint64) {
	h.issued.Add(context.Background(), 1, nsAttr(ns))
}

func (h *Hooks) FetchAttached(ns, _ string, _ uint64) {
	h.attached.Add(context.Background(), 1, nsAttr(ns))
}

func (h *Hooks) FetchSettled(ns, _ string, _ uint64, took time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	opt := metric.WithAttributes(
		attribute.String("querycache.namespace", ns),
		attribute.String("querycache.outcome", outcome),
	)
	ctx := context.Background()
	h.settled.Add(ctx, 1, opt)
	h.duration.Record(ctx, float64(took)/float64(time.Millisecond), opt)
}

func (h *Hooks) StaleDiscarded(ns, _ string, _, _ uint64) {
	h.stale.Add(context.Background(), 1, nsAttr(ns))
}

func (h *Hooks) FetchPanicked(ns, _ string, _ any) {
	h.panics.Add(context.Background(), 1, nsAttr(ns))
}

func (h *Hooks) EntryEvicted(ns, _ string) {
	h.evicted.Add(context.Background(), 1, nsAttr(ns))
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	h.selfHeal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("querycache.namespace", tierNamespace(storageKey)),
		attribute.String("querycache.reason", reason),
	))
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	h.rejected.Add(context.Background(), 1, nsAttr(tierNamespace(storageKey)))
}

func (h *Hooks) GenSnapshotError(count int, _ error) {
	h.genErrors.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("querycache.op", "snapshot")))
}

func (h *Hooks) GenBumpError(_ string, _ error) {
	h.genErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("querycache.op", "bump")))
}

func (h *Hooks) InvalidateOutage(string, error, error) {
	h.outages.Add(context.Background(), 1)
}

// tierNamespace extracts <ns> from "tier:<ns>:<key>".
func tierNamespace(storageKey string) string {
	rest, ok := strings.CutPrefix(storageKey, "tier:")
	if !ok {
		return ""
	}
	ns, _, _ := strings.Cut(rest, ":")
	return ns
}
