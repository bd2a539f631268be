package querycache

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

type outcome struct {
	v   string
	err error
}

type pendingCall struct {
	key     string
	release chan outcome
}

func (pc *pendingCall) ok(v string) { pc.release <- outcome{v: v} }

func (pc *pendingCall) failMsg(m string) { pc.release <- outcome{err: errors.New(m)} }

// gatedFetch blocks every call until the test releases it.
type gatedFetch struct {
	calls chan *pendingCall
	n     atomic.Int32
}

func newGatedFetch() *gatedFetch { return &gatedFetch{calls: make(chan *pendingCall, 64)} }

func (g *gatedFetch) fetch(ctx context.Context, key string) (string, error) {
	g.n.Add(1)
	pc := &pendingCall{key: key, release: make(chan outcome, 1)}
	g.calls <- pc
	select {
	case o := <-pc.release:
		return o.v, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedFetch) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case pc := <-g.calls:
		return pc
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for a fetch call")
		return nil
	}
}

func (g *gatedFetch) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case pc := <-g.calls:
		t.Fatalf("unexpected fetch call for key %q", pc.key)
	case <-time.After(50 * time.Millisecond):
	}
}

type event struct {
	key   string
	token uint64
}

// recHooks records settle and stale events on buffered channels.
type recHooks struct {
	NopHooks
	issued  atomic.Int32
	settled chan event
	stale   chan event
	evicted chan string
	panics  atomic.Int32
}

func newRecHooks() *recHooks {
	return &recHooks{
		settled: make(chan event, 64),
		stale:   make(chan event, 64),
		evicted: make(chan string, 64),
	}
}

func (h *recHooks) FetchIssued(string, string, uint64) { h.issued.Add(1) }

func (h *recHooks) FetchSettled(_, key string, token uint64, _ time.Duration, _ error) {
	h.settled <- event{key, token}
}

func (h *recHooks) StaleDiscarded(_, key string, token, _ uint64) { h.stale <- event{key, token} }

func (h *recHooks) EntryEvicted(_, key string) { h.evicted <- key }

func (h *recHooks) FetchPanicked(string, string, any) { h.panics.Add(1) }

func waitEvent(t *testing.T, ch <-chan event, key string) event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-ch:
			if ev.key == key {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on key %q", key)
		}
	}
}

func newTestNamespace(t *testing.T, g *gatedFetch, h Hooks) (*Cache, *Namespace[string]) {
	t.Helper()
	c := New(Options{Hooks: h})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = c.Close(ctx)
	})
	ns, err := NewNamespace[string](c, "test", g.fetch)
	if err != nil {
		t.Fatalf("NewNamespace: %v", err)
	}
	return c, ns
}

func await[V any](t *testing.T, ns *Namespace[V], key string) Result[V] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	r, err := ns.Await(ctx, key)
	if err != nil {
		t.Fatalf("Await(%q): %v", key, err)
	}
	return r
}

// ==============================
// Core properties
// ==============================

// TestSingleFlight: simultaneous observers of one key share one fetch.
func TestSingleFlight(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	const n = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]Result[string], n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = ns.Get("25")
		}(i)
	}
	close(start)
	wg.Wait()

	for i, r := range results {
		if !r.Loading || r.HasData || r.Err != nil {
			t.Fatalf("observer %d: expected loading state, got %+v", i, r)
		}
	}

	g.next(t).ok("pikachu")
	g.expectNoCall(t)

	if got := await(t, ns, "25"); got.Data != "pikachu" {
		t.Fatalf("expected pikachu, got %+v", got)
	}
	if calls := g.n.Load(); calls != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", calls)
	}
}

// TestLastIssuedWins: an observer that moves from A to B shows B even when
// A resolves last.
func TestLastIssuedWins(t *testing.T) {
	g := newGatedFetch()
	h := newRecHooks()
	_, ns := newTestNamespace(t, g, h)

	obs := ns.Observe(nil)
	defer obs.Close()

	obs.Bind("A")
	callA := g.next(t)
	if r := obs.Bind("B"); !r.Loading || r.HasData {
		t.Fatalf("switching key must show loading without old data, got %+v", r)
	}
	callB := g.next(t)

	callB.ok("b")
	waitEvent(t, h.settled, "B")
	callA.ok("a")
	waitEvent(t, h.settled, "A")

	r := obs.Result()
	if !r.HasData || r.Data != "b" || r.Loading {
		t.Fatalf("expected data from B, got %+v", r)
	}
	if obs.Key() != "B" {
		t.Fatalf("observer key = %q, want B", obs.Key())
	}
}

// TestSwitchBackDiscardsAbandonedFetch: A -> B -> A while the first A fetch is in
// flight re-issues A; the first completion is stale even though it lands last.
func TestSwitchBackDiscardsAbandonedFetch(t *testing.T) {
	g := newGatedFetch()
	h := newRecHooks()
	_, ns := newTestNamespace(t, g, h)

	obs := ns.Observe(nil)
	defer obs.Close()

	obs.Bind("A")
	first := g.next(t)
	obs.Bind("B")
	callB := g.next(t)
	if r := obs.Bind("A"); !r.Loading {
		t.Fatalf("expected loading after switching back, got %+v", r)
	}
	second := g.next(t)
	if second.key != "A" {
		t.Fatalf("expected a fresh fetch for A, got %q", second.key)
	}

	second.ok("second")
	waitEvent(t, h.settled, "A")
	first.ok("first")
	waitEvent(t, h.stale, "A")

	if r := obs.Result(); r.Data != "second" {
		t.Fatalf("stale result leaked: got %+v", r)
	}
	callB.ok("b")
}

// TestNullKeyNoop: NoKey never fetches and always reads empty.
func TestNullKeyNoop(t *testing.T) {
	g := newGatedFetch()
	c, ns := newTestNamespace(t, g, nil)

	obs := ns.Observe(nil)
	defer obs.Close()

	checks := []Result[string]{
		obs.Bind(NoKey),
		ns.Get(NoKey),
		ns.Peek(NoKey),
		Query[string](c, "test", NoKey, g.fetch),
	}
	for i, r := range checks {
		if r.HasData || r.Loading || r.Err != nil {
			t.Fatalf("check %d: expected empty result, got %+v", i, r)
		}
	}
	g.expectNoCall(t)
	if c.Len() != 0 {
		t.Fatalf("null key must not create entries, have %d", c.Len())
	}
}

// TestErrorIsolation: a failure on one key leaves another key's value alone.
func TestErrorIsolation(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	okObs := ns.Observe(nil)
	defer okObs.Close()
	badObs := ns.Observe(nil)
	defer badObs.Close()

	okObs.Bind("1")
	g.next(t).ok("bulbasaur")
	await(t, ns, "1")

	badObs.Bind("2")
	g.next(t).failMsg("boom")
	await(t, ns, "2")

	if r := okObs.Result(); r.Data != "bulbasaur" || r.Err != nil {
		t.Fatalf("healthy key disturbed: %+v", r)
	}
	r := badObs.Result()
	if r.Err == nil || r.Err.Message != "boom" || r.HasData {
		t.Fatalf("expected failure on key 2, got %+v", r)
	}
}

// TestIdempotentReobservation: re-binding a cached key does not fetch again.
func TestIdempotentReobservation(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	ns.Get("7")
	g.next(t).ok("squirtle")
	await(t, ns, "7")

	obs := ns.Observe(nil)
	defer obs.Close()
	for i := 0; i < 3; i++ {
		r := obs.Bind("7")
		if r.Loading || !r.HasData || r.Data != "squirtle" {
			t.Fatalf("bind %d: expected cached value, got %+v", i, r)
		}
	}
	g.expectNoCall(t)
	if calls := g.n.Load(); calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
}

type mon struct {
	ID    int
	Name  string
	Stats []int
}

// TestPikachuThenNotFound walks the details-view scenario end to end.
func TestPikachuThenNotFound(t *testing.T) {
	c := New(Options{})
	defer c.Close(context.Background())

	calls := make(chan *pendingCall, 4)
	fetch := func(ctx context.Context, key string) (*mon, error) {
		pc := &pendingCall{key: key, release: make(chan outcome, 1)}
		calls <- pc
		o := <-pc.release
		if o.err != nil {
			return nil, o.err
		}
		return &mon{ID: 25, Name: o.v, Stats: []int{35, 55, 40}}, nil
	}
	ns, err := NewNamespace[*mon](c, "pokemon-details", fetch)
	if err != nil {
		t.Fatal(err)
	}

	updates := make(chan Result[*mon], 16)
	obs := ns.Observe(func(r Result[*mon]) { updates <- r })
	defer obs.Close()

	if r := obs.Bind("25"); !r.Loading {
		t.Fatalf("expected loading, got %+v", r)
	}
	(<-calls).ok("pikachu")
	r := <-updates
	if r.Loading || r.Err != nil || !r.HasData || r.Data.Name != "pikachu" {
		t.Fatalf("expected pikachu, got %+v", r)
	}

	if r := obs.Bind("9999"); !r.Loading || r.HasData {
		t.Fatalf("new key must not show previous data, got %+v", r)
	}
	(<-calls).failMsg("Not Found")
	r = <-updates
	if r.HasData || r.Data != nil {
		t.Fatalf("stale pikachu leaked into 9999: %+v", r.Data)
	}
	if r.Err == nil || r.Err.Message != "Not Found" || r.Loading {
		t.Fatalf("expected Not Found, got %+v", r)
	}
}

// ==============================
// Refetch / invalidate
// ==============================

func TestRefetchKeepsValueWhileLoading(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	ns.Get("k")
	g.next(t).ok("v1")
	await(t, ns, "k")

	r := ns.Refetch("k")
	if !r.Loading || !r.HasData || r.Data != "v1" {
		t.Fatalf("refetch should keep old value while loading, got %+v", r)
	}
	g.next(t).ok("v2")
	if got := await(t, ns, "k"); got.Data != "v2" || got.Loading {
		t.Fatalf("expected v2, got %+v", got)
	}
}

func TestRefetchSupersedesInFlight(t *testing.T) {
	g := newGatedFetch()
	h := newRecHooks()
	_, ns := newTestNamespace(t, g, h)

	ns.Get("k")
	old := g.next(t)
	ns.Refetch("k")
	fresh := g.next(t)

	fresh.ok("new")
	waitEvent(t, h.settled, "k")
	old.ok("old")
	waitEvent(t, h.stale, "k")

	if r := ns.Peek("k"); r.Data != "new" {
		t.Fatalf("older fetch overwrote newer one: %+v", r)
	}
}

func TestInvalidateUnobservedGoesIdle(t *testing.T) {
	g := newGatedFetch()
	c, ns := newTestNamespace(t, g, nil)

	ns.Get("k")
	g.next(t).ok("v1")
	await(t, ns, "k")

	ns.Invalidate("k")
	if s := c.Peek("test", "k"); s.Status != StatusIdle || s.HasValue {
		t.Fatalf("expected idle entry after invalidate, got %+v", s)
	}
	if r := ns.Get("k"); !r.Loading {
		t.Fatalf("expected refetch on next observation, got %+v", r)
	}
	g.next(t).ok("v2")
	if r := await(t, ns, "k"); r.Data != "v2" {
		t.Fatalf("expected v2, got %+v", r)
	}
}

func TestInvalidateObservedRefetches(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	updates := make(chan Result[string], 16)
	obs := ns.Observe(func(r Result[string]) { updates <- r })
	defer obs.Close()

	obs.Bind("k")
	g.next(t).ok("v1")
	<-updates

	ns.Invalidate("k")
	if r := <-updates; !r.Loading || r.Data != "v1" {
		t.Fatalf("expected loading with previous value, got %+v", r)
	}
	g.next(t).ok("v2")
	if r := <-updates; r.Loading || r.Data != "v2" {
		t.Fatalf("expected v2, got %+v", r)
	}
}

func TestInvalidateNamespace(t *testing.T) {
	g := newGatedFetch()
	c, ns := newTestNamespace(t, g, nil)

	for _, k := range []string{"a", "b"} {
		ns.Get(k)
		g.next(t).ok(k)
		await(t, ns, k)
	}
	c.InvalidateNamespace("test")
	for _, k := range []string{"a", "b"} {
		if s := c.Peek("test", k); s.Status != StatusIdle {
			t.Fatalf("%s: expected idle, got %s", k, s.Status)
		}
	}
}

// ==============================
// Failure modes
// ==============================

func TestFetchPanicBecomesError(t *testing.T) {
	h := newRecHooks()
	c := New(Options{Hooks: h})
	defer c.Close(context.Background())

	ns, err := NewNamespace[string](c, "boom", func(context.Context, string) (string, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatal(err)
	}
	r := await(t, ns, "x")
	var pe *PanicError
	if r.Err == nil || !errors.As(r.Err, &pe) || pe.Value != "kaboom" {
		t.Fatalf("expected PanicError, got %+v", r)
	}
	if h.panics.Load() != 1 {
		t.Fatalf("expected FetchPanicked hook once, got %d", h.panics.Load())
	}
}

func TestTypeMismatchAcrossNamespaceReuse(t *testing.T) {
	g := newGatedFetch()
	c, ns := newTestNamespace(t, g, nil)

	ns.Get("k")
	g.next(t).ok("text")
	await(t, ns, "k")

	r := Query[int](c, "test", "k", func(context.Context, string) (int, error) { return 1, nil })
	if r.HasData || !errors.Is(r.Err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %+v", r)
	}
}

func TestCloseFailsPendingAndRejects(t *testing.T) {
	g := newGatedFetch()
	c := New(Options{})
	ns, err := NewNamespace[string](c, "test", g.fetch)
	if err != nil {
		t.Fatal(err)
	}

	updates := make(chan Result[string], 4)
	obs := ns.Observe(func(r Result[string]) { updates <- r })
	obs.Bind("k")
	g.next(t) // never released; Close cancels its context

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r := <-updates
	if !errors.Is(r.Err, ErrClosed) || r.Loading {
		t.Fatalf("pending entry should fail with ErrClosed, got %+v", r)
	}
	if r := ns.Get("other"); !errors.Is(r.Err, ErrClosed) {
		t.Fatalf("Get after Close should report ErrClosed, got %+v", r)
	}
	if c.Refetch("test", "k") {
		t.Fatalf("Refetch after Close should report false")
	}
}

func TestCloseTimeoutSharesOneWaiter(t *testing.T) {
	c := New(Options{})
	release := make(chan struct{})
	ns, err := NewNamespace[string](c, "test", func(context.Context, string) (string, error) {
		<-release // ignores cancellation
		return "late", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ns.Get("k")

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Close(expired); !errors.Is(err, context.Canceled) {
		t.Fatalf("Close with done ctx = %v, want context.Canceled", err)
	}
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		if err := c.Close(expired); !errors.Is(err, context.Canceled) {
			t.Fatalf("Close #%d = %v", i, err)
		}
	}
	if grown := runtime.NumGoroutine() - before; grown >= 10 {
		t.Fatalf("repeated Close leaked %d goroutines", grown)
	}

	close(release)
	ctx, cancelWait := context.WithTimeout(context.Background(), waitTimeout)
	defer cancelWait()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close after the fetch returned: %v", err)
	}
	if r := ns.Peek("k"); !errors.Is(r.Err, ErrClosed) {
		t.Fatalf("late completion must be discarded, got %+v", r)
	}
}

func TestNewNamespaceValidation(t *testing.T) {
	c := New(Options{})
	defer c.Close(context.Background())
	fetch := func(context.Context, string) (string, error) { return "", nil }

	if _, err := NewNamespace[string](nil, "x", fetch); err == nil {
		t.Fatalf("expected error for nil cache")
	}
	if _, err := NewNamespace[string](c, "", fetch); !errors.Is(err, ErrNamespaceRequired) {
		t.Fatalf("expected ErrNamespaceRequired, got %v", err)
	}
	if _, err := NewNamespace[string](c, "x", nil); !errors.Is(err, ErrFetchRequired) {
		t.Fatalf("expected ErrFetchRequired, got %v", err)
	}
}

// ==============================
// Sweeping
// ==============================

func TestSweepEvictsOnlyUnobservedSettled(t *testing.T) {
	g := newGatedFetch()
	h := newRecHooks()
	c, ns := newTestNamespace(t, g, h)

	ns.Get("settled")
	g.next(t).ok("x")
	await(t, ns, "settled")

	obs := ns.Observe(nil)
	defer obs.Close()
	obs.Bind("watched")
	g.next(t).ok("y")
	await(t, ns, "watched")

	ns.Get("pending")
	pending := g.next(t)

	if n := c.sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if got := <-h.evicted; got != "settled" {
		t.Fatalf("evicted %q, want settled", got)
	}
	if s := c.Peek("test", "watched"); !s.HasValue {
		t.Fatalf("observed entry must survive sweep")
	}
	pending.ok("z")
	if r := await(t, ns, "pending"); r.Data != "z" {
		t.Fatalf("pending entry must survive sweep, got %+v", r)
	}
}

func TestSweepLoopRuns(t *testing.T) {
	h := newRecHooks()
	c := New(Options{Hooks: h, Retention: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	defer c.Close(context.Background())

	ns, err := NewNamespace[string](c, "t", func(context.Context, string) (string, error) { return "v", nil })
	if err != nil {
		t.Fatal(err)
	}
	await(t, ns, "k")

	select {
	case <-h.evicted:
	case <-time.After(waitTimeout):
		t.Fatalf("sweeper did not evict the idle entry")
	}
}

// ==============================
// Binding surface
// ==============================

func TestObserverClearStopsNotifications(t *testing.T) {
	g := newGatedFetch()
	h := newRecHooks()
	_, ns := newTestNamespace(t, g, h)

	var calls atomic.Int32
	obs := ns.Observe(func(Result[string]) { calls.Add(1) })
	defer obs.Close()

	if r := obs.Bind("a"); !r.Loading {
		t.Fatalf("expected loading, got %+v", r)
	}
	pc := g.next(t)

	obs.Clear()
	if k := obs.Key(); k != NoKey {
		t.Fatalf("Key after Clear = %q", k)
	}
	if r := obs.Result(); r.HasData || r.Loading || r.Err != nil {
		t.Fatalf("cleared observer must read empty, got %+v", r)
	}

	pc.ok("A")
	waitEvent(t, h.settled, "a")
	if n := calls.Load(); n != 0 {
		t.Fatalf("cleared observer notified %d times", n)
	}
	if r := ns.Peek("a"); r.Data != "A" {
		t.Fatalf("entry must still settle for others, got %+v", r)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	g := newGatedFetch()
	h := newRecHooks()
	c, ns := newTestNamespace(t, g, h)

	notified := make(chan struct{}, 8)
	unsub := c.Subscribe("test", "k", func() { notified <- struct{}{} })

	ns.Get("k")
	g.next(t).ok("v")
	waitEvent(t, h.settled, "k")
	select {
	case <-notified:
	case <-time.After(waitTimeout):
		t.Fatalf("subscriber not notified on settle")
	}

	unsub()
	unsub()

	if r := ns.Refetch("k"); !r.Loading || r.Data != "v" {
		t.Fatalf("refetch should keep value while loading, got %+v", r)
	}
	g.next(t).ok("w")
	waitEvent(t, h.settled, "k")
	if len(notified) != 0 {
		t.Fatalf("unsubscribed callback still notified")
	}

	noop := c.Subscribe("test", NoKey, func() { t.Fatalf("NoKey subscription fired") })
	noop()
}

func TestQueryOneShot(t *testing.T) {
	c := New(Options{})
	defer c.Close(context.Background())

	var n atomic.Int32
	fetch := func(_ context.Context, key string) (int, error) {
		n.Add(1)
		return len(key), nil
	}

	done := make(chan struct{}, 1)
	unsub := c.Subscribe("len", "abc", func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer unsub()

	if r := Query(c, "len", "abc", fetch); !r.Loading {
		t.Fatalf("first Query should be loading, got %+v", r)
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("fetch never settled")
	}
	if r := Query(c, "len", "abc", fetch); r.Loading || r.Data != 3 {
		t.Fatalf("second Query = %+v, want data 3", r)
	}
	if got := n.Load(); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
	if r := Query(c, "len", NoKey, fetch); r.HasData || r.Loading || r.Err != nil {
		t.Fatalf("NoKey Query = %+v", r)
	}
}

func TestWrappedErrorInfoKeepsOuterMessage(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	inner := &ErrorInfo{Message: "Not Found"}
	ns.Get("wrapped")
	g.next(t).release <- outcome{err: fmt.Errorf("ability lookup: %w", inner)}
	r := await(t, ns, "wrapped")
	if r.Err == nil || r.Err.Message != "ability lookup: Not Found" {
		t.Fatalf("message not verbatim: %+v", r.Err)
	}
	var got *ErrorInfo
	if !errors.As(r.Err.Err, &got) || got != inner {
		t.Fatalf("inner ErrorInfo not reachable through Unwrap")
	}

	ns.Get("bare")
	g.next(t).release <- outcome{err: inner}
	if r := await(t, ns, "bare"); r.Err != inner {
		t.Fatalf("bare ErrorInfo should be reused, got %+v", r.Err)
	}
}

func TestFailedRefetchClearsPreviousValue(t *testing.T) {
	g := newGatedFetch()
	_, ns := newTestNamespace(t, g, nil)

	ns.Get("k")
	g.next(t).ok("old")
	await(t, ns, "k")

	ns.Refetch("k")
	g.next(t).failMsg("boom")
	r := await(t, ns, "k")
	if r.HasData || r.Data != "" || r.Err == nil || r.Err.Message != "boom" {
		t.Fatalf("value and error must not both be visible, got %+v", r)
	}
}
