// Package tier is an optional warm layer under the query cache: a
// provider-agnostic byte store whose entries carry the generation they were
// written under. Invalidate bumps the generation, so writes that raced with it
// are skipped and entries that survived it are rejected (and deleted) on read.
package tier

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// DefaultTTL is the entry lifetime used when Options.TTL is 0.
const DefaultTTL = 10 * time.Minute

const (
	defaultSweep        = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
)

var (
	ErrProviderRequired  = errors.New("querycache/tier: provider is required")
	ErrCodecRequired     = errors.New("querycache/tier: codec is required")
	ErrNamespaceRequired = errors.New("querycache/tier: namespace is required")
)

// SetCostFunc weighs an encoded entry for cost-aware providers.
type SetCostFunc func(storageKey string, raw []byte) int64

// Options tune a Store. Namespace, Provider and Codec are required.
type Options[V any] struct {
	Namespace string // should match the query cache namespace, e.g. "pokemon-details"
	Provider  pr.Provider
	Codec     codec.Codec[V]

	Logger          querycache.Logger // if nil, NopLogger is used
	Hooks           Hooks             // if nil, NopHooks is used
	TTL             time.Duration     // 0 => 10m; < 0 => no expiry
	CleanupInterval time.Duration     // local gens only; 0 => 1h
	GenRetention    time.Duration     // local gens only; 0 => 30d
	Disabled        bool              // every call becomes a miss/no-op
	ComputeSetCost  SetCostFunc       // default: encoded size in bytes
	GenStore        gen.GenStore      // nil => LocalGenStore (in-process)
}

// Store is the warm tier for one namespace. Safe for concurrent use.
type Store[V any] struct {
	ns             string
	provider       pr.Provider
	codec          codec.Codec[V]
	log            querycache.Logger
	hooks          Hooks
	enabled        bool
	ttl            time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore
}

func New[V any](opts Options[V]) (*Store[V], error) {
	if opts.Provider == nil {
		return nil, ErrProviderRequired
	}
	if opts.Codec == nil {
		return nil, ErrCodecRequired
	}
	if opts.Namespace == "" {
		return nil, ErrNamespaceRequired
	}

	s := &Store[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
		log:      querycache.NopLogger{},
		hooks:    NopHooks{},
		ttl:      DefaultTTL,
	}
	if opts.Logger != nil {
		s.log = opts.Logger
	}
	if opts.Hooks != nil {
		s.hooks = opts.Hooks
	}
	if opts.TTL != 0 {
		s.ttl = opts.TTL
	}

	if opts.ComputeSetCost != nil {
		s.computeSetCost = opts.ComputeSetCost
	} else {
		s.computeSetCost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}

	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		sweep := opts.CleanupInterval
		if sweep == 0 {
			sweep = defaultSweep
		}
		retention := opts.GenRetention
		if retention == 0 {
			retention = defaultGenRetention
		}
		s.gen = gen.NewLocalGenStore(sweep, retention)
	}
	return s, nil
}

func (s *Store[V]) Enabled() bool { return s.enabled }

func (s *Store[V]) Namespace() string { return s.ns }

// Close closes the generation store and then the provider.
func (s *Store[V]) Close(ctx context.Context) error {
	genErr := s.gen.Close(ctx)
	return errors.Join(genErr, s.provider.Close(ctx))
}

// Get returns the stored value for key. Entries that fail frame validation,
// carry an outdated generation or do not decode are deleted and read as a miss.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !s.enabled {
		return zero, false, nil
	}
	k := s.storageKey(key)
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}

	g, payload, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, k, "corrupt")
		return zero, false, nil
	}
	cur, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		// cannot validate; treat as a miss but keep the entry
		s.hooks.GenSnapshotError(1, err)
		return zero, false, err
	}
	if g != cur {
		s.heal(ctx, k, "gen_mismatch")
		return zero, false, nil
	}
	v, err := s.codec.Decode(payload)
	if err != nil {
		s.heal(ctx, k, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

// SetWithGen writes value only if key's generation still equals observedGen,
// the generation read before the value was loaded. ttl 0 uses the store TTL.
func (s *Store[V]) SetWithGen(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) error {
	if !s.enabled {
		return nil
	}
	if ttl == 0 {
		ttl = s.ttl
	}
	k := s.storageKey(key)
	cur, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		s.hooks.GenSnapshotError(1, err)
		return err
	}
	if cur != observedGen {
		s.log.Debug("SetWithGen skipped (gen mismatch)", querycache.Fields{"key": key, "obs": observedGen, "cur": cur})
		return nil
	}

	payload, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	raw, err := wire.Encode(observedGen, payload)
	if err != nil {
		return err
	}
	ok, err := s.provider.Set(ctx, k, raw, s.computeSetCost(k, raw), ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(k)
		s.log.Debug("SetWithGen rejected by provider (pressure)", querycache.Fields{"key": key})
	}
	return nil
}

// Invalidate bumps key's generation and deletes the stored entry. Either step
// alone is enough to keep stale data from being served, so an error is
// returned only when both fail.
func (s *Store[V]) Invalidate(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	k := s.storageKey(key)
	newGen, bumpErr := s.gen.Bump(ctx, k)
	if bumpErr != nil {
		s.hooks.GenBumpError(k, bumpErr)
	}
	delErr := s.provider.Del(ctx, k)

	switch {
	case bumpErr != nil && delErr != nil:
		s.hooks.InvalidateOutage(key, bumpErr, delErr)
		s.log.Error("invalidate failed (gen bump and delete)", querycache.Fields{"key": key, "bumpErr": bumpErr, "delErr": delErr})
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	case bumpErr != nil:
		s.log.Warn("invalidate: gen bump failed, entry deleted", querycache.Fields{"key": key, "err": bumpErr})
	case delErr != nil:
		s.log.Warn("invalidate: delete failed, gen bumped", querycache.Fields{"key": key, "err": delErr, "newGen": newGen})
	default:
		s.log.Debug("invalidated key (bumped gen + deleted)", querycache.Fields{"key": key, "newGen": newGen})
	}
	return nil
}

// SnapshotGen returns key's current generation, to be passed to SetWithGen.
func (s *Store[V]) SnapshotGen(ctx context.Context, key string) (uint64, error) {
	g, err := s.gen.Snapshot(ctx, s.storageKey(key))
	if err != nil {
		s.hooks.GenSnapshotError(1, err)
	}
	return g, err
}

func (s *Store[V]) heal(ctx context.Context, storageKey, reason string) {
	_ = s.provider.Del(ctx, storageKey)
	s.hooks.SelfHeal(storageKey, reason)
	s.log.Debug("tier entry dropped on read", querycache.Fields{"key": storageKey, "reason": reason})
}

func (s *Store[V]) storageKey(userKey string) string {
	return "tier:" + s.ns + ":" + userKey
}
