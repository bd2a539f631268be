package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/genstore"
	asynchook "github.com/unkn0wn-root/querycache/hooks/async"
	otelhook "github.com/unkn0wn-root/querycache/hooks/otel"
	"github.com/unkn0wn-root/querycache/internal/config"
	"github.com/unkn0wn-root/querycache/pokeapi"
	"github.com/unkn0wn-root/querycache/pokedex"
	pr "github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/bigcache"
	"github.com/unkn0wn-root/querycache/provider/redis"
	"github.com/unkn0wn-root/querycache/provider/ristretto"
	"github.com/unkn0wn-root/querycache/sloghooks"
	"github.com/unkn0wn-root/querycache/tier"
)

// app is everything a command needs, wired from the config.
type app struct {
	log   querycache.Logger
	cache *querycache.Cache
	dex   *pokedex.Dex

	closers []func(context.Context) error // run in reverse order
}

func newApp(ctx context.Context, cfg config.Config, errOut io.Writer) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	logger, sl, syncLog, err := newLogger(cfg.Log, errOut)
	if err != nil {
		return nil, err
	}
	a.log = logger
	a.closers = append(a.closers, func(context.Context) error { syncLog(); return nil })

	var sets fanout
	if sl != nil {
		sets = append(sets, sloghooks.New(sl, sloghooks.Options{StaleEvery: 1}))
	}
	if cfg.Metrics {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(errOut), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		a.closers = append(a.closers, mp.Shutdown)
		oh, err := otelhook.New(mp.Meter("pokedex"))
		if err != nil {
			return nil, fmt.Errorf("metrics instruments: %w", err)
		}
		sets = append(sets, oh)
	}
	var hooks *asynchook.Hooks
	if len(sets) > 0 {
		hooks = asynchook.New(sets, sets, 1, 1024)
		// closed before the meter provider so queued events are recorded
		a.closers = append(a.closers, func(context.Context) error { hooks.Close(); return nil })
	}

	var th tier.Hooks
	if hooks != nil {
		th = hooks
	}
	tiers, err := a.newTiers(ctx, cfg.Tier, logger, th)
	if err != nil {
		return nil, err
	}

	// closed first, before the tiers its fetches read through
	opts := querycache.Options{
		Logger:      logger,
		Retention:   time.Duration(cfg.Cache.Retention),
		BaseContext: ctx,
	}
	if hooks != nil {
		opts.Hooks = hooks
	}
	a.cache = querycache.New(opts)
	a.closers = append(a.closers, a.cache.Close)

	client := pokeapi.New(pokeapi.Config{
		BaseURL: cfg.BaseURL,
		Timeout: time.Duration(cfg.Timeout),
		Logger:  logger,
	})

	a.dex, err = pokedex.New(a.cache, client, tiers)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) newTiers(ctx context.Context, cfg config.TierConfig, logger querycache.Logger, hooks tier.Hooks) (pokedex.Tiers, error) {
	if cfg.Kind == "none" || cfg.Kind == "" {
		return pokedex.Tiers{}, nil
	}

	var rdb goredis.UniversalClient
	if cfg.Kind == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return pokedex.Tiers{}, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		// stores are closed first; the shared client goes last
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	// one provider per store: each store closes its own
	newProvider := func() (pr.Provider, error) {
		switch cfg.Kind {
		case "ristretto":
			maxCost := int64(cfg.MaxMB) << 20
			return ristretto.New(ristretto.Config{
				NumCounters: maxCost / 100, // ~100B per entry on average
				MaxCost:     maxCost,
				BufferItems: 64,
				SyncWrites:  true,
			})
		case "bigcache":
			// bigcache expires by LifeWindow only, so it takes the tier's TTL
			lifeWindow := time.Duration(cfg.TTL)
			if lifeWindow == 0 {
				lifeWindow = tier.DefaultTTL
			}
			return bigcache.New(ctx, bigcache.Config{
				LifeWindow:         lifeWindow,
				Shards:             16,
				HardMaxCacheSizeMB: cfg.MaxMB,
			})
		case "redis":
			return redis.New(redis.Config{Client: rdb})
		default:
			return nil, fmt.Errorf("unknown tier %q", cfg.Kind)
		}
	}

	var tiers pokedex.Tiers
	var err error
	if tiers.Pokemon, err = newStore[pokeapi.Pokemon](a, pokedex.NSPokemonDetails, cfg, logger, hooks, rdb, newProvider); err != nil {
		return tiers, err
	}
	if tiers.Abilities, err = newStore[pokeapi.Ability](a, pokedex.NSAbilityDetails, cfg, logger, hooks, rdb, newProvider); err != nil {
		return tiers, err
	}
	if tiers.Lists, err = newStore[pokeapi.PokemonList](a, pokedex.NSPokemonList, cfg, logger, hooks, rdb, newProvider); err != nil {
		return tiers, err
	}
	return tiers, nil
}

func newStore[V any](
	a *app,
	ns string,
	cfg config.TierConfig,
	logger querycache.Logger,
	hooks tier.Hooks,
	rdb goredis.UniversalClient,
	newProvider func() (pr.Provider, error),
) (*tier.Store[V], error) {
	c, err := codec.ByName[V](cfg.Codec)
	if err != nil {
		return nil, err
	}
	p, err := newProvider()
	if err != nil {
		return nil, fmt.Errorf("tier %s: %w", cfg.Kind, err)
	}

	opts := tier.Options[V]{
		Namespace: ns,
		Provider:  p,
		Codec:     codec.Limit[V]{Inner: c, MaxDecode: 4 << 20},
		Logger:    logger,
		Hooks:     hooks,
		TTL:       time.Duration(cfg.TTL),
	}
	if rdb != nil {
		// generations must be shared when entries are
		opts.GenStore = genstore.NewRedisGenStore(rdb, genstore.RedisOptions{Namespace: ns})
	}
	s, err := tier.New(opts)
	if err != nil {
		_ = p.Close(context.Background())
		return nil, err
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Close releases everything in reverse construction order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
