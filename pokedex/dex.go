// Package pokedex binds PokeAPI resources to the query cache: one namespace
// per resource kind, canonical keys, and optional warm tiers underneath.
package pokedex

import (
	"context"
	"errors"
	"strconv"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/pokeapi"
	"github.com/unkn0wn-root/querycache/tier"
	"golang.org/x/sync/errgroup"
)

const (
	NSPokemonDetails = "pokemon-details"
	NSAbilityDetails = "ability-details"
	NSPokemonList    = "pokemon-list"
)

// Ability row texts.
const (
	TextAbilityLoading = "Loading description…"
	TextAbilityFailed  = "Failed to load description."
	TextAbilityEmpty   = "No description available."
)

var (
	errBadKey         = errors.New("pokedex: malformed key")
	errSourceRequired = errors.New("pokedex: source is required")
)

// Source loads resources from the catalog; *pokeapi.Client implements it.
type Source interface {
	Pokemon(ctx context.Context, id int) (pokeapi.Pokemon, error)
	Ability(ctx context.Context, name string) (pokeapi.Ability, error)
	List(ctx context.Context, offset, limit int) (pokeapi.PokemonList, error)
}

// Tiers are optional warm stores, one per namespace. nil fields are skipped.
type Tiers struct {
	Pokemon   *tier.Store[pokeapi.Pokemon]
	Abilities *tier.Store[pokeapi.Ability]
	Lists     *tier.Store[pokeapi.PokemonList]
}

// Dex is the set of PokeAPI namespaces over one cache.
type Dex struct {
	cache     *querycache.Cache
	tiers     Tiers
	pokemon   *querycache.Namespace[pokeapi.Pokemon]
	abilities *querycache.Namespace[pokeapi.Ability]
	lists     *querycache.Namespace[pokeapi.PokemonList]
}

func New(c *querycache.Cache, src Source, tiers Tiers) (*Dex, error) {
	if src == nil {
		return nil, errSourceRequired
	}

	var pokemonFetch querycache.FetchFunc[pokeapi.Pokemon] = func(ctx context.Context, key string) (pokeapi.Pokemon, error) {
		id, err := strconv.Atoi(key)
		if err != nil {
			return pokeapi.Pokemon{}, errBadKey
		}
		return src.Pokemon(ctx, id)
	}
	var abilityFetch querycache.FetchFunc[pokeapi.Ability] = src.Ability
	var listFetch querycache.FetchFunc[pokeapi.PokemonList] = func(ctx context.Context, key string) (pokeapi.PokemonList, error) {
		offset, limit, err := parseListKey(key)
		if err != nil {
			return pokeapi.PokemonList{}, err
		}
		return src.List(ctx, offset, limit)
	}

	if tiers.Pokemon != nil {
		pokemonFetch = tier.ReadThrough(tiers.Pokemon, pokemonFetch)
	}
	if tiers.Abilities != nil {
		abilityFetch = tier.ReadThrough(tiers.Abilities, abilityFetch)
	}
	if tiers.Lists != nil {
		listFetch = tier.ReadThrough(tiers.Lists, listFetch)
	}

	d := &Dex{cache: c, tiers: tiers}
	var err error
	if d.pokemon, err = querycache.NewNamespace(c, NSPokemonDetails, pokemonFetch); err != nil {
		return nil, err
	}
	if d.abilities, err = querycache.NewNamespace(c, NSAbilityDetails, abilityFetch); err != nil {
		return nil, err
	}
	if d.lists, err = querycache.NewNamespace(c, NSPokemonList, listFetch); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dex) Cache() *querycache.Cache { return d.cache }

// PokemonDetails returns the state of a Pokémon, fetching it when cold.
func (d *Dex) PokemonDetails(id string) querycache.Result[pokeapi.Pokemon] {
	return d.pokemon.Get(PokemonKey(id))
}

// AbilityDetails returns the state of an ability, fetching it when cold.
func (d *Dex) AbilityDetails(name string) querycache.Result[pokeapi.Ability] {
	return d.abilities.Get(AbilityKey(name))
}

// PokemonList returns the state of one list page, fetching it when cold.
func (d *Dex) PokemonList(offset, limit int) querycache.Result[pokeapi.PokemonList] {
	return d.lists.Get(ListKey(offset, limit))
}

func (d *Dex) AwaitPokemon(ctx context.Context, id string) (querycache.Result[pokeapi.Pokemon], error) {
	return d.pokemon.Await(ctx, PokemonKey(id))
}

func (d *Dex) AwaitAbility(ctx context.Context, name string) (querycache.Result[pokeapi.Ability], error) {
	return d.abilities.Await(ctx, AbilityKey(name))
}

func (d *Dex) AwaitList(ctx context.Context, offset, limit int) (querycache.Result[pokeapi.PokemonList], error) {
	return d.lists.Await(ctx, ListKey(offset, limit))
}

// ObservePokemon returns a view that follows one Pokémon id at a time.
func (d *Dex) ObservePokemon(onChange func(querycache.Result[pokeapi.Pokemon])) *View[pokeapi.Pokemon] {
	return &View[pokeapi.Pokemon]{obs: d.pokemon.Observe(onChange), norm: PokemonKey}
}

// ObserveAbility returns a view that follows one ability name at a time.
func (d *Dex) ObserveAbility(onChange func(querycache.Result[pokeapi.Ability])) *View[pokeapi.Ability] {
	return &View[pokeapi.Ability]{obs: d.abilities.Observe(onChange), norm: AbilityKey}
}

// RefetchPokemon reloads a Pokémon from the catalog, skipping the warm tier.
// The reload is issued even when the tier cannot be invalidated; the error is
// returned so the caller can report that the reload may be served from it.
func (d *Dex) RefetchPokemon(ctx context.Context, id string) (querycache.Result[pokeapi.Pokemon], error) {
	key := PokemonKey(id)
	if key == querycache.NoKey {
		return querycache.Result[pokeapi.Pokemon]{}, nil
	}
	err := invalidateTier(ctx, d.tiers.Pokemon, key)
	return d.pokemon.Refetch(key), err
}

// InvalidatePokemon drops a Pokémon from the warm tier and the cache.
func (d *Dex) InvalidatePokemon(ctx context.Context, id string) error {
	key := PokemonKey(id)
	if key == querycache.NoKey {
		return nil
	}
	err := invalidateTier(ctx, d.tiers.Pokemon, key)
	d.pokemon.Invalidate(key)
	return err
}

// InvalidateAbility drops an ability from the warm tier and the cache.
func (d *Dex) InvalidateAbility(ctx context.Context, name string) error {
	key := AbilityKey(name)
	if key == querycache.NoKey {
		return nil
	}
	err := invalidateTier(ctx, d.tiers.Abilities, key)
	d.abilities.Invalidate(key)
	return err
}

// the tier goes first so that an observed entry refetching right away cannot
// read the old value back from it
func invalidateTier[V any](ctx context.Context, s *tier.Store[V], key string) error {
	if s == nil {
		return nil
	}
	return s.Invalidate(ctx, key)
}

// AbilityRow is one line of a Pokémon's ability list.
type AbilityRow struct {
	Name   string
	Hidden bool
	Text   string
	Err    *querycache.ErrorInfo
}

// AbilityText is the description line for an ability result.
func AbilityText(r querycache.Result[pokeapi.Ability]) string {
	switch {
	case r.Loading && !r.HasData:
		return TextAbilityLoading
	case r.Err != nil:
		return TextAbilityFailed
	}
	if e := r.Data.EnglishEffect(); e != "" {
		return e
	}
	return TextAbilityEmpty
}

// AbilityRows loads every ability of p concurrently through the ability
// namespace and returns one row per slot, in slot order. A failed ability
// becomes a row with TextAbilityFailed; only ctx ending is an error.
func (d *Dex) AbilityRows(ctx context.Context, p pokeapi.Pokemon) ([]AbilityRow, error) {
	rows := make([]AbilityRow, len(p.Abilities))
	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range p.Abilities {
		g.Go(func() error {
			r, err := d.AwaitAbility(gctx, slot.Ability.Name)
			rows[i] = AbilityRow{
				Name:   slot.Ability.Name,
				Hidden: slot.IsHidden,
				Text:   AbilityText(r),
				Err:    r.Err,
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return rows, err
	}
	return rows, nil
}

// View follows one raw identifier at a time, normalizing it to a cache key.
type View[V any] struct {
	obs  *querycache.Observer[V]
	norm func(string) string
}

// Bind points the view at raw and returns the state to render.
func (v *View[V]) Bind(raw string) querycache.Result[V] { return v.obs.Bind(v.norm(raw)) }

func (v *View[V]) Key() string { return v.obs.Key() }

func (v *View[V]) Result() querycache.Result[V] { return v.obs.Result() }

func (v *View[V]) Close() { v.obs.Close() }
