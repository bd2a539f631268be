package pokeapi

import (
	"path"
	"strconv"
	"strings"
)

// NamedResource is PokeAPI's {name, url} reference.
type NamedResource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ID parses the numeric id at the end of URL; 0 if there is none.
func (r NamedResource) ID() int {
	id, err := strconv.Atoi(path.Base(strings.TrimRight(r.URL, "/")))
	if err != nil {
		return 0
	}
	return id
}

type Pokemon struct {
	ID             int           `json:"id"`
	Name           string        `json:"name"`
	Height         int           `json:"height"`
	Weight         int           `json:"weight"`
	BaseExperience int           `json:"base_experience"`
	Types          []TypeSlot    `json:"types"`
	Stats          []Stat        `json:"stats"`
	Abilities      []AbilitySlot `json:"abilities"`
	Sprites        Sprites       `json:"sprites"`
}

type TypeSlot struct {
	Slot int           `json:"slot"`
	Type NamedResource `json:"type"`
}

type Stat struct {
	BaseStat int           `json:"base_stat"`
	Effort   int           `json:"effort"`
	Stat     NamedResource `json:"stat"`
}

type AbilitySlot struct {
	Slot     int           `json:"slot"`
	IsHidden bool          `json:"is_hidden"`
	Ability  NamedResource `json:"ability"`
}

type Sprites struct {
	FrontDefault string `json:"front_default"`
}

// TotalStats sums the base stats.
func (p Pokemon) TotalStats() int {
	total := 0
	for _, s := range p.Stats {
		total += s.BaseStat
	}
	return total
}

type Ability struct {
	ID            int           `json:"id"`
	Name          string        `json:"name"`
	EffectEntries []EffectEntry `json:"effect_entries"`
}

type EffectEntry struct {
	Effect      string        `json:"effect"`
	ShortEffect string        `json:"short_effect"`
	Language    NamedResource `json:"language"`
}

// EnglishEffect returns the English effect text, falling back to the first
// entry, or "" when the ability has none.
func (a Ability) EnglishEffect() string {
	for _, e := range a.EffectEntries {
		if e.Language.Name == "en" {
			return e.Effect
		}
	}
	if len(a.EffectEntries) > 0 {
		return a.EffectEntries[0].Effect
	}
	return ""
}

type PokemonList struct {
	Count    int             `json:"count"`
	Next     string          `json:"next"`
	Previous string          `json:"previous"`
	Results  []NamedResource `json:"results"`
}
