package pokedex

import (
	"strconv"
	"strings"

	"github.com/unkn0wn-root/querycache"
)

// PokemonKey canonicalizes a Pokémon id ("025" => "25"). Empty or non-numeric
// ids yield querycache.NoKey.
func PokemonKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return querycache.NoKey
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return querycache.NoKey
		}
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return querycache.NoKey
	}
	return strconv.Itoa(n)
}

// AbilityKey lower-cases an ability name. Empty names yield querycache.NoKey.
func AbilityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ListKey encodes a page as "offset:limit". A negative offset or a
// non-positive limit yields querycache.NoKey.
func ListKey(offset, limit int) string {
	if offset < 0 || limit <= 0 {
		return querycache.NoKey
	}
	return strconv.Itoa(offset) + ":" + strconv.Itoa(limit)
}

func parseListKey(key string) (offset, limit int, err error) {
	o, l, ok := strings.Cut(key, ":")
	if !ok {
		return 0, 0, errBadKey
	}
	if offset, err = strconv.Atoi(o); err != nil {
		return 0, 0, errBadKey
	}
	if limit, err = strconv.Atoi(l); err != nil {
		return 0, 0, errBadKey
	}
	return offset, limit, nil
}
