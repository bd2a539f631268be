package pokedex

import (
	"strings"

	"github.com/unkn0wn-root/querycache/pokeapi"
)

// SearchResults keeps the entries whose name contains query, ignoring case.
// Spaces in query match the hyphens FormatName turns into spaces, so
// "mr mime" finds "mr-mime". An empty query keeps everything.
func SearchResults(results []pokeapi.NamedResource, query string) []pokeapi.NamedResource {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return results
	}
	q = strings.ReplaceAll(q, " ", "-")

	var out []pokeapi.NamedResource
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, r)
		}
	}
	return out
}
