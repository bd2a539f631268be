package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/pokeapi"
	"github.com/unkn0wn-root/querycache/pokedex"
)

const (
	maxBaseStat = 255
	statBarLen  = 20
)

func cmdShow(ctx context.Context, out io.Writer, a *app, args []string) error {
	fs := newCommandFlags("show")
	refresh := fs.Bool("refresh", false, "Drop cached data for this Pokémon first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: pokedex show <id>")
	}
	id := fs.Arg(0)
	if pokedex.PokemonKey(id) == querycache.NoKey {
		return fmt.Errorf("invalid Pokémon id %q", id)
	}

	if *refresh {
		if _, err := a.dex.RefetchPokemon(ctx, id); err != nil {
			a.log.Warn("warm tier invalidate failed, reload may be served from it", querycache.Fields{"id": id, "err": err})
		}
	}

	r, err := a.dex.AwaitPokemon(ctx, id)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}

	rows, err := a.dex.AbilityRows(ctx, r.Data)
	if err != nil {
		return err
	}
	printPokemon(out, r.Data, rows)
	return nil
}

func printPokemon(w io.Writer, p pokeapi.Pokemon, rows []pokedex.AbilityRow) {
	fmt.Fprintf(w, "#%d %s\n", p.ID, pokedex.FormatName(p.Name))

	types := make([]string, 0, len(p.Types))
	for _, t := range p.Types {
		types = append(types, fmt.Sprintf("%s (%s)", t.Type.Name, pokedex.TypeColor(t.Type.Name)))
	}
	fmt.Fprintf(w, "%-10s %s\n", "Types:", strings.Join(types, ", "))
	fmt.Fprintf(w, "%-10s %.1f m\n", "Height:", float64(p.Height)/10)
	fmt.Fprintf(w, "%-10s %.1f kg\n", "Weight:", float64(p.Weight)/10)
	fmt.Fprintf(w, "%-10s %d\n", "Base XP:", p.BaseExperience)
	fmt.Fprintf(w, "%-10s %s\n", "Artwork:", pokedex.ImageURL(p.ID))

	if len(p.Stats) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Stats")
		for _, s := range p.Stats {
			n := s.BaseStat * statBarLen / maxBaseStat
			fmt.Fprintf(w, "  %-16s %3d  %s\n", pokedex.FormatName(s.Stat.Name), s.BaseStat, strings.Repeat("█", n))
		}
		fmt.Fprintf(w, "  %-16s %3d\n", "Total", p.TotalStats())
	}

	if len(rows) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Abilities")
		for _, row := range rows {
			name := pokedex.FormatName(row.Name)
			if row.Hidden {
				name += " (hidden)"
			}
			fmt.Fprintf(w, "  %s\n    %s\n", name, row.Text)
		}
	}
}
