package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/unkn0wn-root/querycache/pokedex"
)

const defaultLimit = 20

func cmdList(ctx context.Context, out io.Writer, a *app, args []string) error {
	fs := newCommandFlags("list")
	offset := fs.Int("offset", 0, "Skip first N Pokémon")
	limit := fs.Int("limit", defaultLimit, "Maximum Pokémon to show")
	search := fs.String("search", "", "Only show Pokémon on this page whose name contains the text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("usage: pokedex list [--offset N] [--limit N] [--search TEXT]")
	}
	if *offset < 0 || *limit <= 0 {
		return fmt.Errorf("invalid page: offset=%d limit=%d", *offset, *limit)
	}

	r, err := a.dex.AwaitList(ctx, *offset, *limit)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}

	l := r.Data
	matches := pokedex.SearchResults(l.Results, *search)
	for _, res := range matches {
		fmt.Fprintf(out, "  #%-5d %s\n", res.ID(), pokedex.FormatName(res.Name))
	}
	switch {
	case len(l.Results) == 0:
		fmt.Fprintln(out, "No Pokémon on this page.")
		return nil
	case len(matches) == 0:
		fmt.Fprintf(out, "No Pokémon matching %q on this page.\n", *search)
		return nil
	}
	fmt.Fprintf(out, "Showing %d-%d of %d", *offset+1, *offset+len(l.Results), l.Count)
	if len(matches) != len(l.Results) {
		fmt.Fprintf(out, " (%d matching %q)", len(matches), *search)
	}
	fmt.Fprintln(out)
	return nil
}
