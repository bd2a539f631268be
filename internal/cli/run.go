// Package cli implements the pokedex command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/unkn0wn-root/querycache/internal/config"
)

const closeTimeout = 5 * time.Second

const usageHead = `Usage: pokedex [flags] <command> [args]

Commands:
  show <id> [--refresh]                          Show a Pokémon with its stats and abilities
  list [--offset N] [--limit N] [--search TEXT]  List Pokémon, optionally filtered by name
  config                                         Print the effective configuration

Flags:
`

func printUsage(w io.Writer, fs *flag.FlagSet) {
	var buf strings.Builder
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	fmt.Fprint(w, usageHead+buf.String())
}

// Run is the main entry point. Returns the exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string, env map[string]string) int {
	fs := flag.NewFlagSet("pokedex", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false) // command flags follow the command
	flags := config.RegisterFlags(fs)

	if len(args) > 0 {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, fs)
			return 0
		}
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, fs)
		return 1
	}
	if fs.NArg() == 0 {
		printUsage(out, fs)
		return 0
	}

	cfg, _, err := config.Load(flags.ConfigPath, env)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	cfg = flags.Apply(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	var exec func(context.Context, io.Writer, *app, []string) error
	switch cmd {
	case "config":
		s, err := config.Format(cfg)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		fmt.Fprintln(out, s)
		return 0
	case "show":
		exec = cmdShow
	case "list":
		exec = cmdList
	default:
		fmt.Fprintln(errOut, "error: unknown command:", cmd)
		printUsage(errOut, fs)
		return 1
	}

	a, err := newApp(ctx, cfg, errOut)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	cmdErr := exec(ctx, out, a, cmdArgs)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		fmt.Fprintln(errOut, "warning: shutdown:", err)
	}

	if cmdErr != nil {
		fmt.Fprintln(errOut, "error:", cmdErr)
		return 1
	}
	return 0
}

func newCommandFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
