// catalog-pack converts an upstream detectable applications listing into
// the packed form relayd loads fastest.
//
// Usage:
//
//	catalog-pack [--goos linux] [-o detectable.cbor.zst] detectable.json
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/pflag"

	"github.com/presence-relay/relay/internal/catalog"
	"github.com/presence-relay/relay/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		output string
		goos   string
	)
	flagSet := pflag.NewFlagSet("catalog-pack", pflag.ContinueOnError)
	flagSet.StringVarP(&output, "output", "o", "", "output path (default: input with "+catalog.PackedExt+")")
	flagSet.StringVar(&goos, "goos", runtime.GOOS, "platform whose executables are kept")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("expected exactly one input file")
	}
	input := flagSet.Arg(0)
	if output == "" {
		output = strings.TrimSuffix(input, ".json") + catalog.PackedExt
	}

	logging.ConfigureRuntime(false)
	log := logging.For("catalog")

	games, err := catalog.FileSource{Path: input, GOOS: goos}.Load()
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := catalog.Pack(f, games); err != nil {
		f.Close()
		os.Remove(output)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Info().Int("games", len(games)).Str("goos", goos).Str("output", output).Msg("catalog packed")
	return nil
}
