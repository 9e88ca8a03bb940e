// relay-tui shows the activities a running relayd is broadcasting.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url     string
		logFile string
	)
	flagSet := pflag.NewFlagSet("relay-tui", pflag.ContinueOnError)
	flagSet.StringVar(&url, "url", "ws://127.0.0.1:1337/", "bridge WebSocket URL")
	flagSet.StringVar(&logFile, "log-file", "", "write debug logs to this file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	cfg.Level = zerolog.DebugLevel
	cfg.NoColor = true
	cfg.Output = out
	logging.Configure(cfg)

	p := tea.NewProgram(tui.New(tui.NewClient(url)), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
