// relayd is the rich presence relay daemon. It accepts activity updates
// over the local IPC socket and the browser WebSocket, detects running
// games, and rebroadcasts everything on the bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/presence-relay/relay/internal/config"
	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/relay"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		catalogPath string
		noScanning  bool
		mockMode    bool
		debug       bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("relayd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "relay.yaml", "path to config file")
	flagSet.StringVar(&catalogPath, "catalog", "", "path to detectable catalog (.json or .cbor.zst)")
	flagSet.BoolVar(&noScanning, "no-process-scanning", false, "disable process detection")
	flagSet.BoolVar(&mockMode, "mock", false, "use simulated processes and the demo catalog")
	flagSet.BoolVar(&debug, "debug", false, "log every message sent and received")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("relayd", version)
		return nil
	}

	logging.ConfigureRuntime(debug)
	log := logging.For("relay")

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}
	if noScanning {
		cfg.Scanner.Enabled = false
	}

	srv, err := relay.New(cfg, relay.Options{Mock: mockMode})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Bool("mock", mockMode).Msg("starting")
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
