// Package relay owns every long-lived component of the daemon and their
// start and shutdown order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/bridge"
	"github.com/presence-relay/relay/internal/catalog"
	"github.com/presence-relay/relay/internal/config"
	"github.com/presence-relay/relay/internal/detect"
	"github.com/presence-relay/relay/internal/ipc"
	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/mock"
	"github.com/presence-relay/relay/internal/monitor"
	"github.com/presence-relay/relay/internal/rpc"
	"github.com/presence-relay/relay/internal/ws"
)

type Options struct {
	// Linker validates invites and deep links. Nil rejects everything.
	Linker rpc.Linker
	// Source overrides the process source chosen from config.
	Source monitor.ProcessSource
	// Catalog overrides loading the catalog from cfg.Catalog.Path.
	Catalog catalog.Source
	// Mock replaces the process source with the demo source and, when the
	// catalog is empty, the demo catalog.
	Mock bool
}

type Server struct {
	cfg  *config.Config
	opts Options
	log  zerolog.Logger

	dispatcher *rpc.Dispatcher
	bridge     *bridge.Server
	ipc        *ipc.Server
	ws         *ws.Server
	worker     *monitor.Worker
	scanner    *monitor.Scanner

	bridgeUp bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{cfg: cfg, opts: opts, log: logging.For("relay")}

	s.bridge = bridge.NewServer(cfg.Bridge)
	var sink rpc.Sink
	if cfg.Bridge.Enabled {
		sink = s.bridge
	}
	s.dispatcher = rpc.NewDispatcher(sink, opts.Linker)

	if cfg.IPC.Enabled {
		s.ipc = ipc.NewServer(cfg.IPC.Name, cfg.IPC.Slots, s.dispatcher)
	}
	if cfg.WebSocket.Enabled {
		s.ws = ws.NewServer(cfg.WebSocket, s.dispatcher)
	}

	if cfg.Scanner.Enabled {
		source, err := s.selectSource()
		if err != nil {
			return nil, err
		}
		policy, err := detect.ParseArgPolicy(cfg.Scanner.ArgMatch)
		if err != nil {
			return nil, err
		}
		s.worker = monitor.NewWorker(source, detect.Matcher{Args: policy}, cfg.Scanner.CacheSize)
		s.scanner = monitor.NewScanner(s.worker, s.dispatcher, cfg.Scanner.Interval)
	}
	return s, nil
}

func (s *Server) selectSource() (monitor.ProcessSource, error) {
	if s.opts.Source != nil {
		return s.opts.Source, nil
	}
	if s.opts.Mock || s.cfg.Scanner.Source == "mock" {
		return mock.NewSource(nil), nil
	}
	return monitor.NewSource(s.cfg.Scanner.Source)
}

// Start binds the transports and starts scanning. IPC and WebSocket bind
// failures are fatal; a bridge failure is logged and the relay runs
// without it.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.ipc != nil {
		if err := s.ipc.Start(); err != nil {
			s.cancel()
			return fmt.Errorf("starting ipc transport: %w", err)
		}
		s.log.Info().Str("addr", s.ipc.Addr()).Msg("ipc ready")
	}
	if s.ws != nil {
		if err := s.ws.Start(); err != nil {
			s.closeIPC()
			s.cancel()
			return fmt.Errorf("starting websocket transport: %w", err)
		}
		s.log.Info().Int("port", s.ws.Port()).Msg("websocket ready")
	}
	if s.cfg.Bridge.Enabled {
		if err := s.bridge.Start(); err != nil {
			s.log.Error().Err(err).Msg("bridge unavailable, continuing without it")
		} else {
			s.bridgeUp = true
		}
	}

	if s.scanner == nil {
		s.log.Info().Msg("process scanning disabled")
		return nil
	}

	games := s.loadCatalog()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Run(ctx)
	}()
	if err := s.worker.Init(ctx, games); err != nil {
		s.Shutdown(context.Background())
		return fmt.Errorf("indexing catalog: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scanner.Start(ctx)
	}()
	return nil
}

func (s *Server) loadCatalog() []catalog.DetectableGame {
	src := s.opts.Catalog
	if src == nil {
		src = catalog.FileSource{Path: s.cfg.Catalog.Path}
	}
	games, err := src.Load()
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Warn().Str("path", s.cfg.Catalog.Path).Msg("catalog not found, nothing will be detected")
	case err != nil:
		s.log.Error().Err(err).Msg("catalog failed to load, nothing will be detected")
	}
	if len(games) == 0 && (s.opts.Mock || s.cfg.Scanner.Source == "mock") {
		games = mock.Catalog()
	}
	s.log.Info().Int("games", len(games)).Msg("catalog loaded")
	return games
}

// Shutdown stops the scanner, closes every listener and connection, and
// waits for in-flight work.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	if s.ws != nil {
		if err := s.ws.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("websocket: %w", err))
		}
	}
	s.closeIPC()
	s.dispatcher.Shutdown()
	if s.bridgeUp {
		if err := s.bridge.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bridge: %w", err))
		}
	}
	s.wg.Wait()
	s.log.Info().Msg("relay stopped")
	return errors.Join(errs...)
}

func (s *Server) closeIPC() {
	if s.ipc == nil {
		return
	}
	if err := s.ipc.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing ipc listener")
	}
}

// IPCAddr returns the bound IPC address, or "" when IPC is disabled.
func (s *Server) IPCAddr() string {
	if s.ipc == nil {
		return ""
	}
	return s.ipc.Addr()
}

// WebSocketPort returns the bound WebSocket port, or 0 when disabled.
func (s *Server) WebSocketPort() int {
	if s.ws == nil {
		return 0
	}
	return s.ws.Port()
}

// BridgeAddr returns the bridge address when it is serving.
func (s *Server) BridgeAddr() (string, bool) {
	return s.bridge.Addr(), s.bridgeUp
}

// Sessions returns the processes currently detected by the scanner.
func (s *Server) Sessions() []monitor.ActiveSession {
	if s.scanner == nil {
		return nil
	}
	return s.scanner.Sessions()
}
