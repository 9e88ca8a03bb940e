// Package bridge serves the activity stream to passive WebSocket listeners
// such as overlays and the terminal viewer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/config"
	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

type Server struct {
	addr        string
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	log         zerolog.Logger

	ln   net.Listener
	http *http.Server
	done chan struct{}
}

func NewServer(cfg config.BridgeConfig) *Server {
	return &Server{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		broadcaster: NewBroadcaster(NewStore()),
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:         logging.For("bridge"),
	}
}

// Publish implements rpc.Sink. It is safe to call before Start or after
// a failed Start; events are still cached.
func (s *Server) Publish(ev rpc.ActivityEvent) {
	s.broadcaster.Publish(ev)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	s.broadcaster.CloseAll()
	<-s.done
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := s.broadcaster.AddClient(conn)
	s.log.Debug().Str("remote", r.RemoteAddr).Int("listeners", s.broadcaster.ClientCount()).Msg("listener connected")

	// Listeners never send anything meaningful; read only to notice close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.broadcaster.RemoveClient(c)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("listener disconnected")
}
