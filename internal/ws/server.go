// Package ws implements the browser-facing RPC transport: one JSON command
// per WebSocket text frame on the first free localhost port in a range.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/config"
	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

// ErrNoFreePort is returned by Listen when every port in range is in use.
var ErrNoFreePort = errors.New("ws: no available port in range")

// Handler receives connection lifecycle and request callbacks.
// *rpc.Dispatcher satisfies it.
type Handler interface {
	Connected(c rpc.Conn)
	Handle(c rpc.Conn, req rpc.Request)
	Closed(c rpc.Conn)
}

type Server struct {
	host           string
	portMin        int
	portMax        int
	handler        Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	upgrader       websocket.Upgrader
	log            zerolog.Logger

	ln   net.Listener
	port int
	http *http.Server

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(cfg config.WebSocketConfig, handler Handler) *Server {
	s := &Server{
		host:           cfg.Host,
		portMin:        cfg.PortMin,
		portMax:        cfg.PortMax,
		handler:        handler,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            logging.For("websocket"),
		conns:          make(map[*conn]struct{}),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Listen binds the first port in range that is not already in use. Any
// other bind error is returned immediately.
func (s *Server) Listen() error {
	for port := s.portMin; port <= s.portMax; port++ {
		s.log.Debug().Int("port", port).Msg("trying port")
		ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
		if err == nil {
			s.ln = ln
			s.port = port
			s.log.Info().Int("port", port).Msg("listening")
			return nil
		}
		if isAddrInUse(err) {
			continue
		}
		return fmt.Errorf("binding port %d: %w", port, err)
	}
	return fmt.Errorf("%w %d-%d", ErrNoFreePort, s.portMin, s.portMax)
}

// Port returns the bound port, or 0 before Listen succeeds.
func (s *Server) Port() int { return s.port }

// Handler returns the HTTP handler serving upgrades.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Start binds and serves in the background.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
	return nil
}

// Shutdown stops accepting and closes every open connection.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("upgrade failed")
		return
	}

	query := r.URL.Query()
	version := rpc.ParseVersionString(query.Get("v"))
	encoding := query.Get("encoding")
	if encoding == "" {
		encoding = "json"
	}
	s.log.Debug().Str("origin", r.Header.Get("Origin")).Msg("new connection")

	hs := rpc.Handshake{Version: version, ClientID: query.Get("client_id"), Encoding: encoding}
	if code := hs.Validate(false); code != 0 {
		s.log.Warn().Int("v", version).Str("encoding", encoding).Msg("unsupported handshake")
		_ = wsConn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
		wsConn.Close()
		return
	}

	c := newConn(s, wsConn, hs.ClientID)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
		c.run()
	}()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return s.allowedHosts[parsed.Host]
	}
	return false
}
