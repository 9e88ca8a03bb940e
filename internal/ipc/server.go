package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

// ErrNoFreeAddress is returned by Listen when every slot is taken.
var ErrNoFreeAddress = errors.New("ipc: no free socket address")

// Handler receives connection lifecycle and request callbacks.
// *rpc.Dispatcher satisfies it.
type Handler interface {
	Connected(c rpc.Conn)
	Handle(c rpc.Conn, req rpc.Request)
	Closed(c rpc.Conn)
}

// Server accepts IPC connections on the first free numbered address.
type Server struct {
	name       string
	slots      int
	handler    Handler
	maxPayload int
	log        zerolog.Logger

	ln     net.Listener
	addr   string
	closed atomic.Bool

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(name string, slots int, handler Handler) *Server {
	return &Server{
		name:       name,
		slots:      slots,
		handler:    handler,
		maxPayload: DefaultMaxPayload,
		log:        logging.For("ipc"),
		conns:      make(map[*conn]struct{}),
	}
}

// Listen probes slots 0..slots-1 in order and binds the first address with
// no live listener.
func (s *Server) Listen() error {
	for slot := 0; slot < s.slots; slot++ {
		addr := Address(s.name, slot)
		ln, ok, err := claim(addr)
		if err != nil {
			s.log.Warn().Err(err).Str("addr", addr).Msg("cannot bind socket")
			continue
		}
		if !ok {
			s.log.Debug().Str("addr", addr).Msg("socket in use")
			continue
		}
		s.ln = ln
		s.addr = addr
		s.log.Info().Str("addr", addr).Msg("listening")
		return nil
	}
	return fmt.Errorf("%w after %d tries", ErrNoFreeAddress, s.slots)
}

// Addr returns the bound address, or "" before Listen succeeds.
func (s *Server) Addr() string { return s.addr }

// Start binds and begins accepting in the background.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve()
	}()
	return nil
}

func (s *Server) serve() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("accept failed")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(nc)
		}()
	}
}

// Close stops accepting, tears down every live connection and waits for
// their goroutines to exit.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.teardown()
	}

	s.wg.Wait()
	return err
}

// ServeConn runs the handshake and read loop for one connection until it
// closes. Frames from a single connection are handled strictly in order.
func (s *Server) ServeConn(nc net.Conn) {
	c := &conn{
		id:     rpc.NewConnID(),
		nc:     nc,
		server: s,
	}
	c.log = s.log.With().Str("socket", c.id).Logger()
	c.Advance(rpc.StateHandshaking)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		c.teardown()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	c.log.Debug().Msg("new connection")
	c.readLoop(bufio.NewReader(nc))
}

// conn is one IPC client. The read loop goroutine owns handshook; writes
// may come from any goroutine and are serialized by wmu.
type conn struct {
	rpc.Lifecycle

	id       string
	clientID string
	nc       net.Conn
	server   *Server
	log      zerolog.Logger

	handshook bool
	wmu       sync.Mutex
}

func (c *conn) ID() string       { return c.id }
func (c *conn) ClientID() string { return c.clientID }

// Send writes resp as a FRAME. Dropped unless the connection is ready.
func (c *conn) Send(resp rpc.Response) {
	if c.State() != rpc.StateReady {
		return
	}
	f, err := EncodeFrame(OpFrame, resp)
	if err != nil {
		c.log.Error().Err(err).Msg("dropping response")
		return
	}
	c.log.Debug().RawJSON("msg", f.Payload).Msg("sending")
	if err := c.write(f); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
	}
}

// Close sends a CLOSE frame carrying code and message, then tears the
// connection down.
func (c *conn) Close(code int, message string) {
	if c.State() != rpc.StateClosed {
		if f, err := EncodeFrame(OpClose, closePayload{Code: code, Message: message}); err == nil {
			_ = c.write(f)
		}
	}
	c.teardown()
}

func (c *conn) write(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.nc, f)
}

// teardown closes the socket once. The dispatcher only hears about
// connections that completed the handshake.
func (c *conn) teardown() {
	prev := c.Lifecycle.Close()
	if prev == rpc.StateClosed {
		return
	}
	c.nc.Close()
	c.log.Debug().Str("from", prev.String()).Msg("socket closed")
	if prev == rpc.StateReady {
		c.server.handler.Closed(c)
	}
}

func (c *conn) readLoop(r io.Reader) {
	for {
		f, err := ReadFrame(r, c.server.maxPayload)
		if err != nil {
			c.readFailed(err)
			return
		}
		if c.State() == rpc.StateClosed {
			return
		}

		if !json.Valid(f.Payload) {
			c.log.Warn().Str("op", f.Op.String()).Msg("failed to parse frame payload")
			continue
		}

		switch f.Op {
		case OpPing:
			if err := c.write(Frame{Op: OpPong, Payload: f.Payload}); err != nil {
				c.log.Debug().Err(err).Msg("pong failed")
			}
		case OpPong:
		case OpHandshake:
			if !c.handshake(f.Payload) {
				return
			}
		case OpFrame:
			if !c.handshook {
				c.log.Warn().Msg("client sent frame before handshake")
				c.Close(rpc.CloseAbnormal, "")
				return
			}
			req, err := rpc.DecodeRequest(f.Payload)
			if err != nil {
				c.log.Warn().Err(err).Msg("dropping frame")
				continue
			}
			c.server.handler.Handle(c, req)
		case OpClose:
			c.teardown()
			return
		}
	}
}

// handshake validates the handshake payload and moves the connection to
// Ready. It returns false when the connection was closed.
func (c *conn) handshake(payload []byte) bool {
	if c.handshook {
		c.log.Warn().Msg("client tried to double handshake")
		c.Close(rpc.CloseAbnormal, "")
		return false
	}
	c.handshook = true

	h, err := rpc.DecodeHandshake(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad handshake")
		c.Close(rpc.CloseUnsupported, err.Error())
		return false
	}
	c.log.Debug().Int("v", h.Version).Str("client", h.ClientID).Msg("handshake")

	if code := h.Validate(true); code != 0 {
		c.log.Warn().Int("code", code).Int("v", h.Version).Str("client", h.ClientID).Msg("handshake rejected")
		c.Close(code, "")
		return false
	}

	c.clientID = h.ClientID
	if !c.Advance(rpc.StateReady) {
		return false
	}
	c.server.handler.Connected(c)
	return true
}

func (c *conn) readFailed(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.State() == rpc.StateClosed:
	case errors.Is(err, ErrInvalidOpcode):
		c.log.Warn().Err(err).Msg("invalid packet type")
	case errors.Is(err, ErrPayloadTooLarge):
		c.log.Warn().Err(err).Msg("error whilst reading")
		c.Close(rpc.CloseUnsupported, err.Error())
		return
	default:
		c.log.Debug().Err(err).Msg("read failed")
	}
	c.teardown()
}
