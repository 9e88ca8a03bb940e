package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/rpc"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// conn is one browser client. The read loop runs on its own goroutine and
// writes go through the send channel drained by writePump.
type conn struct {
	rpc.Lifecycle

	id       string
	clientID string
	ws       *websocket.Conn
	server   *Server
	log      zerolog.Logger

	mu     sync.Mutex // guards send against close
	send   chan []byte
	closed bool
}

func newConn(s *Server, wsConn *websocket.Conn, clientID string) *conn {
	c := &conn{
		id:       rpc.NewConnID(),
		clientID: clientID,
		ws:       wsConn,
		server:   s,
		send:     make(chan []byte, sendBuffer),
	}
	c.log = s.log.With().Str("socket", c.id).Logger()
	return c
}

func (c *conn) ID() string       { return c.id }
func (c *conn) ClientID() string { return c.clientID }

// Send queues resp as a text frame. A client whose buffer is full is
// disconnected.
func (c *conn) Send(resp rpc.Response) {
	if c.State() != rpc.StateReady {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error().Err(err).Msg("dropping response")
		return
	}
	c.log.Debug().RawJSON("msg", data).Msg("sending")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.log.Warn().Msg("client too slow, disconnecting")
		c.teardown()
	}
}

// Close sends a close frame with code and message, then tears down.
func (c *conn) Close(code int, message string) {
	if c.State() != rpc.StateClosed {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, message), time.Now().Add(writeWait))
	}
	c.teardown()
}

func (c *conn) teardown() {
	prev := c.Lifecycle.Close()
	if prev == rpc.StateClosed {
		return
	}
	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.log.Debug().Str("from", prev.String()).Msg("socket closed")
	if prev == rpc.StateReady {
		c.server.handler.Closed(c)
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("write failed")
			c.teardown()
			for range c.send {
			}
			return
		}
	}
}

// run enters Ready, greets the client and reads until the socket closes.
func (c *conn) run() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.Advance(rpc.StateHandshaking)
	c.Advance(rpc.StateReady)
	c.server.handler.Connected(c)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("socket error")
			}
			break
		}
		req, err := rpc.DecodeRequest(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed message")
			continue
		}
		c.server.handler.Handle(c, req)
	}

	c.teardown()
	<-done
}
