package tui

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
	writeTimeout       = 10 * time.Second
)

var errNotConnected = errors.New("not connected")

// Client follows the bridge stream and reconnects with exponential backoff.
type Client struct {
	url string
	log zerolog.Logger

	// Overridable by tests.
	baseDelay time.Duration
	maxDelay  time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewClient(url string) *Client {
	return &Client{
		url:       url,
		log:       logging.For("tui"),
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
	}
}

type ConnectedMsg struct{}

type DisconnectedMsg struct{ Err error }

// EventMsg carries one activity event from the bridge.
type EventMsg struct{ Event rpc.ActivityEvent }

// Listen returns a command that dials until it succeeds or ctx ends.
func (c *Client) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := c.baseDelay
		for {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err == nil {
				c.mu.Lock()
				if c.cancel != nil {
					c.cancel()
				}
				pingCtx, cancel := context.WithCancel(ctx)
				c.conn = conn
				c.cancel = cancel
				c.mu.Unlock()

				go c.pingLoop(pingCtx, conn)
				return ConnectedMsg{}
			}

			c.log.Debug().Err(err).Dur("retry", delay).Msg("bridge dial failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, c.maxDelay)
		}
	}
}

// ReadLoop returns a command that delivers the next event, skipping
// anything that does not decode.
func (c *Client) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: errNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				return DisconnectedMsg{Err: err}
			}
			var ev rpc.ActivityEvent
			if err := json.Unmarshal(data, &ev); err != nil || ev.SocketID == "" {
				c.log.Debug().Bytes("data", data).Msg("ignoring message")
				continue
			}
			return EventMsg{Event: ev}
		}
	}
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// Close drops the current connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
