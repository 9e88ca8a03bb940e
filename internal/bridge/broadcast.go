package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			for range c.send {
			}
			return
		}
	}
}

// Broadcaster fans activity events out to passive listeners and keeps the
// last activity per socket so late listeners can catch up.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*client]bool
	store   *Store
	log     zerolog.Logger
}

func NewBroadcaster(store *Store) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		store:   store,
		log:     logging.For("bridge"),
	}
}

// AddClient registers conn and queues every cached activity for it. The
// send buffer grows to hold the whole snapshot on top of the live margin.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	b.mu.Lock()
	snapshot := b.store.GetAll()
	c := &client{conn: conn, b: b, send: make(chan []byte, len(snapshot)+sendBuffer)}
	b.clients[c] = true
	for _, ev := range snapshot {
		data, err := json.Marshal(ev)
		if err != nil {
			b.log.Error().Err(err).Str("socket", ev.SocketID).Msg("marshal failed")
			continue
		}
		c.send <- data
	}
	b.mu.Unlock()

	go c.writePump()
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	b.removeLocked(c)
	b.mu.Unlock()
}

func (b *Broadcaster) removeLocked(c *client) {
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// Publish caches ev and sends it to every listener. It never blocks.
func (b *Broadcaster) Publish(ev rpc.ActivityEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("socket", ev.SocketID).Msg("marshal failed")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.store.Apply(ev)
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.log.Warn().Msg("listener too slow, disconnecting")
			b.removeLocked(c)
		}
	}
}

func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		b.removeLocked(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
