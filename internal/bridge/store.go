package bridge

import (
	"sort"
	"sync"

	"github.com/presence-relay/relay/internal/rpc"
)

// Store holds the last non-null activity event per socket.
type Store struct {
	mu     sync.RWMutex
	events map[string]rpc.ActivityEvent
	order  map[string]uint64
	seq    uint64
}

func NewStore() *Store {
	return &Store{
		events: make(map[string]rpc.ActivityEvent),
		order:  make(map[string]uint64),
	}
}

func (s *Store) Get(socketID string) (rpc.ActivityEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[socketID]
	return ev, ok
}

// GetAll returns cached events in the order their sockets first appeared.
func (s *Store) GetAll() []rpc.ActivityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] < s.order[ids[j]] })

	result := make([]rpc.ActivityEvent, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.events[id])
	}
	return result
}

// Apply records ev. A nil activity clears the socket's entry.
func (s *Store) Apply(ev rpc.ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Activity == nil {
		delete(s.events, ev.SocketID)
		delete(s.order, ev.SocketID)
		return
	}
	if _, ok := s.order[ev.SocketID]; !ok {
		s.seq++
		s.order[ev.SocketID] = s.seq
	}
	s.events[ev.SocketID] = ev
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
