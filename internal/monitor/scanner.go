// Package monitor polls the host process list, matches it against the
// detectable catalog and turns detection changes into activity commands.
package monitor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

// Handler consumes the SET_ACTIVITY commands the scanner issues.
// *rpc.Dispatcher satisfies it.
type Handler interface {
	Handle(c rpc.Conn, req rpc.Request)
}

// ActiveSession is a game the scanner currently sees running.
type ActiveSession struct {
	GameID    string `json:"gameId"`
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	StartedAt int64  `json:"startedAt"`
}

// Scanner runs one detection cycle per tick and keeps the table of active
// sessions. Cycles never overlap: a trigger that arrives mid-cycle is
// dropped.
type Scanner struct {
	worker   *Worker
	handler  Handler
	interval time.Duration
	now      func() time.Time
	health   *sourceHealth
	log      zerolog.Logger

	scanning atomic.Bool

	mu       sync.Mutex
	sessions map[string]*ActiveSession
}

func NewScanner(worker *Worker, handler Handler, interval time.Duration) *Scanner {
	return &Scanner{
		worker:   worker,
		handler:  handler,
		interval: interval,
		now:      time.Now,
		health:   newSourceHealth(),
		log:      logging.For("process"),
		sessions: make(map[string]*ActiveSession),
	}
}

// Start scans immediately and then on every interval until ctx is
// cancelled. It blocks.
func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Str("source", s.worker.source.Name()).Msg("scanner started")

	s.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scanner stopped")
			return
		case <-ticker.C:
			if !s.ScanOnce(ctx) {
				s.log.Debug().Msg("scan still running, tick skipped")
			}
		}
	}
}

// ScanOnce runs a single cycle. It returns false without doing anything
// when another cycle is already in progress.
func (s *Scanner) ScanOnce(ctx context.Context) bool {
	if !s.scanning.CompareAndSwap(false, true) {
		return false
	}
	defer s.scanning.Store(false)

	start := time.Now()
	detections, panics, err := s.worker.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.health.recordScanFailure(err)
			s.log.Warn().Err(err).Msg("process scan failed")
			s.reportHealth()
		}
		return true
	}
	s.health.recordScanSuccess(panics)
	s.reportHealth()

	s.apply(detections)
	s.log.Debug().Dur("took", time.Since(start)).Int("detected", len(detections)).Msg("scan completed")
	return true
}

// Sessions returns the active sessions ordered by start time.
func (s *Scanner) Sessions() []ActiveSession {
	s.mu.Lock()
	out := make([]ActiveSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].GameID < out[j].GameID
	})
	return out
}

// Health reports the process source's recent behaviour.
func (s *Scanner) Health() SourceHealth {
	return s.health.snapshot(failureThreshold)
}

func (s *Scanner) reportHealth() {
	status, changed := s.health.transition(failureThreshold)
	if !changed {
		return
	}
	switch status {
	case StatusFailed:
		s.log.Warn().Int("failures", failureThreshold).Msg("process source failing")
	case StatusHealthy:
		s.log.Info().Msg("process source recovered")
	default:
		s.log.Debug().Str("status", string(status)).Msg("process source health changed")
	}
}

func (s *Scanner) apply(detections []Detection) {
	nowMs := s.now().UnixMilli()

	var started []ActiveSession
	var stopped []ActiveSession

	s.mu.Lock()
	active := make(map[string]struct{}, len(detections))
	for _, d := range detections {
		active[d.GameID] = struct{}{}
		if sess, ok := s.sessions[d.GameID]; ok {
			sess.PID = d.PID
			continue
		}
		sess := &ActiveSession{GameID: d.GameID, Name: d.Name, PID: d.PID, StartedAt: nowMs}
		s.sessions[d.GameID] = sess
		started = append(started, *sess)
	}
	for id, sess := range s.sessions {
		if _, ok := active[id]; !ok {
			delete(s.sessions, id)
			stopped = append(stopped, *sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range started {
		s.log.Info().Str("game", sess.Name).Str("id", sess.GameID).Int("pid", sess.PID).Msg("detected game")
		s.emit(sess.GameID, map[string]any{
			"application_id": sess.GameID,
			"name":           sess.Name,
			"timestamps":     map[string]any{"start": sess.StartedAt},
		}, sess.PID)
	}
	for _, sess := range stopped {
		s.log.Info().Str("game", sess.Name).Str("id", sess.GameID).Int("pid", sess.PID).Msg("lost game")
		s.emit(sess.GameID, nil, sess.PID)
	}
}

func (s *Scanner) emit(gameID string, activity map[string]any, pid int) {
	args, err := json.Marshal(struct {
		Activity map[string]any `json:"activity"`
		PID      int            `json:"pid"`
	}{activity, pid})
	if err != nil {
		s.log.Error().Err(err).Str("id", gameID).Msg("encoding activity")
		return
	}
	s.handler.Handle(gameConn(gameID), rpc.Request{Cmd: rpc.CmdSetActivity, Args: args})
}

// gameConn stands in for a connection when the scanner reports a game.
// The socket id is the game id and replies go nowhere.
type gameConn string

func (g gameConn) ID() string      { return string(g) }
func (gameConn) ClientID() string  { return "" }
func (gameConn) Send(rpc.Response) {}
func (gameConn) Close(int, string) {}
