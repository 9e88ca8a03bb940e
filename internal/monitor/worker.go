package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/catalog"
	"github.com/presence-relay/relay/internal/detect"
	"github.com/presence-relay/relay/internal/logging"
)

// ErrWorkerStopped is returned by Worker calls made after Run has exited.
var ErrWorkerStopped = errors.New("scan worker stopped")

// Detection is one game found running during a scan.
type Detection struct {
	GameID string
	Name   string
	PID    int
}

type (
	initRequest struct {
		games []catalog.DetectableGame
		done  chan struct{}
	}
	scanRequest struct {
		reply chan any
	}
	scanResult struct {
		detections []Detection
		panics     int
	}
	scanError struct {
		err error
	}
)

// Worker owns the match index and path cache and performs scans on its own
// goroutine. Callers talk to it only through Init and Scan.
type Worker struct {
	source    ProcessSource
	match     func(g *catalog.DetectableGame, variations []string, p Process) bool
	cacheSize int
	inbox     chan any
	stopped   chan struct{}
	log       zerolog.Logger

	// Owned by the Run goroutine.
	index *detect.Index
	cache *detect.PathCache
}

func NewWorker(source ProcessSource, matcher detect.Matcher, cacheSize int) *Worker {
	return &Worker{
		source: source,
		match: func(g *catalog.DetectableGame, variations []string, p Process) bool {
			return matcher.MatchGame(g, variations, p.Args, p.Cwd)
		},
		cacheSize: cacheSize,
		inbox:     make(chan any),
		stopped:   make(chan struct{}),
		log:       logging.For("process"),
	}
}

// Run serves requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.inbox:
			switch req := msg.(type) {
			case initRequest:
				w.index = detect.NewIndex(req.games)
				w.cache = detect.NewPathCache(w.cacheSize)
				w.log.Info().Int("games", len(req.games)).Int("keys", w.index.Keys()).Msg("catalog indexed")
				close(req.done)
			case scanRequest:
				req.reply <- w.scan(ctx)
			}
		}
	}
}

// Init replaces the catalog. The index and path cache are rebuilt from
// scratch.
func (w *Worker) Init(ctx context.Context, games []catalog.DetectableGame) error {
	req := initRequest{games: games, done: make(chan struct{})}
	if err := w.send(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrWorkerStopped
	}
}

// Scan enumerates processes and returns the games that matched, at most
// one detection per game id.
func (w *Worker) Scan(ctx context.Context) ([]Detection, int, error) {
	req := scanRequest{reply: make(chan any, 1)}
	if err := w.send(ctx, req); err != nil {
		return nil, 0, err
	}
	select {
	case msg := <-req.reply:
		switch res := msg.(type) {
		case scanResult:
			return res.detections, res.panics, nil
		case scanError:
			return nil, 0, res.err
		}
		return nil, 0, fmt.Errorf("unexpected scan reply %T", msg)
	case <-w.stopped:
		return nil, 0, ErrWorkerStopped
	}
}

func (w *Worker) send(ctx context.Context, msg any) error {
	select {
	case w.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrWorkerStopped
	}
}

func (w *Worker) scan(ctx context.Context) any {
	if w.index == nil {
		return scanResult{}
	}

	procs, err := w.source.Processes(ctx)
	if err != nil {
		return scanError{err: fmt.Errorf("%s: %w", w.source.Name(), err)}
	}

	var (
		detections []Detection
		found      = make(map[string]struct{})
		seen       = make(map[string]struct{}, len(procs))
		panics     int
	)
	for _, p := range procs {
		if p.Path == "" {
			continue
		}
		key := strconv.Itoa(p.PID) + "\x00" + p.Path
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		variations := w.cache.Variations(p.Path)
		for _, game := range w.index.Candidates(variations) {
			if _, ok := found[game.ID]; ok {
				continue
			}
			matched, ok := w.matchSafely(game, variations, p)
			if !ok {
				panics++
				continue
			}
			if matched {
				found[game.ID] = struct{}{}
				detections = append(detections, Detection{GameID: game.ID, Name: game.Name, PID: p.PID})
			}
		}
	}
	return scanResult{detections: detections, panics: panics}
}

// matchSafely runs the matcher for one catalog entry, recovering from any
// panic so a single bad entry cannot abort the cycle. ok is false when a
// panic was recovered.
func (w *Worker) matchSafely(game *catalog.DetectableGame, variations []string, p Process) (matched, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().
				Interface("panic", r).
				Int("pid", p.PID).
				Str("entry", game.JSON()).
				Msg("error during matching")
			matched, ok = false, false
		}
	}()
	return w.match(game, variations, p), true
}
