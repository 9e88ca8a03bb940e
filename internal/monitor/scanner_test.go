package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/presence-relay/relay/internal/catalog"
	"github.com/presence-relay/relay/internal/detect"
	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

func init() {
	logging.ConfigureTests()
}

// fakeSource returns whatever was last set, or err when set.
type fakeSource struct {
	mu    sync.Mutex
	procs []Process
	err   error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Processes(ctx context.Context) ([]Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Process(nil), f.procs...), nil
}

func (f *fakeSource) set(procs ...Process) {
	f.mu.Lock()
	f.procs = procs
	f.err = nil
	f.mu.Unlock()
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []rpc.ActivityEvent
}

func (l *eventLog) Publish(ev rpc.ActivityEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []rpc.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]rpc.ActivityEvent(nil), l.events...)
}

var fooGame = catalog.DetectableGame{
	ID:          "1111",
	Name:        "Foo",
	Executables: []catalog.ExecutableRule{catalog.ParseRule("foo.exe", "")},
}

func newTestScanner(t *testing.T, source ProcessSource, games ...catalog.DetectableGame) (*Scanner, *eventLog) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w := NewWorker(source, detect.Matcher{}, 100)
	go w.Run(ctx)
	if err := w.Init(ctx, games); err != nil {
		t.Fatalf("Init: %v", err)
	}

	events := &eventLog{}
	d := rpc.NewDispatcher(events, nil)
	t.Cleanup(d.Shutdown)
	return NewScanner(w, d, time.Hour), events
}

func TestScannerLifecycle(t *testing.T) {
	src := &fakeSource{}
	s, events := newTestScanner(t, src, fooGame)
	ctx := context.Background()

	t1 := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return t1 }
	src.set(Process{PID: 1234, Path: `C:\Games\Foo\foo.exe`})

	if !s.ScanOnce(ctx) {
		t.Fatal("cycle 1 skipped")
	}
	got := events.all()
	if len(got) != 1 {
		t.Fatalf("cycle 1 emitted %d events, want 1", len(got))
	}
	start := got[0]
	if start.SocketID != fooGame.ID || start.PID == nil || *start.PID != 1234 {
		t.Fatalf("start envelope = %+v", start)
	}
	if start.Activity["application_id"] != fooGame.ID || start.Activity["name"] != "Foo" {
		t.Errorf("start activity = %v", start.Activity)
	}
	ts := start.Activity["timestamps"].(map[string]any)
	if fmt.Sprint(ts["start"]) != "1700000000000" {
		t.Errorf("timestamps.start = %v, want %d", ts["start"], t1.UnixMilli())
	}

	s.now = func() time.Time { return t1.Add(5 * time.Second) }
	s.ScanOnce(ctx)
	if n := len(events.all()); n != 1 {
		t.Fatalf("cycle 2 emitted %d new events, want 0", n-1)
	}
	sessions := s.Sessions()
	if len(sessions) != 1 || sessions[0].StartedAt != t1.UnixMilli() {
		t.Fatalf("sessions after cycle 2 = %+v", sessions)
	}

	src.set()
	s.ScanOnce(ctx)
	got = events.all()
	if len(got) != 2 {
		t.Fatalf("cycle 3 total events = %d, want 2", len(got))
	}
	stop := got[1]
	if stop.Activity != nil || stop.PID == nil || *stop.PID != 1234 || stop.SocketID != fooGame.ID {
		t.Fatalf("stop event = %+v", stop)
	}
	if len(s.Sessions()) != 0 {
		t.Fatal("session survived process loss")
	}
}

func TestScannerEndToEnd(t *testing.T) {
	src := &fakeSource{}
	s, events := newTestScanner(t, src, fooGame)
	ctx := context.Background()

	src.set(Process{PID: 1234, Path: "C:/Games/Foo/foo.exe", Args: []string{}})
	s.ScanOnce(ctx)
	src.set(Process{PID: 99, Path: "/usr/bin/bash"})
	s.ScanOnce(ctx)

	got := events.all()
	if len(got) != 2 {
		t.Fatalf("events = %d, want start and stop", len(got))
	}
	if got[0].Activity["application_id"] != fooGame.ID || *got[0].PID != 1234 {
		t.Errorf("start = %+v", got[0])
	}
	if got[1].Activity != nil || *got[1].PID != 1234 {
		t.Errorf("stop = %+v", got[1])
	}
}

func TestScannerDedupesByGameID(t *testing.T) {
	src := &fakeSource{}
	game := catalog.DetectableGame{ID: "2", Name: "Multi", Executables: []catalog.ExecutableRule{
		catalog.ParseRule("launcher.exe", ""),
		catalog.ParseRule("game.exe", ""),
	}}
	s, events := newTestScanner(t, src, game)

	src.set(
		Process{PID: 10, Path: "C:/multi/launcher.exe"},
		Process{PID: 11, Path: "C:/multi/game.exe"},
		Process{PID: 11, Path: "C:/multi/game.exe"},
	)
	s.ScanOnce(context.Background())

	got := events.all()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if *got[0].PID != 10 {
		t.Errorf("pid = %d, want first matching process", *got[0].PID)
	}
}

// blockingSource parks inside Processes until released.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Processes(ctx context.Context) ([]Process, error) {
	b.entered <- struct{}{}
	<-b.release
	return []Process{{PID: 1234, Path: "C:/Games/Foo/foo.exe"}}, nil
}

func TestScannerSingleFlight(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}, 2), release: make(chan struct{})}
	s, events := newTestScanner(t, src, fooGame)
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- s.ScanOnce(ctx) }()
	<-src.entered

	if s.ScanOnce(ctx) {
		t.Fatal("second cycle ran while the first was in progress")
	}
	close(src.release)
	if !<-done {
		t.Fatal("first cycle reported skipped")
	}

	if n := len(events.all()); n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
	select {
	case <-src.entered:
		t.Fatal("source was enumerated twice")
	default:
	}
}

func TestScannerSourceFailureKeepsSessions(t *testing.T) {
	src := &fakeSource{}
	s, events := newTestScanner(t, src, fooGame)
	ctx := context.Background()

	src.set(Process{PID: 1234, Path: "C:/Games/Foo/foo.exe"})
	s.ScanOnce(ctx)

	src.fail(errors.New("permission denied"))
	for i := 0; i < failureThreshold; i++ {
		if !s.ScanOnce(ctx) {
			t.Fatal("failed cycle reported skipped")
		}
	}
	if n := len(events.all()); n != 1 {
		t.Fatalf("events after failures = %d, want 1", n)
	}
	if len(s.Sessions()) != 1 {
		t.Fatal("source failure tore down sessions")
	}
	h := s.Health()
	if h.Status != StatusFailed || h.ScanFailures != failureThreshold {
		t.Fatalf("health = %+v", h)
	}
	if h.LastError == "" {
		t.Error("last error not recorded")
	}

	src.set(Process{PID: 1234, Path: "C:/Games/Foo/foo.exe"})
	s.ScanOnce(ctx)
	if s.Health().Status != StatusHealthy {
		t.Fatalf("status after recovery = %s", s.Health().Status)
	}
	if n := len(events.all()); n != 1 {
		t.Fatalf("recovery re-emitted start: %d events", n)
	}
}

func TestScannerRecoversMatchPanic(t *testing.T) {
	bad := catalog.DetectableGame{ID: "666", Name: "Bad", Executables: []catalog.ExecutableRule{catalog.ParseRule("foo.exe", "")}}
	src := &fakeSource{}
	s, events := newTestScanner(t, src, bad, fooGame)

	matcher := detect.Matcher{}
	s.worker.match = func(g *catalog.DetectableGame, variations []string, p Process) bool {
		if g.ID == bad.ID {
			panic("corrupt entry")
		}
		return matcher.MatchGame(g, variations, p.Args, p.Cwd)
	}

	src.set(Process{PID: 1234, Path: "C:/Games/Foo/foo.exe"})
	if !s.ScanOnce(context.Background()) {
		t.Fatal("cycle skipped")
	}

	got := events.all()
	if len(got) != 1 || got[0].SocketID != fooGame.ID {
		t.Fatalf("events = %+v, want only the healthy game", got)
	}
	h := s.Health()
	if h.MatchPanics != 1 || h.Status != StatusDegraded {
		t.Fatalf("health = %+v", h)
	}
}

func TestWorkerReinitRebuildsIndex(t *testing.T) {
	src := &fakeSource{}
	src.set(Process{PID: 1, Path: "/opt/bar/bar"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(src, detect.Matcher{}, 10)
	go w.Run(ctx)

	detections, _, err := w.Scan(ctx)
	if err != nil || len(detections) != 0 {
		t.Fatalf("scan before init = %v, %v", detections, err)
	}

	if err := w.Init(ctx, []catalog.DetectableGame{fooGame}); err != nil {
		t.Fatal(err)
	}
	if detections, _, _ = w.Scan(ctx); len(detections) != 0 {
		t.Fatalf("unexpected detections %v", detections)
	}

	bar := catalog.DetectableGame{ID: "3", Name: "Bar", Executables: []catalog.ExecutableRule{catalog.ParseRule("bar/bar", "")}}
	if err := w.Init(ctx, []catalog.DetectableGame{bar}); err != nil {
		t.Fatal(err)
	}
	detections, _, err = w.Scan(ctx)
	if err != nil || len(detections) != 1 || detections[0].GameID != "3" {
		t.Fatalf("scan after reinit = %v, %v", detections, err)
	}
}

func TestWorkerStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(&fakeSource{}, detect.Matcher{}, 10)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, _, err := w.Scan(context.Background()); !errors.Is(err, ErrWorkerStopped) {
		t.Fatalf("Scan after stop = %v, want ErrWorkerStopped", err)
	}
}

func TestScannerStartScansImmediately(t *testing.T) {
	src := &fakeSource{}
	src.set(Process{PID: 1234, Path: "C:/Games/Foo/foo.exe"})
	s, events := newTestScanner(t, src, fooGame)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(events.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no scan at startup")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
