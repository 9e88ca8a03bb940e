// Package mock provides a scripted process source for demos and for
// exercising the relay without real games installed.
package mock

import (
	"context"
	"sync"

	"github.com/presence-relay/relay/internal/catalog"
	"github.com/presence-relay/relay/internal/monitor"
)

// Process is a scripted process. Pattern controls when it is visible:
//
//	steady  always running
//	flicker running for Period scans, then gone for Period scans
//	late    appears at scan StartTick and stays
//	exit    runs until scan EndTick, then disappears for good
type Process struct {
	monitor.Process
	Pattern   string
	Period    int
	StartTick int
	EndTick   int
}

// Source replays scripted processes. Every Processes call advances one tick.
type Source struct {
	mu    sync.Mutex
	procs []Process
	tick  int
}

// NewSource returns a Source over procs, or over the demo set when procs is
// nil.
func NewSource(procs []Process) *Source {
	if procs == nil {
		procs = demoProcesses()
	}
	return &Source{procs: procs}
}

func (s *Source) Name() string { return "mock" }

func (s *Source) Processes(ctx context.Context) ([]monitor.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++

	var out []monitor.Process
	for _, p := range s.procs {
		if visible(p, s.tick) {
			out = append(out, p.Process)
		}
	}
	return out, nil
}

func visible(p Process, tick int) bool {
	switch p.Pattern {
	case "flicker":
		period := p.Period
		if period <= 0 {
			period = 3
		}
		return (tick-1)/period%2 == 0
	case "late":
		return tick >= p.StartTick
	case "exit":
		return tick < p.EndTick
	default:
		return true
	}
}

func demoProcesses() []Process {
	return []Process{
		{
			Process: monitor.Process{PID: 4101, Path: `C:\Games\Stellar Drift\StellarDrift64.exe`, Args: []string{"-windowed"}},
			Pattern: "steady",
		},
		{
			Process: monitor.Process{PID: 4102, Path: "/home/user/.local/share/Steam/steamapps/common/Hollow Pines/hollowpines.x86_64"},
			Pattern: "flicker", Period: 4,
		},
		{
			Process: monitor.Process{PID: 4103, Path: "/opt/retroquest/bin/rq", Args: []string{"--launch", "campaign"}},
			Pattern: "late", StartTick: 3,
		},
		{
			Process: monitor.Process{PID: 4104, Path: "java", Args: []string{"-jar", "blockcraft.jar"}, Cwd: "/home/user/games/blockcraft"},
			Pattern: "exit", EndTick: 6,
		},
		{
			Process: monitor.Process{PID: 4105, Path: "/usr/bin/bash"},
			Pattern: "steady",
		},
	}
}

// Catalog returns detectable games matching the demo processes, for runs
// without a catalog file.
func Catalog() []catalog.DetectableGame {
	return []catalog.DetectableGame{
		{ID: "900000000000000001", Name: "Stellar Drift", Executables: []catalog.ExecutableRule{
			catalog.ParseRule("stellar drift/stellardrift.exe", ""),
		}},
		{ID: "900000000000000002", Name: "Hollow Pines", Executables: []catalog.ExecutableRule{
			catalog.ParseRule(">hollowpines.x86_64", ""),
		}},
		{ID: "900000000000000003", Name: "Retro Quest", Executables: []catalog.ExecutableRule{
			catalog.ParseRule("bin/rq", "campaign"),
		}},
		{ID: "900000000000000004", Name: "Blockcraft", Executables: []catalog.ExecutableRule{
			catalog.ParseRule("java", "blockcraft.jar"),
		}},
	}
}
