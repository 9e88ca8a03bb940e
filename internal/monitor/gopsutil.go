package monitor

import (
	"context"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// GopsutilSource enumerates processes through gopsutil and works on every
// platform gopsutil supports.
type GopsutilSource struct{}

func (GopsutilSource) Name() string { return "gopsutil" }

func (GopsutilSource) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	results := make([]Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if status, err := p.StatusWithContext(ctx); err == nil {
			if slices.Contains(status, process.Stop) || slices.Contains(status, process.Zombie) {
				continue
			}
		}

		path, err := p.ExeWithContext(ctx)
		if err != nil || path == "" {
			// Exe needs privileges for foreign processes on some platforms.
			if path, err = p.NameWithContext(ctx); err != nil || path == "" {
				continue
			}
		}

		var args []string
		if cmdline, err := p.CmdlineSliceWithContext(ctx); err == nil && len(cmdline) > 1 {
			args = cmdline[1:]
		}
		cwd, _ := p.CwdWithContext(ctx)

		results = append(results, Process{
			PID:  int(p.Pid),
			Path: path,
			Args: args,
			Cwd:  cwd,
		})
	}
	return results, nil
}
