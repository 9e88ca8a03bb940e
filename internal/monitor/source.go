package monitor

import (
	"context"
	"fmt"
)

// Process is one running process as seen by a ProcessSource. Cwd is empty
// when the source cannot determine it.
type Process struct {
	PID  int
	Path string
	Args []string
	Cwd  string
}

// ProcessSource enumerates the processes currently running on the host.
//
// Implementations are called from the scan worker goroutine only and do
// not need to be safe for concurrent use. A returned error aborts the
// current cycle; the next tick tries again.
type ProcessSource interface {
	// Name returns a short lowercase identifier, e.g. "procfs".
	Name() string

	Processes(ctx context.Context) ([]Process, error)
}

// NewSource returns the host ProcessSource registered under name. "auto"
// picks the platform default.
func NewSource(name string) (ProcessSource, error) {
	switch name {
	case "", "auto":
		return DefaultSource(), nil
	case "procfs":
		return NewProcfsSource(""), nil
	case "gopsutil":
		return GopsutilSource{}, nil
	default:
		return nil, fmt.Errorf("unknown process source %q", name)
	}
}
