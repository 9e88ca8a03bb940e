package monitor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcfsSource reads processes straight out of a procfs mount. Stopped and
// zombie processes are skipped.
type ProcfsSource struct {
	root string
}

// NewProcfsSource returns a source rooted at root, or /proc when root is
// empty.
func NewProcfsSource(root string) ProcfsSource {
	if root == "" {
		root = "/proc"
	}
	return ProcfsSource{root: root}
}

func (ProcfsSource) Name() string { return "procfs" }

func (s ProcfsSource) Processes(ctx context.Context) ([]Process, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.root, err)
	}

	var results []Process
	for i, entry := range entries {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		cmdline, err := s.readProcFile(pid, "cmdline")
		if err != nil {
			continue
		}
		status, err := s.readProcFile(pid, "status")
		if err != nil {
			continue
		}
		if isStoppedOrZombie(status) {
			continue
		}

		path, args := splitCmdline(cmdline)
		if path == "" {
			continue
		}

		// cwd is unreadable for other users' processes.
		cwd, _ := os.Readlink(filepath.Join(s.root, entry.Name(), "cwd"))

		results = append(results, Process{
			PID:  pid,
			Path: path,
			Args: args,
			Cwd:  cwd,
		})
	}
	return results, nil
}

func (s ProcfsSource) readProcFile(pid int, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, strconv.Itoa(pid), name))
}

func isStoppedOrZombie(status []byte) bool {
	return bytes.Contains(status, []byte("State:\tT")) || bytes.Contains(status, []byte("State:\tZ"))
}

// splitCmdline returns everything before the first NUL as the executable
// path and the remaining NUL-separated entries as arguments. Only empty
// arguments are dropped.
func splitCmdline(cmdline []byte) (string, []string) {
	path, rest, found := strings.Cut(string(cmdline), "\x00")
	if !found {
		return path, nil
	}
	var args []string
	for _, a := range strings.Split(rest, "\x00") {
		if a != "" {
			args = append(args, a)
		}
	}
	return path, args
}
