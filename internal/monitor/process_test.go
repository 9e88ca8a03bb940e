package monitor

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeProc(t *testing.T, root, pid, cmdline, status string) string {
	t.Helper()
	dir := filepath.Join(root, pid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if cmdline != "" {
		if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if status != "" {
		if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestProcfsSource(t *testing.T) {
	root := t.TempDir()
	cwd := t.TempDir()

	dir := writeProc(t, root, "100", "/usr/bin/game\x00--flag\x00 \x00level1\x00", "Name:\tgame\nState:\tS (sleeping)\n")
	if err := os.Symlink(cwd, filepath.Join(dir, "cwd")); err != nil {
		t.Fatal(err)
	}
	writeProc(t, root, "200", "/usr/bin/zombie\x00", "State:\tZ (zombie)\n")
	writeProc(t, root, "201", "/usr/bin/stopped\x00", "State:\tT (stopped)\n")
	writeProc(t, root, "300", "/usr/bin/nostatus\x00", "")
	writeProc(t, root, "400", "", "State:\tR (running)\n")
	writeProc(t, root, "401", "\x00orphan-arg\x00", "State:\tR (running)\n")
	writeProc(t, root, "self", "/usr/bin/self\x00", "State:\tR (running)\n")
	if err := os.WriteFile(filepath.Join(root, "500"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	procs, err := NewProcfsSource(root).Processes(context.Background())
	if err != nil {
		t.Fatalf("Processes: %v", err)
	}

	want := []Process{{PID: 100, Path: "/usr/bin/game", Args: []string{"--flag", " ", "level1"}, Cwd: cwd}}
	if !reflect.DeepEqual(procs, want) {
		t.Fatalf("Processes = %+v, want %+v", procs, want)
	}
}

func TestProcfsSourceMissingRoot(t *testing.T) {
	_, err := NewProcfsSource(filepath.Join(t.TempDir(), "missing")).Processes(context.Background())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestSplitCmdline(t *testing.T) {
	tests := []struct {
		in   string
		path string
		args []string
	}{
		{"/usr/bin/game\x00--mock\x00--dev\x00", "/usr/bin/game", []string{"--mock", "--dev"}},
		{"/usr/bin/game\x00 \x00\x00x\x00", "/usr/bin/game", []string{" ", "x"}},
		{"\x00--flag\x00", "", []string{"--flag"}},
		{"", "", nil},
		{"\x00\x00", "", nil},
		{"single", "single", nil},
		{"/opt/My Game/game\x00", "/opt/My Game/game", nil},
	}
	for _, tt := range tests {
		path, args := splitCmdline([]byte(tt.in))
		if path != tt.path || !reflect.DeepEqual(args, tt.args) {
			t.Errorf("splitCmdline(%q) = %q %q, want %q %q", tt.in, path, args, tt.path, tt.args)
		}
	}
}

func TestNewSource(t *testing.T) {
	for _, name := range []string{"", "auto", "procfs", "gopsutil"} {
		if _, err := NewSource(name); err != nil {
			t.Errorf("NewSource(%q): %v", name, err)
		}
	}
	if _, err := NewSource("psutil"); err == nil {
		t.Error("expected error for unknown source")
	}
}
