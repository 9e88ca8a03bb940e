//go:build !windows

package ipc

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

const probeTimeout = 500 * time.Millisecond

// socketDir resolves the directory the socket lives in, following the same
// variables desktop clients consult.
func socketDir() string {
	for _, key := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(key); dir != "" {
			return dir
		}
	}
	return "/tmp"
}

// Address returns the socket path for slot.
func Address(name string, slot int) string {
	return filepath.Join(socketDir(), name+"-"+strconv.Itoa(slot))
}

// claim binds addr when nothing is listening there. A stale socket file
// left by a dead process is removed first. ok is false when the address is
// held by a live listener.
func claim(addr string) (ln net.Listener, ok bool, err error) {
	conn, err := net.DialTimeout("unix", addr, probeTimeout)
	if err == nil {
		conn.Close()
		return nil, false, nil
	}
	if !errors.Is(err, unix.ECONNREFUSED) && !errors.Is(err, unix.ENOENT) {
		return nil, false, nil
	}
	if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	ln, err = net.Listen("unix", addr)
	if err != nil {
		return nil, false, err
	}
	return ln, true, nil
}
