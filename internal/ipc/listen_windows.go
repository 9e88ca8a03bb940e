//go:build windows

package ipc

import (
	"errors"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

const probeTimeout = 500 * time.Millisecond

// Address returns the named pipe path for slot.
func Address(name string, slot int) string {
	return `\\?\pipe\` + name + "-" + strconv.Itoa(slot)
}

// claim creates the pipe when no server currently owns it. Named pipes
// have no filesystem entry, so there is nothing stale to remove.
func claim(addr string) (ln net.Listener, ok bool, err error) {
	timeout := probeTimeout
	conn, err := winio.DialPipe(addr, &timeout)
	if err == nil {
		conn.Close()
		return nil, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
		return nil, false, nil
	}

	ln, err = winio.ListenPipe(addr, nil)
	if err != nil {
		return nil, false, err
	}
	return ln, true, nil
}
