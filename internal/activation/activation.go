// Package activation provides systemd socket activation for the webhook
// server, so the daemon can be started on demand by a .socket unit.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Listener returns the first systemd-activated listener, detected via the
// LISTEN_PID and LISTEN_FDS environment variables. It returns nil (and no
// error) when no socket activation directed at this process is present.
func Listener() (net.Listener, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// Socket activation is for a different process
		return nil, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return nil, nil
	}

	// Systemd passes file descriptors starting at fd 3
	// (0=stdin, 1=stdout, 2=stderr)
	const firstFD = 3

	file := os.NewFile(uintptr(firstFD), "systemd-socket-0")
	if file == nil {
		return nil, fmt.Errorf("failed to open fd %d", firstFD)
	}
	defer func() {
		_ = file.Close()
	}()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", firstFD, err)
	}

	// Unset the environment variables so child processes (git, papermill)
	// don't inherit them.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listener, nil
}
