// Package activation resolves the listener the server accepts connections on.
// A socket handed over by the service manager takes precedence over binding
// the configured address.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// firstFD is the first inherited descriptor (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// Listen returns an inherited listener when one was passed to this process,
// otherwise it binds addr. The boolean reports whether the listener was
// inherited.
func Listen(addr string) (net.Listener, bool, error) {
	inherited, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(inherited) > 0 {
		// Only the first socket is served
		for _, extra := range inherited[1:] {
			_ = extra.Close()
		}
		return inherited[0], true, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, false, nil
}

// Listeners returns the inherited listeners announced through LISTEN_PID
// and LISTEN_FDS. It returns nil when nothing was passed to this process.
func Listeners() ([]net.Listener, error) {
	numFDs, err := inheritedCount(os.Getenv("LISTEN_PID"), os.Getenv("LISTEN_FDS"), os.Getpid())
	if err != nil || numFDs == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("inherited-socket-%d", i))
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		// FileListener dups the descriptor
		_ = file.Close()
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, listener)
	}

	// Child processes (git, chown) must not inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// inheritedCount parses the activation environment. Activation addressed to
// another pid counts as none.
func inheritedCount(pidStr, fdsStr string, self int) (int, error) {
	if pidStr == "" || fdsStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != self {
		return 0, nil
	}

	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 1 {
		return 0, nil
	}
	return n, nil
}

func closeAll(listeners []net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
