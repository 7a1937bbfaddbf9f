package webhook

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// listener resolves the socket the server serves on. A systemd activated
// socket takes precedence; without one the configured listen address is
// bound directly.
func (s *Server) listener() (net.Listener, error) {
	ln, err := activatedListener()
	if err != nil {
		return nil, err
	}
	if ln != nil {
		s.logger.Info("using systemd activated socket", "addr", ln.Addr().String())
		return ln, nil
	}
	return net.Listen("tcp", s.cfg.Serve.ListenAddr)
}

// activatedListener returns the systemd-activated listener, if any.
// It checks for socket activation via the LISTEN_PID and LISTEN_FDS
// environment variables and returns nil if no socket activation is detected
// or if the activation is not for this process.
func activatedListener() (net.Listener, error) {
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
	if fdsStr == "" {
		return nil, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}

	if numFDs < 1 {
		return nil, nil
	}

	// Systemd passes file descriptors starting at fd 3
	// (0=stdin, 1=stdout, 2=stderr). The server serves a single socket, so
	// only the first descriptor is consumed.
	const firstFD = 3

	file := os.NewFile(uintptr(firstFD), "systemd-socket-0")
	if file == nil {
		return nil, fmt.Errorf("failed to create file for fd %d", firstFD)
	}

	ln, err := net.FileListener(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", firstFD, err)
	}

	// Close the file descriptor (listener takes ownership)
	_ = file.Close()

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return ln, nil
}
