package relay

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"patchpanel/internal/patchlog"
)

const (
	listenBacklog = 5

	keepaliveIdle     = 60
	keepaliveCount    = 6
	keepaliveInterval = 10
)

// ParseListenArg parses the one CLI argument patchpanel accepts: a string of
// the form ":PORT". Anything before the first colon is ignored, matching the
// original's `atoi(arg + 1)` which simply skips the leading byte.
func ParseListenArg(arg string) (int, error) {
	idx := strings.IndexByte(arg, ':')
	if idx < 0 {
		return 0, fmt.Errorf("patchpanel: listen address %q must contain ':'", arg)
	}
	port, err := strconv.Atoi(arg[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("patchpanel: bad port in %q: %w", arg, err)
	}
	return port, nil
}

// listenTCP opens a blocking IPv4 listening socket on INADDR_ANY:port with
// SO_REUSEADDR set and a backlog of 5, mirroring listensocket() in the
// original patchpanel.c.
func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// boundPort reports the port a listening socket was actually bound to,
// which matters for tests that bind port 0 and need to dial back in.
func boundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("getsockname: unexpected sockaddr type %T", sa)
	}
	return in4.Port, nil
}

// acceptFD accepts one pending connection and returns the new fd plus a
// human-readable peer address for logging.
func acceptFD(listenFD int) (int, string, error) {
	for {
		nfd, sa, err := unix.Accept(listenFD)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, "", err
		}
		return nfd, peerString(sa), nil
	}
}

func peerString(sa unix.Sockaddr) string {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := in4.Addr
		return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], in4.Port)
	}
	return "?"
}

// setKeepaliveLogged enables TCP keepalive with a probe cadence of idle 60s,
// interval 10s, 6 probes before the peer is declared dead. This is on top
// of, not instead of, the relay's own timeout sweep.
// Each knob is attempted independently and a failure is logged but does not
// abort the remaining ones, matching new_connection() in the original,
// which keeps going after any single setsockopt failure.
func setKeepaliveLogged(logger *patchlog.Logger, fd int) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		logger.Printf("set keepalive failed: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, keepaliveIdle); err != nil {
		logger.Printf("set keepalive: keepidle failed: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepaliveCount); err != nil {
		logger.Printf("set keepalive: keepcnt failed: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, keepaliveInterval); err != nil {
		logger.Printf("set keepalive: keepintvl failed: %v", err)
	}
}

// readFD performs a single read, retrying only on EINTR. A non-positive
// return mirrors `read() <= 0` in the original: treat it as "close this
// side," whether it was a clean EOF or a transport error.
func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// writeFD writes once, retrying only on EINTR. Like the original, a short
// write is not retried: the caller treats whatever was accepted as success
// and drops the rest (see bridge.go's forward()).
func writeFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// closeFD closes fd, silently ignoring the "already closed" case so callers
// never need to guard a close against a prior transfer having already
// invalidated the handle.
func closeFD(fd int) {
	if fd < 0 {
		return
	}
	_ = unix.Close(fd)
}

// pollWait blocks until one of fds is ready or timeoutMs elapses.
func pollWait(fds []unix.PollFd, timeoutMs int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
