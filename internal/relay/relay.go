// Package relay implements the single-threaded TCP rendezvous relay "patch
// panel": named control links, HTTP-CONNECT-initiated streams, and the
// readiness-multiplexed event loop that bridges them.
package relay

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"patchpanel/internal/patchlog"
)

const (
	noCommandTimeout   = 100 * time.Second
	noConnectedTimeout = 10 * time.Second
	noActivityTimeout  = 8 * time.Hour
	statsInterval      = 3600 * time.Second

	// defaultPollTimeoutMs is the poll() ceiling used in production; tests
	// that need Run to notice a canceled context promptly may shrink
	// Relay.pollTimeoutMs instead of waiting out the full 60s.
	defaultPollTimeoutMs = 60_000
)

// Relay owns every piece of mutable state the event loop touches: the
// listener, both slot tables, the clock, and the logger. None of this is
// package-level, so more than one Relay can run in a single process, unlike
// the original's global link/stream tables.
type Relay struct {
	listenFD int
	links    *linkTable
	streams  *streamTable

	clock   Clock
	logger  *patchlog.Logger
	copyBuf [streamBufSize]byte

	lastStats     time.Time
	pollTimeoutMs int
}

// New constructs a Relay bound to an already-listening socket.
func New(listenFD int, logger *patchlog.Logger) *Relay {
	return &Relay{
		listenFD:      listenFD,
		links:         newLinkTable(),
		streams:       newStreamTable(),
		clock:         realClock{},
		logger:        logger,
		pollTimeoutMs: defaultPollTimeoutMs,
	}
}

// Listen opens the relay's IPv4 listening socket for the given ":PORT"
// argument and wraps it in a Relay.
func Listen(addr string, logger *patchlog.Logger) (*Relay, error) {
	port, err := ParseListenArg(addr)
	if err != nil {
		return nil, err
	}
	fd, err := listenTCP(port)
	if err != nil {
		return nil, err
	}
	r := New(fd, logger)
	r.lastStats = r.clock.Now()
	return r, nil
}

// BoundPort reports the TCP port the relay's listening socket is bound to,
// which is only interesting when Listen was asked for an ephemeral (":0")
// port, as in tests.
func (r *Relay) BoundPort() (int, error) {
	return boundPort(r.listenFD)
}

// Close releases the listening socket. Links and streams already accepted
// are left as-is; there is no graceful drain.
func (r *Relay) Close() {
	closeFD(r.listenFD)
}

// Run drives the event loop until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.RunOnce()
	}
}

// RunOnce executes one pass of the event loop: build the readiness set,
// wait up to 60s, dispatch the listener/links/streams that are ready, then
// run the timeout sweep and (periodically) the stats tick. This is
// mainloop() from the original, plus the outer loop's stats-interval check
// folded in as step 7.
func (r *Relay) RunOnce() {
	fds, kinds := r.buildPollSet()

	// A timed-out wait leaves every Revents at zero, so nothing is
	// dispatched, but the sweep and stats tick below still run.
	if _, err := pollWait(fds, r.pollTimeoutMs); err != nil {
		return
	}

	if fds[0].Revents&unix.POLLIN != 0 {
		r.acceptOne()
	}

	for i := 1; i < len(fds); i++ {
		if fds[i].Revents == 0 {
			continue
		}
		switch k := kinds[i]; k.kind {
		case kindLink:
			r.readLink(k.link)
		case kindStreamLeft:
			r.forward(k.stream, sideLeft)
		case kindStreamRight:
			r.forward(k.stream, sideRight)
		}
	}

	now := r.clock.Now()
	r.sweep(now)
	r.maybeLogStats(now)
}

type pollKind int

const (
	kindNone pollKind = iota
	kindLink
	kindStreamLeft
	kindStreamRight
)

type fdOwner struct {
	kind   pollKind
	link   *linkSlot
	stream *streamSlot
}

// buildPollSet assembles the readiness set: the listener, every live link's
// socket, and both sides of every connected stream. Pending streams
// (connected == false) are deliberately not polled; their only progress
// path is the peer's CONNECTED line on its own link.
func (r *Relay) buildPollSet() ([]unix.PollFd, []fdOwner) {
	fds := make([]unix.PollFd, 1, 1+maxLinks+2*maxStreams)
	kinds := make([]fdOwner, 1, 1+maxLinks+2*maxStreams)
	fds[0] = unix.PollFd{Fd: int32(r.listenFD), Events: unix.POLLIN}
	kinds[0] = fdOwner{}

	for i := range r.links.slots {
		lnk := &r.links.slots[i]
		if !lnk.used || lnk.fd < 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(lnk.fd), Events: unix.POLLIN})
		kinds = append(kinds, fdOwner{kind: kindLink, link: lnk})
	}

	for i := range r.streams.slots {
		strm := &r.streams.slots[i]
		if !strm.used || !strm.connected {
			continue
		}
		if strm.left >= 0 {
			fds = append(fds, unix.PollFd{Fd: int32(strm.left), Events: unix.POLLIN})
			kinds = append(kinds, fdOwner{kind: kindStreamLeft, stream: strm})
		}
		if strm.right >= 0 {
			fds = append(fds, unix.PollFd{Fd: int32(strm.right), Events: unix.POLLIN})
			kinds = append(kinds, fdOwner{kind: kindStreamRight, stream: strm})
		}
	}

	return fds, kinds
}

// acceptOne accepts a single pending connection, applies the keepalive
// policy, and files it as a fresh temporary link.
func (r *Relay) acceptOne() {
	fd, peer, err := acceptFD(r.listenFD)
	if err != nil {
		return
	}
	r.logger.Printf("accepted %d from %s", fd, peer)

	setKeepaliveLogged(r.logger, fd)

	slot, ok := r.links.findEmpty()
	if !ok {
		r.logger.Printf("link slot full")
		closeFD(fd)
		return
	}

	now := r.clock.Now()
	slot.used = true
	slot.temporary = true
	slot.superseded = false
	slot.name = ""
	slot.fd = fd
	slot.sz = 0
	slot.lastActivity = now
	slot.established = now
}

// sweep enforces the three timeouts: no-command on links, no-CONNECTED or
// no-activity on streams, and frees any stream that has somehow ended up
// with both sockets gone (which should never happen in practice).
func (r *Relay) sweep(now time.Time) {
	for i := range r.links.slots {
		lnk := &r.links.slots[i]
		if !lnk.used {
			continue
		}
		if now.Sub(lnk.lastActivity) > noCommandTimeout {
			name := lnk.name
			if name == "" || lnk.temporary {
				name = "-"
			}
			r.logger.Printf("no command from %s %d", name, lnk.fd)
			r.closeLink(lnk)
		}
	}

	for i := range r.streams.slots {
		strm := &r.streams.slots[i]
		if !strm.used {
			continue
		}
		if strm.left == -1 && strm.right == -1 {
			r.logger.Printf("stream %s disconnected", strm.name)
			r.streams.free(strm)
			continue
		}
		timeout := noConnectedTimeout
		if strm.connected {
			timeout = noActivityTimeout
		}
		if now.Sub(strm.lastIO) > timeout {
			r.logger.Printf("no activity %s", strm.name)
			r.closeStream(strm)
		}
	}
}

// maybeLogStats emits the hourly "stats N links M streams" line.
func (r *Relay) maybeLogStats(now time.Time) {
	if now.Sub(r.lastStats) <= statsInterval {
		return
	}
	r.lastStats = now
	r.logger.Printf("stats %d links %d streams", r.links.count(), r.streams.count())
}
