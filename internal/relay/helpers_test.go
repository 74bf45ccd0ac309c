package relay

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"patchpanel/internal/patchlog"
)

// newTestRelay builds a Relay with no live listener (tests drive the link
// and stream tables directly), a fake clock, and a logger that captures
// output for assertions.
func newTestRelay(t *testing.T) (*Relay, *fakeClock, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	clk := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := &Relay{
		listenFD: -1,
		links:    newLinkTable(),
		streams:  newStreamTable(),
		clock:    clk,
		logger:   patchlog.New(&buf),
	}
	return r, clk, &buf
}

// socketpair returns two connected AF_UNIX stream fds, cleaned up at test
// end. It stands in for a real TCP connection so FSM and bridge logic can
// be exercised without binding a port.
func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		closeFD(fds[0])
		closeFD(fds[1])
	})
	return fds[0], fds[1]
}

func newTempLinkSlot(r *Relay, fd int) *linkSlot {
	slot, _ := r.links.findEmpty()
	slot.used = true
	slot.temporary = true
	slot.fd = fd
	slot.established = r.clock.Now()
	slot.lastActivity = r.clock.Now()
	return slot
}

func mustWrite(t *testing.T, fd int, s string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mustRead(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}
