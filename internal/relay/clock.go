package relay

import (
	"fmt"
	"time"
)

// Clock supplies the wall-clock time the relay uses for timestamps and
// timeout checks. Injectable so tests can advance time without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// fakeClock is a manually-advanced Clock used by tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// formatDuration renders the elapsed time since start the way the original
// patchpanel's get_duration() does: sub-second precision under 10 minutes,
// minutes under an hour, hours-and-minutes under twelve hours, bare hours
// beyond that.
func formatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	switch {
	case secs < 600:
		ms := int(d%time.Second) / int(time.Millisecond)
		return fmt.Sprintf("%d.%03ds", secs, ms)
	case secs < 3600:
		return fmt.Sprintf("%dm", secs/60)
	case secs < 12*3600:
		h := secs / 3600
		m := (secs / 60) % 60
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dh", secs/3600)
	}
}
