package relay

import "time"

// maxLinks bounds the link slot table exactly as MAX_LINKS does in the
// original patchpanel.c.
const maxLinks = 256

// linkBufCap is the line-accumulation buffer size; the protocol's longest
// recognized command plus name must fit in this many bytes before a
// terminating CRLF arrives, or the link is reaped (see fsm.go).
const linkBufCap = 255

// linkSlot is one inbound control connection.
//
// Unlike the original's `name[0] ∈ {0, 1, '~', printable}` in-band encoding,
// state is explicit: used marks an occupied slot, temporary marks one that
// has not completed its first LINK line, and superseded marks one whose name
// was claimed by a newer LINK (a tombstone, reachable only by the timeout
// sweep). See DESIGN.md for why this departs from the byte-sentinel scheme.
type linkSlot struct {
	used       bool
	temporary  bool
	superseded bool
	name       string
	fd         int
	buf        []byte
	sz         int
	lastActivity time.Time
	established  time.Time
}

type linkTable struct {
	slots [maxLinks]linkSlot
}

func newLinkTable() *linkTable {
	t := &linkTable{}
	for i := range t.slots {
		t.slots[i].fd = -1
		t.slots[i].buf = make([]byte, linkBufCap)
	}
	return t
}

// findEmpty returns the first unoccupied slot, or false if the table is
// full (MAX_LINKS reached).
func (t *linkTable) findEmpty() (*linkSlot, bool) {
	for i := range t.slots {
		if !t.slots[i].used {
			return &t.slots[i], true
		}
	}
	return nil, false
}

// findByName returns the first bound, non-superseded, non-temporary slot
// with the given name — the most recently registered holder, since a newer
// LINK always supersedes an older one of the same name.
func (t *linkTable) findByName(name string) (*linkSlot, bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used || s.temporary || s.superseded {
			continue
		}
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// free resets a slot to empty. The caller is responsible for closing (or
// deliberately not closing, on socket handoff) the fd beforehand.
func (t *linkTable) free(s *linkSlot) {
	s.used = false
	s.temporary = false
	s.superseded = false
	s.name = ""
	s.fd = -1
	s.sz = 0
}

// count returns the number of occupied link slots, for the stats tick.
func (t *linkTable) count() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].used {
			n++
		}
	}
	return n
}
