package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTableFindPendingScanOrderAndConnectedFilter(t *testing.T) {
	tbl := newStreamTable()
	tbl.slots[0].used = true
	tbl.slots[0].name = "foo"
	tbl.slots[0].connected = true // already paired, not a candidate

	tbl.slots[1].used = true
	tbl.slots[1].name = "foo"

	tbl.slots[2].used = true
	tbl.slots[2].name = "foo"

	got, ok := tbl.findPending("foo")
	require.True(t, ok)
	assert.Same(t, &tbl.slots[1], got)
}

func TestStreamTableFindEmptyExhausted(t *testing.T) {
	tbl := newStreamTable()
	for i := range tbl.slots {
		tbl.slots[i].used = true
	}
	_, ok := tbl.findEmpty()
	assert.False(t, ok)
}

func TestStreamTableFreeResetsSlotButNotSockets(t *testing.T) {
	tbl := newStreamTable()
	s := &tbl.slots[0]
	s.used = true
	s.name = "foo"
	s.connected = true
	s.left = 3
	s.right = 4

	tbl.free(s)

	assert.False(t, s.used)
	assert.False(t, s.connected)
	assert.Empty(t, s.name)
	assert.Equal(t, -1, s.left)
	assert.Equal(t, -1, s.right)
}
