package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkTableFindEmptyFillsInOrder(t *testing.T) {
	tbl := newLinkTable()
	s0, ok := tbl.findEmpty()
	require.True(t, ok)
	assert.Same(t, &tbl.slots[0], s0)
	s0.used = true

	s1, ok := tbl.findEmpty()
	require.True(t, ok)
	assert.Same(t, &tbl.slots[1], s1)
}

func TestLinkTableFindEmptyExhausted(t *testing.T) {
	tbl := newLinkTable()
	for i := range tbl.slots {
		tbl.slots[i].used = true
	}
	_, ok := tbl.findEmpty()
	assert.False(t, ok)
}

func TestLinkTableFindByNameSkipsTemporaryAndSuperseded(t *testing.T) {
	tbl := newLinkTable()
	tbl.slots[0].used = true
	tbl.slots[0].temporary = true
	tbl.slots[0].name = "foo"

	tbl.slots[1].used = true
	tbl.slots[1].superseded = true
	tbl.slots[1].name = "foo"

	_, ok := tbl.findByName("foo")
	assert.False(t, ok, "only temporary/superseded slots carry the name")

	tbl.slots[2].used = true
	tbl.slots[2].name = "foo"
	got, ok := tbl.findByName("foo")
	require.True(t, ok)
	assert.Same(t, &tbl.slots[2], got)
}

func TestLinkTableFreeResetsSlot(t *testing.T) {
	tbl := newLinkTable()
	s := &tbl.slots[5]
	s.used = true
	s.name = "foo"
	s.temporary = false
	s.superseded = true
	s.fd = 42
	s.sz = 10

	tbl.free(s)

	assert.False(t, s.used)
	assert.Empty(t, s.name)
	assert.False(t, s.temporary)
	assert.False(t, s.superseded)
	assert.Equal(t, -1, s.fd)
	assert.Zero(t, s.sz)
}

func TestLinkTableCount(t *testing.T) {
	tbl := newLinkTable()
	assert.Equal(t, 0, tbl.count())
	tbl.slots[0].used = true
	tbl.slots[3].used = true
	assert.Equal(t, 2, tbl.count())
}
