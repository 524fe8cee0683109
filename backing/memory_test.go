package backing

import (
	"testing"

	"github.com/johniel/relly-txcache/objid"
	"github.com/stretchr/testify/assert"
)

func TestCreateVisibleOnlyAfterCommit(t *testing.T) {
	g := NewGlobal()
	h1 := g.NewHandle(1)

	id := h1.ReserveID()
	assert.NoError(t, h1.Create(id, 42, []byte("42"), "answer"))

	// Not yet visible to another handle.
	h2 := g.NewHandle(2)
	_, _, ok, err := h2.Peek(id)
	assert.NoError(t, err)
	assert.False(t, ok)

	// But visible within the staging handle (read-your-writes).
	v, _, ok, err := h1.Peek(id)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	assert.NoError(t, h1.Commit())

	v, _, ok, err = h2.Peek(id)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	gotID, err := h2.Lookup("answer")
	assert.NoError(t, err)
	assert.Equal(t, id, gotID)
}

func TestLookupUnknownNameReturnsAbsent(t *testing.T) {
	g := NewGlobal()
	h := g.NewHandle(1)
	id, err := h.Lookup("nope")
	assert.NoError(t, err)
	assert.Equal(t, objid.Absent, id)
}

func TestAbortDiscardsStagedMutations(t *testing.T) {
	g := NewGlobal()
	h := g.NewHandle(1)

	id := h.ReserveID()
	assert.NoError(t, h.Create(id, 9, nil, "b"))
	assert.NoError(t, h.Abort())

	h2 := g.NewHandle(2)
	gotID, err := h2.Lookup("b")
	assert.NoError(t, err)
	assert.Equal(t, objid.Absent, gotID)
}

func TestCommitRejectsDuplicateName(t *testing.T) {
	g := NewGlobal()
	h1 := g.NewHandle(1)
	id1 := h1.ReserveID()
	assert.NoError(t, h1.Create(id1, "a", nil, "dup"))
	assert.NoError(t, h1.Commit())

	h2 := g.NewHandle(2)
	id2 := h2.ReserveID()
	assert.NoError(t, h2.Create(id2, "b", nil, "dup"))
	err := h2.Commit()
	assert.ErrorIs(t, err, ErrNameExists)
}

func TestDestroyRemovesObjectAndName(t *testing.T) {
	g := NewGlobal()
	h := g.NewHandle(1)
	id := h.ReserveID()
	assert.NoError(t, h.Create(id, "x", nil, "n"))
	assert.NoError(t, h.Commit())

	h2 := g.NewHandle(2)
	assert.NoError(t, h2.Destroy(id))
	assert.NoError(t, h2.Commit())

	_, _, ok, _ := h2.Peek(id)
	assert.False(t, ok)
	gotID, _ := h2.Lookup("n")
	assert.Equal(t, objid.Absent, gotID)
}
