package clientmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	m := New()
	c := m.Insert(nil, []byte("scid-1"), 1350)
	got, ok := m.Lookup([]byte("scid-1"))
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)
}

func TestBindAdditionalCID(t *testing.T) {
	m := New()
	c := m.Insert(nil, []byte("scid-1"), 1350)
	m.BindCID(c.ID, []byte("scid-2"))

	got, ok := m.Lookup([]byte("scid-2"))
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, 2, m.CIDCount())
}

func TestRetireCIDRemovesOnlyThatEntry(t *testing.T) {
	m := New()
	c := m.Insert(nil, []byte("scid-1"), 1350)
	m.BindCID(c.ID, []byte("scid-2"))
	m.RetireCID([]byte("scid-1"))

	_, ok := m.Lookup([]byte("scid-1"))
	assert.False(t, ok)
	_, ok = m.Lookup([]byte("scid-2"))
	assert.True(t, ok)
	assert.Equal(t, 1, m.CIDCount())
}

func TestRemoveEvictsEverySCID(t *testing.T) {
	m := New()
	c := m.Insert(nil, []byte("scid-1"), 1350)
	m.BindCID(c.ID, []byte("scid-2"))
	m.BindCID(c.ID, []byte("scid-3"))

	other := m.Insert(nil, []byte("other"), 1350)

	m.Remove(c.ID)

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.CIDCount())
	_, ok := m.Lookup([]byte("other"))
	assert.True(t, ok)
	assert.Equal(t, other.ID, m.All()[0].ID)
}
