package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRestageReplacesInPlace(t *testing.T) {
	l := NewLedger()
	first := NewKey(Admin, "equip", "criar")
	second := NewKey(Usuario, "equip", "editar")

	l.Stage(first, true)
	l.Stage(second, true)
	l.Stage(first, false)

	require.Equal(t, 2, l.Size())
	changes := l.Changes()
	assert.Equal(t, Change{Key: first, Allowed: false}, changes[0])
	assert.Equal(t, Change{Key: second, Allowed: true}, changes[1])
}

func TestLedgerClear(t *testing.T) {
	l := NewLedger()
	l.Stage(NewKey(Admin, "equip", "criar"), true)
	l.Clear()
	assert.Equal(t, 0, l.Size())
	assert.Empty(t, l.Changes())
	_, ok := l.Get(NewKey(Admin, "equip", "criar"))
	assert.False(t, ok)
}
