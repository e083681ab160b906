package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/arrangement/domain/layout"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

func newField(t *testing.T) *Arrangement {
	t.Helper()
	root, err := layout.New("Field A", 1, []layout.AxisType{layout.Cartesian, layout.Cartesian})
	require.NoError(t, err)
	a, err := New(root)
	require.NoError(t, err)
	return a
}

func mustLayout(t *testing.T, name string, axes ...layout.AxisType) *layout.Layout {
	t.Helper()
	l, err := layout.New(name, 1, axes)
	require.NoError(t, err)
	return l
}

func TestAddLayout(t *testing.T) {
	a := newField(t)

	t.Run("position arity must match the parent axes", func(t *testing.T) {
		_, err := a.AddLayout(mustLayout(t, "Row 1", layout.Ordinal), a.RootID(), []string{"1"})
		assert.True(t, serrors.IsIllegalOperation(err))
	})

	t.Run("numeric axes need numeric coordinates", func(t *testing.T) {
		_, err := a.AddLayout(mustLayout(t, "Row 1", layout.Ordinal), a.RootID(), []string{"1", "north"})
		assert.True(t, serrors.IsIllegalOperation(err))
	})

	t.Run("valid position lands on the edge", func(t *testing.T) {
		id, err := a.AddLayout(mustLayout(t, "Row 1", layout.Ordinal), a.RootID(), []string{"1", "2.5"})
		require.NoError(t, err)

		pos, ok := a.Position(id)
		require.True(t, ok)
		assert.Equal(t, []string{"1", "2.5"}, pos)
		assert.Contains(t, a.Changelog().Added(), id)
	})

	t.Run("unknown parent", func(t *testing.T) {
		_, err := a.AddLayout(mustLayout(t, "Row 2", layout.Ordinal), 42, []string{"1", "1"})
		assert.True(t, serrors.IsNoResultFound(err))
	})
}

func TestPosition(t *testing.T) {
	a := newField(t)
	_, ok := a.Position(a.RootID())
	assert.False(t, ok, "the root has no position")
}

func TestMovePosition(t *testing.T) {
	a := newField(t)
	row, err := a.AddLayout(mustLayout(t, "Row 1", layout.Ordinal), a.RootID(), []string{"1", "1"})
	require.NoError(t, err)

	err = a.MovePosition(a.RootID(), []string{"0", "0"})
	assert.True(t, serrors.IsIllegalOperation(err))

	err = a.MovePosition(row, []string{"2", "x"})
	assert.True(t, serrors.IsIllegalOperation(err))

	require.NoError(t, a.MovePosition(row, []string{"2", "3"}))
	pos, _ := a.Position(row)
	assert.Equal(t, []string{"2", "3"}, pos)
	assert.Empty(t, a.Changelog().Changed(), "position changes ride the edge diff")
}

func TestRemoveLayout(t *testing.T) {
	a := newField(t)
	row, err := a.AddLayout(mustLayout(t, "Row 1", layout.Ordinal), a.RootID(), []string{"1", "1"})
	require.NoError(t, err)
	plot, err := a.AddLayout(mustLayout(t, "Plot 1", layout.Nominal), row, []string{"1"})
	require.NoError(t, err)

	err = a.RemoveLayout(row)
	assert.True(t, serrors.IsIllegalOperation(err), "interior layouts hold child positions")

	err = a.RemoveLayout(a.RootID())
	assert.True(t, serrors.IsIllegalOperation(err))

	require.NoError(t, a.RemoveLayout(plot))
	require.NoError(t, a.RemoveLayout(row))
	require.NoError(t, a.RemoveLayout(a.RootID()))
	assert.Empty(t, a.Layouts())
}

func TestArrangementRekey(t *testing.T) {
	a := newField(t)
	row, err := a.AddLayout(mustLayout(t, "Row 1", layout.Ordinal), a.RootID(), []string{"1", "1"})
	require.NoError(t, err)

	require.NoError(t, a.Rekey(a.RootID(), 10))
	require.NoError(t, a.Rekey(row, 11))

	l, ok := a.GetLayout(11)
	require.True(t, ok)
	assert.Equal(t, int64(11), l.ID())
	pos, ok := a.Position(11)
	require.True(t, ok)
	assert.Equal(t, []string{"1", "1"}, pos)
}

func TestArrangementProtected(t *testing.T) {
	a := newField(t)
	assert.Empty(t, a.Protected())

	root := a.Root().Clone()
	root.SetID(10)
	hydrated, err := Hydrate([]HydrateRow{{Layout: root}}, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hydrated.Protected())
}
