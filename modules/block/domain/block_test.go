package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/block/domain/unit"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const plotTerm = int64(7)

func newBlock(t *testing.T) *Block {
	t.Helper()
	b, err := New(unit.New("Trial 2026", plotTerm))
	require.NoError(t, err)
	return b
}

func TestBlockAddUnit(t *testing.T) {
	b := newBlock(t)

	_, err := b.AddUnit(unit.New("orphan", plotTerm), nil)
	assert.True(t, serrors.IsIllegalOperation(err), "a unit is part of something")

	row, err := b.AddUnit(unit.New("Row 1", plotTerm), []int64{b.RootID()})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.RootID()}, b.ParentIDs(row))
	assert.Contains(t, b.Changelog().Added(), row)
}

func TestBlockGraft(t *testing.T) {
	b := newBlock(t)
	rootstock, err := b.AddUnit(unit.New("Rootstock 3", plotTerm), []int64{b.RootID()})
	require.NoError(t, err)
	scion, err := b.AddUnit(unit.New("Scion 3", plotTerm), []int64{b.RootID()})
	require.NoError(t, err)

	// A grafted plant is part of both parents.
	graft, err := b.AddUnit(unit.New("Graft 3", plotTerm), []int64{rootstock, scion})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{rootstock, scion}, b.ParentIDs(graft))

	err = b.AttachUnit(graft, rootstock)
	assert.True(t, serrors.IsIllegalOperation(err), "part-of cycles are rejected")
}

func TestBlockRemoveUnit(t *testing.T) {
	b := newBlock(t)
	row, err := b.AddUnit(unit.New("Row 1", plotTerm), []int64{b.RootID()})
	require.NoError(t, err)
	plant, err := b.AddUnit(unit.New("Plant 1", plotTerm), []int64{row})
	require.NoError(t, err)

	err = b.RemoveUnit(b.RootID())
	assert.True(t, serrors.IsIllegalOperation(err))

	require.NoError(t, b.RemoveUnit(row))
	assert.Equal(t, []int64{b.RootID()}, b.ParentIDs(plant), "children reconnect to the grandparents")
}

func TestPositionUnit(t *testing.T) {
	b := newBlock(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	err := b.PositionUnit(b.RootID(), unit.Position{Start: start})
	assert.True(t, serrors.IsIllegalOperation(err), "a position needs a location")

	end := start.Add(-time.Hour)
	err = b.PositionUnit(b.RootID(), unit.Position{LocationID: 5, Start: start, End: &end})
	assert.True(t, serrors.IsIllegalOperation(err))

	require.NoError(t, b.PositionUnit(b.RootID(), unit.Position{LocationID: 5, Start: start}))
	moved := start.AddDate(0, 1, 0)
	layoutID := int64(12)
	require.NoError(t, b.PositionUnit(b.RootID(), unit.Position{
		LocationID:  5,
		LayoutID:    &layoutID,
		Coordinates: []string{"1", "4"},
		Start:       moved,
	}))

	u, _ := b.GetUnit(b.RootID())
	positions := u.Positions()
	require.Len(t, positions, 2)
	require.NotNil(t, positions[0].End)
	assert.Equal(t, moved, *positions[0].End, "the new stamp closes the open one")

	current, ok := u.CurrentPosition()
	require.True(t, ok)
	assert.Equal(t, []string{"1", "4"}, current.Coordinates)
}

func TestBlockLookup(t *testing.T) {
	b := newBlock(t)
	u, ok := b.GetUnitByName("trial 2026")
	require.True(t, ok)
	assert.Equal(t, "Trial 2026", u.Name())
}

func TestBlockHydrate(t *testing.T) {
	nodes := []HydrateNode{
		{Unit: unit.New("plant", plotTerm, unit.WithID(3))},
		{Unit: unit.New("block", plotTerm, unit.WithID(1))},
		{Unit: unit.New("row", plotTerm, unit.WithID(2))},
	}
	edges := []HydrateEdge{{ParentID: 1, ChildID: 2}, {ParentID: 2, ChildID: 3}}

	b, err := Hydrate(nodes, edges)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.RootID())
	assert.Equal(t, []int64{2}, b.ParentIDs(3))

	_, err = Hydrate(nodes, append(edges, HydrateEdge{ParentID: 9, ChildID: 3}))
	assert.True(t, serrors.IsInconsistentState(err))
}
