package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/geography/domain/location"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

func newRegion(t *testing.T) *Region {
	t.Helper()
	r, err := New(location.New("Netherlands", location.Country, location.WithCode("NL")))
	require.NoError(t, err)
	return r
}

func TestNewRegion(t *testing.T) {
	_, err := New(location.New("Wageningen", location.City))
	assert.True(t, serrors.IsIllegalOperation(err), "root must be a country")

	r := newRegion(t)
	assert.Equal(t, location.Country, r.Root().Kind())
}

func TestAddLocation(t *testing.T) {
	r := newRegion(t)

	_, err := r.AddLocation(location.New("Belgium", location.Country), r.RootID())
	assert.True(t, serrors.IsIllegalOperation(err), "no nested countries")

	id, err := r.AddLocation(location.New("Gelderland", location.State), r.RootID())
	require.NoError(t, err)
	parent, ok := r.ParentID(id)
	require.True(t, ok)
	assert.Equal(t, r.RootID(), parent)
	assert.Contains(t, r.Changelog().Added(), id)
}

func TestMoveLocation(t *testing.T) {
	r := newRegion(t)
	state, err := r.AddLocation(location.New("Gelderland", location.State), r.RootID())
	require.NoError(t, err)
	other, err := r.AddLocation(location.New("Utrecht", location.State), r.RootID())
	require.NoError(t, err)
	farm, err := r.AddLocation(location.New("Proeftuin", location.Farm), state)
	require.NoError(t, err)

	require.NoError(t, r.MoveLocation(farm, other))
	parent, _ := r.ParentID(farm)
	assert.Equal(t, other, parent)

	err = r.MoveLocation(state, farm)
	require.NoError(t, err)
	err = r.MoveLocation(other, farm)
	assert.True(t, serrors.IsIllegalOperation(err), "no moves under own subtree")
}

func TestRemoveLocation(t *testing.T) {
	r := newRegion(t)
	state, err := r.AddLocation(location.New("Gelderland", location.State), r.RootID())
	require.NoError(t, err)
	farm, err := r.AddLocation(location.New("Proeftuin", location.Farm), state)
	require.NoError(t, err)

	err = r.RemoveLocation(r.RootID())
	assert.True(t, serrors.IsIllegalOperation(err), "root stays until last")

	require.NoError(t, r.RemoveLocation(state))
	parent, _ := r.ParentID(farm)
	assert.Equal(t, r.RootID(), parent, "children reconnect to the grandparent")

	require.NoError(t, r.RemoveLocation(farm))
	require.NoError(t, r.RemoveLocation(r.RootID()))
	assert.Empty(t, r.Locations())
}

func TestGetLocationByCode(t *testing.T) {
	r := newRegion(t)
	_, err := r.AddLocation(location.New("Gelderland", location.State, location.WithCode("NL-GE")), r.RootID())
	require.NoError(t, err)

	l, ok := r.GetLocationByCode("nl-ge")
	require.True(t, ok)
	assert.Equal(t, "Gelderland", l.Name())
	_, ok = r.GetLocationByCode("NL-XX")
	assert.False(t, ok)
}

// controllersFor grants PUBLIC on visible ids and PRIVATE under team 99
// on the rest, so a team-less viewer sees exactly the visible set.
func controllersFor(r *Region, visible ...int64) access.ControllerMap {
	visibleSet := make(map[int64]bool, len(visible))
	for _, id := range visible {
		visibleSet[id] = true
	}
	out := make(access.ControllerMap)
	for _, l := range r.Locations() {
		c := access.NewController()
		release := access.Private
		if visibleSet[l.ID()] {
			release = access.Public
		}
		c.SetControl(99, release, 1, time.Now())
		out.Put(access.Key{Label: access.LabelLocation, ID: l.ID()}, c)
	}
	return out
}

func TestRegionRedacted(t *testing.T) {
	r := newRegion(t)
	state, err := r.AddLocation(location.New("Gelderland", location.State), r.RootID())
	require.NoError(t, err)
	farm, err := r.AddLocation(location.New("Proeftuin", location.Farm), state)
	require.NoError(t, err)

	t.Run("hidden interior location drops out with reconnection", func(t *testing.T) {
		controllers := controllersFor(r, r.RootID(), farm)
		view, ok := r.Redacted(controllers, 0, nil)
		require.True(t, ok)
		region := view.(*Region)

		_, found := region.GetLocation(state)
		assert.False(t, found)
		parent, _ := region.ParentID(farm)
		assert.Equal(t, r.RootID(), parent)
	})

	t.Run("hidden root becomes a placeholder", func(t *testing.T) {
		other, err := r.AddLocation(location.New("Utrecht", location.State), r.RootID())
		require.NoError(t, err)
		controllers := controllersFor(r, state, other)
		view, ok := r.Redacted(controllers, 0, nil)
		require.True(t, ok)
		region := view.(*Region)

		root, found := region.GetLocation(r.RootID())
		require.True(t, found)
		assert.True(t, root.IsRedacted())
		assert.Empty(t, root.Name())
		assert.Equal(t, location.Country, root.Kind())
	})

	t.Run("nothing visible hides the region", func(t *testing.T) {
		controllers := controllersFor(r)
		view, ok := r.Redacted(controllers, 0, nil)
		assert.False(t, ok)
		assert.Nil(t, view)
	})

	t.Run("controlling team reads through a private release", func(t *testing.T) {
		controllers := controllersFor(r)
		view, ok := r.Redacted(controllers, 1, []int64{99})
		require.True(t, ok)
		assert.Len(t, view.(*Region).Locations(), r.tree.Len())
	})
}
