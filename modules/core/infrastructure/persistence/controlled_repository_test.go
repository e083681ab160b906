package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

type memoryGate struct {
	userCtx     *access.UserContext
	controllers access.ControllerMap

	setKeys    []access.Key
	setTeams   []int64
	setRelease access.Release
	stamped    []access.Key
	dropped    []access.Key
}

func (g *memoryGate) UserContext() *access.UserContext { return g.userCtx }
func (g *memoryGate) DefaultRelease() access.Release   { return access.Private }

func (g *memoryGate) GetControllers(_ context.Context, label access.Label, ids []int64) (map[int64]*access.Controller, error) {
	out := make(map[int64]*access.Controller)
	for _, id := range ids {
		if c, ok := g.controllers.Get(access.Key{Label: label, ID: id}); ok {
			out[id] = c
		}
	}
	return out, nil
}

func (g *memoryGate) GetControllersForAggregate(_ context.Context, agg access.ControlledAggregate) (access.ControllerMap, error) {
	out := make(access.ControllerMap)
	for _, model := range agg.ControlledModels() {
		key := access.Key{Label: model.Label(), ID: model.ID()}
		if c, ok := g.controllers.Get(key); ok {
			out.Put(key, c)
		}
	}
	return out, nil
}

func (g *memoryGate) SetControls(_ context.Context, keys []access.Key, teamIDs []int64, release access.Release, _ int64) error {
	g.setKeys = append(g.setKeys, keys...)
	g.setTeams = teamIDs
	g.setRelease = release
	return nil
}

func (g *memoryGate) RecordWrites(_ context.Context, keys []access.Key, _ int64) error {
	g.stamped = append(g.stamped, keys...)
	return nil
}

func (g *memoryGate) DropControls(_ context.Context, keys []access.Key) error {
	g.dropped = append(g.dropped, keys...)
	return nil
}

type stubModel struct{ id int64 }

func (m stubModel) Label() access.Label { return access.LabelTerm }
func (m stubModel) ID() int64           { return m.id }

// stubAggregate is a flat bag of term models with a changelog, enough to
// drive the guard's flush protocol.
type stubAggregate struct {
	log *tracking.Changelog
	ids map[int64]bool
}

func newStubAggregate(persisted ...int64) *stubAggregate {
	a := &stubAggregate{log: tracking.NewChangelog(), ids: make(map[int64]bool)}
	for _, id := range persisted {
		a.ids[id] = true
		a.log.MarkPersisted(id)
	}
	return a
}

func (a *stubAggregate) ControlledModels() []access.ControlledModel {
	out := make([]access.ControlledModel, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, stubModel{id: id})
	}
	return out
}

func (a *stubAggregate) Redacted(access.ControllerMap, int64, []int64) (access.ControlledAggregate, bool) {
	return a, true
}

func (a *stubAggregate) Protected() string              { return "" }
func (a *stubAggregate) Changelog() *tracking.Changelog { return a.log }

func (a *stubAggregate) ModelKey(id int64) (access.Key, bool) {
	if !a.ids[id] {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelTerm, ID: id}, true
}

func newGate(userID int64, teams map[access.Access][]int64) *memoryGate {
	userCtx := access.NewUserContext(userID)
	userCtx.Teams = teams
	return &memoryGate{userCtx: userCtx, controllers: make(access.ControllerMap)}
}

func controlledBy(gate *memoryGate, id, teamID int64) {
	c := access.NewController()
	c.SetControl(teamID, access.Private, 1, time.Now())
	gate.controllers.Put(access.Key{Label: access.LabelTerm, ID: id}, c)
}

func TestGuardFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("changed models require curate", func(t *testing.T) {
		gate := newGate(7, map[access.Access][]int64{access.Curate: {5}})
		controlledBy(gate, 10, 6)
		agg := newStubAggregate(10)
		agg.log.MarkChanged(10, "name")

		persisted := false
		err := NewGuard(gate).Flush(ctx, agg, func(context.Context) error {
			persisted = true
			return nil
		})
		assert.True(t, serrors.IsUnauthorised(err))
		assert.False(t, persisted, "the structural step never runs past a failed gate")
	})

	t.Run("removed models require curate", func(t *testing.T) {
		gate := newGate(7, nil)
		controlledBy(gate, 10, 6)
		agg := newStubAggregate(10)
		agg.log.MarkRemoved(10)

		err := NewGuard(gate).Flush(ctx, agg, func(context.Context) error { return nil })
		assert.True(t, serrors.IsUnauthorised(err))
	})

	t.Run("added models need a write team", func(t *testing.T) {
		gate := newGate(7, map[access.Access][]int64{access.Curate: {5}})
		agg := newStubAggregate()
		agg.ids[-1] = true
		agg.log.MarkAdded(-1)

		err := NewGuard(gate).Flush(ctx, agg, func(context.Context) error { return nil })
		assert.True(t, serrors.IsUnauthorised(err))
		assert.Empty(t, gate.setKeys)
	})

	t.Run("missing controller is inconsistent", func(t *testing.T) {
		gate := newGate(7, map[access.Access][]int64{access.Curate: {5}})
		agg := newStubAggregate(10)
		agg.log.MarkChanged(10, "name")

		err := NewGuard(gate).Flush(ctx, agg, func(context.Context) error { return nil })
		assert.True(t, serrors.IsInconsistentState(err))
	})

	t.Run("commit controls additions and stamps writes", func(t *testing.T) {
		gate := newGate(7, map[access.Access][]int64{
			access.Write:  {5, 8},
			access.Curate: {5},
		})
		controlledBy(gate, 10, 5)
		agg := newStubAggregate(10)
		agg.log.MarkChanged(10, "name")
		agg.ids[-1] = true
		agg.log.MarkAdded(-1)

		err := NewGuard(gate).Flush(ctx, agg, func(context.Context) error {
			// The structural step hands out the stored id.
			agg.log.Rekey(-1, 42)
			delete(agg.ids, -1)
			agg.ids[42] = true
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, []access.Key{{Label: access.LabelTerm, ID: 42}}, gate.setKeys)
		assert.Equal(t, []int64{5, 8}, gate.setTeams)
		assert.Equal(t, access.Private, gate.setRelease)
		assert.ElementsMatch(t, []access.Key{
			{Label: access.LabelTerm, ID: 42},
			{Label: access.LabelTerm, ID: 10},
		}, gate.stamped)
		assert.False(t, agg.log.Dirty(), "the changelog settles after a flush")
	})

	t.Run("removed controls drop after persist", func(t *testing.T) {
		gate := newGate(7, map[access.Access][]int64{access.Curate: {5}})
		controlledBy(gate, 10, 5)
		agg := newStubAggregate(10)
		agg.log.MarkRemoved(10)

		err := NewGuard(gate).Flush(ctx, agg, func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, []access.Key{{Label: access.LabelTerm, ID: 10}}, gate.dropped)
	})
}

func TestGuardEnsureRemovable(t *testing.T) {
	ctx := context.Background()
	gate := newGate(7, map[access.Access][]int64{access.Curate: {5}})
	controlledBy(gate, 10, 5)
	controlledBy(gate, 11, 6)

	agg := newStubAggregate(10)
	require.NoError(t, NewGuard(gate).EnsureRemovable(ctx, agg))

	other := newStubAggregate(11)
	err := NewGuard(gate).EnsureRemovable(ctx, other)
	assert.True(t, serrors.IsUnauthorised(err))
}
