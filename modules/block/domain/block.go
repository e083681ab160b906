// Package domain models blocks: rooted DAGs of experimental units where
// edges mean "part of". A plot splits into rows, a row into plants; a
// grafted plant may be part of two parents.
package domain

import (
	"strings"

	"github.com/cultivarhq/cultivar/modules/block/domain/unit"
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/core/domain/aggregate"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

type Block struct {
	dag *graph.Rooted[*unit.Unit]
	log *tracking.Changelog
}

func New(root *unit.Unit) (*Block, error) {
	b := &Block{
		dag: graph.NewRooted[*unit.Unit](),
		log: tracking.NewChangelog(),
	}
	id, err := b.dag.AddEntry(root, nil)
	if err != nil {
		return nil, err
	}
	root.SetID(id)
	b.log.MarkAdded(id)
	return b, nil
}

type HydrateNode struct {
	Unit *unit.Unit
}

type HydrateEdge struct {
	ParentID int64
	ChildID  int64
}

func Hydrate(nodes []HydrateNode, edges []HydrateEdge) (*Block, error) {
	b := &Block{
		dag: graph.NewRooted[*unit.Unit](),
		log: tracking.NewChangelog(),
	}
	byChild := make(map[int64]map[int64]graph.Attrs)
	for _, e := range edges {
		if byChild[e.ChildID] == nil {
			byChild[e.ChildID] = make(map[int64]graph.Attrs)
		}
		byChild[e.ChildID][e.ParentID] = nil
	}
	// Rows may arrive in any order; insert in passes once every parent is
	// present.
	pending := nodes
	for len(pending) > 0 {
		var next []HydrateNode
		for _, n := range pending {
			if !parentsPresent(b.dag, byChild[n.Unit.ID()]) {
				next = append(next, n)
				continue
			}
			if err := b.dag.AddWithID(n.Unit.ID(), n.Unit, byChild[n.Unit.ID()]); err != nil {
				return nil, err
			}
			b.log.MarkPersisted(n.Unit.ID())
		}
		if len(next) == len(pending) {
			return nil, serrors.InconsistentState("block rows reference units outside the aggregate")
		}
		pending = next
	}
	return b, nil
}

func parentsPresent(dag *graph.Rooted[*unit.Unit], sources map[int64]graph.Attrs) bool {
	for src := range sources {
		if _, ok := dag.GetEntry(src); !ok {
			return false
		}
	}
	return true
}

func (b *Block) RootID() int64 { return b.dag.RootID() }

func (b *Block) GetUnit(id int64) (*unit.Unit, bool) {
	return b.dag.GetEntry(id)
}

func (b *Block) GetUnitByName(name string) (*unit.Unit, bool) {
	_, u, ok := b.dag.Find(func(u *unit.Unit) bool {
		return strings.EqualFold(u.Name(), name)
	})
	return u, ok
}

func (b *Block) Units() []*unit.Unit {
	out := make([]*unit.Unit, 0, b.dag.Len())
	for _, id := range b.dag.IDs() {
		u, _ := b.dag.GetEntry(id)
		out = append(out, u)
	}
	return out
}

func (b *Block) Changelog() *tracking.Changelog { return b.log }

func (b *Block) ParentIDs(id int64) []int64 { return b.dag.Sources(id) }
func (b *Block) ChildIDs(id int64) []int64  { return b.dag.Sinks(id) }

// AddUnit inserts a unit as part of one or more parents.
func (b *Block) AddUnit(u *unit.Unit, parentIDs []int64) (int64, error) {
	if len(parentIDs) == 0 {
		return 0, serrors.IllegalOperation("unit %q requires at least one parent", u.Name())
	}
	sources := make(map[int64]graph.Attrs, len(parentIDs))
	for _, p := range parentIDs {
		sources[p] = nil
	}
	id, err := b.dag.AddEntry(u, sources)
	if err != nil {
		return 0, err
	}
	u.SetID(id)
	b.log.MarkAdded(id)
	for _, p := range parentIDs {
		b.log.MarkEdgeAdded(p, id)
	}
	return id, nil
}

// AttachUnit records that child is also part of parent.
func (b *Block) AttachUnit(parentID, childID int64) error {
	if err := b.dag.Link(parentID, childID, nil); err != nil {
		return err
	}
	b.log.MarkEdgeAdded(parentID, childID)
	return nil
}

func (b *Block) UpdateUnit(id int64, name, description string) error {
	u, ok := b.dag.GetEntry(id)
	if !ok {
		return serrors.NoResultFound("unit %d not in block", id)
	}
	u.Update(name, description)
	b.log.MarkChanged(id, "name", "description")
	return nil
}

// PositionUnit stamps a unit at a position, closing its open stamp.
// Coordinate validation against the layout's axes happens in the service
// layer, which can see the arrangement.
func (b *Block) PositionUnit(id int64, p unit.Position) error {
	u, ok := b.dag.GetEntry(id)
	if !ok {
		return serrors.NoResultFound("unit %d not in block", id)
	}
	if err := u.AddPosition(p); err != nil {
		return err
	}
	b.log.MarkChanged(id, "positions")
	return nil
}

// RemoveUnit drops a unit, reconnecting its children to its parents.
func (b *Block) RemoveUnit(id int64) error {
	if id == b.dag.RootID() && b.dag.Len() > 1 {
		return serrors.IllegalOperation("cannot remove the root unit while others remain")
	}
	parents := b.dag.Sources(id)
	children := b.dag.Sinks(id)
	if err := b.dag.RemoveAndReconnect(id); err != nil {
		return err
	}
	b.log.MarkRemoved(id)
	for _, p := range parents {
		b.log.MarkEdgeRemoved(p, id)
	}
	for _, c := range children {
		b.log.MarkEdgeRemoved(id, c)
		for _, p := range parents {
			b.log.MarkEdgeAdded(p, c)
		}
	}
	return nil
}

func (b *Block) Rekey(oldID, newID int64) error {
	if u, ok := b.dag.GetEntry(oldID); ok {
		u.SetID(newID)
	}
	if err := b.dag.Rekey(oldID, newID); err != nil {
		return err
	}
	b.log.Rekey(oldID, newID)
	return nil
}

func (b *Block) Edges() []HydrateEdge {
	edges := b.dag.Edges()
	out := make([]HydrateEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, HydrateEdge{ParentID: e.Source, ChildID: e.Target})
	}
	return out
}

func (b *Block) ControlledModels() []access.ControlledModel {
	out := make([]access.ControlledModel, 0, b.dag.Len())
	for _, id := range b.dag.IDs() {
		u, _ := b.dag.GetEntry(id)
		out = append(out, u)
	}
	return out
}

func (b *Block) ModelKey(id int64) (access.Key, bool) {
	if _, ok := b.dag.GetEntry(id); !ok {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelUnit, ID: id}, true
}

func (b *Block) Redacted(controllers access.ControllerMap, userID int64, readTeams []int64) (access.ControlledAggregate, bool) {
	dag, ok := aggregate.RedactRooted(
		b.dag,
		func(u *unit.Unit) *unit.Unit { return u.Clone() },
		func(u *unit.Unit) *unit.Unit { return u.Redact() },
		controllers, userID, readTeams,
	)
	if !ok {
		return nil, false
	}
	return &Block{dag: dag, log: tracking.NewChangelog()}, true
}

func (b *Block) Protected() string { return "" }
