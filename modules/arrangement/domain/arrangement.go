// Package domain models arrangements: trees of layouts where each
// child layout occupies a position within its parent.
package domain

import (
	"fmt"

	"github.com/cultivarhq/cultivar/modules/arrangement/domain/layout"
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/core/domain/aggregate"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

const positionAttr = "position"

// Arrangement is a tree of layouts. A child layout sits at a coordinate
// tuple within its parent, validated against the parent's axes.
type Arrangement struct {
	tree *graph.Tree[*layout.Layout]
	log  *tracking.Changelog

	// units referencing any layout in this arrangement, set on load.
	unitRefs int
}

func New(root *layout.Layout) (*Arrangement, error) {
	a := &Arrangement{
		tree: graph.NewTree[*layout.Layout](),
		log:  tracking.NewChangelog(),
	}
	id, err := a.tree.AddEntry(root, nil)
	if err != nil {
		return nil, err
	}
	root.SetID(id)
	a.log.MarkAdded(id)
	return a, nil
}

type HydrateRow struct {
	Layout   *layout.Layout
	ParentID *int64
	Position []string
}

func Hydrate(rows []HydrateRow, unitRefs int) (*Arrangement, error) {
	a := &Arrangement{
		tree:     graph.NewTree[*layout.Layout](),
		log:      tracking.NewChangelog(),
		unitRefs: unitRefs,
	}
	for _, row := range rows {
		var sources map[int64]graph.Attrs
		if row.ParentID != nil {
			sources = map[int64]graph.Attrs{*row.ParentID: {positionAttr: row.Position}}
		}
		if err := a.tree.AddWithID(row.Layout.ID(), row.Layout, sources); err != nil {
			return nil, err
		}
		a.log.MarkPersisted(row.Layout.ID())
	}
	return a, nil
}

func (a *Arrangement) RootID() int64 { return a.tree.RootID() }

func (a *Arrangement) Root() *layout.Layout {
	_, root, _ := a.tree.Root()
	return root
}

func (a *Arrangement) GetLayout(id int64) (*layout.Layout, bool) {
	return a.tree.GetEntry(id)
}

func (a *Arrangement) Layouts() []*layout.Layout {
	out := make([]*layout.Layout, 0, a.tree.Len())
	for _, id := range a.tree.IDs() {
		l, _ := a.tree.GetEntry(id)
		out = append(out, l)
	}
	return out
}

func (a *Arrangement) ParentID(id int64) (int64, bool) { return a.tree.ParentID(id) }
func (a *Arrangement) ChildrenIDs(id int64) []int64    { return a.tree.ChildrenIDs(id) }
func (a *Arrangement) Changelog() *tracking.Changelog  { return a.log }

// Position returns the coordinate tuple of a layout within its parent;
// ok is false at the root.
func (a *Arrangement) Position(id int64) ([]string, bool) {
	parent, ok := a.tree.ParentID(id)
	if !ok {
		return nil, false
	}
	attrs, _ := a.tree.EdgeAttrs(parent, id)
	coordinates, _ := attrs[positionAttr].([]string)
	return coordinates, true
}

// AddLayout nests a layout at a position within parentID. The position
// is validated against the parent's axes.
func (a *Arrangement) AddLayout(l *layout.Layout, parentID int64, position []string) (int64, error) {
	parent, ok := a.tree.GetEntry(parentID)
	if !ok {
		return 0, serrors.NoResultFound("layout %d not in arrangement", parentID)
	}
	if err := parent.ValidatePosition(position); err != nil {
		return 0, err
	}
	id, err := a.tree.AddEntry(l, map[int64]graph.Attrs{parentID: {positionAttr: position}})
	if err != nil {
		return 0, err
	}
	l.SetID(id)
	a.log.MarkAdded(id)
	a.log.MarkEdgeAdded(parentID, id)
	return id, nil
}

// MovePosition relocates a child layout within its parent.
func (a *Arrangement) MovePosition(id int64, position []string) error {
	parentID, ok := a.tree.ParentID(id)
	if !ok {
		return serrors.IllegalOperation("the root layout has no position")
	}
	parent, _ := a.tree.GetEntry(parentID)
	if err := parent.ValidatePosition(position); err != nil {
		return err
	}
	if err := a.tree.SetEdgeAttrs(parentID, id, graph.Attrs{positionAttr: position}); err != nil {
		return err
	}
	a.log.MarkEdgeChanged(parentID, id)
	return nil
}

func (a *Arrangement) RenameLayout(id int64, name string) error {
	l, ok := a.tree.GetEntry(id)
	if !ok {
		return serrors.NoResultFound("layout %d not in arrangement", id)
	}
	l.Rename(name)
	a.log.MarkChanged(id, "name")
	return nil
}

// RemoveLayout drops a leaf layout. Interior layouts hold positions of
// their children, so reconnection would orphan coordinate tuples.
func (a *Arrangement) RemoveLayout(id int64) error {
	if len(a.tree.ChildrenIDs(id)) > 0 {
		return serrors.IllegalOperation("layout %d still has nested layouts", id)
	}
	if id == a.tree.RootID() && a.tree.Len() > 1 {
		return serrors.IllegalOperation("cannot remove the root layout while others remain")
	}
	parent, hasParent := a.tree.ParentID(id)
	if err := a.tree.Remove(id); err != nil {
		return err
	}
	a.log.MarkRemoved(id)
	if hasParent {
		a.log.MarkEdgeRemoved(parent, id)
	}
	return nil
}

func (a *Arrangement) Rekey(oldID, newID int64) error {
	if l, ok := a.tree.GetEntry(oldID); ok {
		l.SetID(newID)
	}
	if err := a.tree.Rekey(oldID, newID); err != nil {
		return err
	}
	a.log.Rekey(oldID, newID)
	return nil
}

func (a *Arrangement) ControlledModels() []access.ControlledModel {
	out := make([]access.ControlledModel, 0, a.tree.Len())
	for _, id := range a.tree.IDs() {
		l, _ := a.tree.GetEntry(id)
		out = append(out, l)
	}
	return out
}

func (a *Arrangement) ModelKey(id int64) (access.Key, bool) {
	if _, ok := a.tree.GetEntry(id); !ok {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelLayout, ID: id}, true
}

// Redacted hides layouts the viewer may not read. A hidden root becomes
// an axis-only placeholder so child positions stay interpretable.
func (a *Arrangement) Redacted(controllers access.ControllerMap, userID int64, readTeams []int64) (access.ControlledAggregate, bool) {
	tree, ok := aggregate.RedactTree(
		a.tree,
		func(l *layout.Layout) *layout.Layout { return l.Clone() },
		func(l *layout.Layout) *layout.Layout { return l.Redact() },
		controllers, userID, readTeams,
	)
	if !ok {
		return nil, false
	}
	return &Arrangement{tree: tree, log: tracking.NewChangelog(), unitRefs: a.unitRefs}, true
}

func (a *Arrangement) Protected() string {
	if a.unitRefs > 0 {
		return fmt.Sprintf("arrangement is referenced by %d units", a.unitRefs)
	}
	return ""
}
