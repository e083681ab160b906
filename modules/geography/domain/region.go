// Package domain models regions: trees of locations rooted at a
// country, used to place experimental units in the world.
package domain

import (
	"strings"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/core/domain/aggregate"
	"github.com/cultivarhq/cultivar/modules/geography/domain/location"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

// Region is a tree of locations. The root must be a country; every other
// location nests beneath exactly one parent.
type Region struct {
	tree *graph.Tree[*location.Location]
	log  *tracking.Changelog
}

// New starts a region from its root country.
func New(root *location.Location) (*Region, error) {
	if root.Kind() != location.Country {
		return nil, serrors.IllegalOperation("region root must be a country, got %s", root.Kind())
	}
	r := &Region{
		tree: graph.NewTree[*location.Location](),
		log:  tracking.NewChangelog(),
	}
	id, err := r.tree.AddEntry(root, nil)
	if err != nil {
		return nil, err
	}
	root.SetID(id)
	r.log.MarkAdded(id)
	return r, nil
}

// Hydrate rebuilds a region from stored rows, parents before children.
type HydrateRow struct {
	Location *location.Location
	ParentID *int64
}

func Hydrate(rows []HydrateRow) (*Region, error) {
	r := &Region{
		tree: graph.NewTree[*location.Location](),
		log:  tracking.NewChangelog(),
	}
	for _, row := range rows {
		var sources map[int64]graph.Attrs
		if row.ParentID != nil {
			sources = map[int64]graph.Attrs{*row.ParentID: nil}
		}
		if err := r.tree.AddWithID(row.Location.ID(), row.Location, sources); err != nil {
			return nil, err
		}
		r.log.MarkPersisted(row.Location.ID())
	}
	return r, nil
}

func (r *Region) RootID() int64 { return r.tree.RootID() }

func (r *Region) Root() *location.Location {
	_, root, _ := r.tree.Root()
	return root
}

func (r *Region) GetLocation(id int64) (*location.Location, bool) {
	return r.tree.GetEntry(id)
}

func (r *Region) GetLocationByCode(code string) (*location.Location, bool) {
	_, l, ok := r.tree.Find(func(l *location.Location) bool {
		return l.Code() != "" && strings.EqualFold(l.Code(), code)
	})
	return l, ok
}

func (r *Region) Locations() []*location.Location {
	out := make([]*location.Location, 0, r.tree.Len())
	for _, id := range r.tree.IDs() {
		l, _ := r.tree.GetEntry(id)
		out = append(out, l)
	}
	return out
}

func (r *Region) ParentID(id int64) (int64, bool) { return r.tree.ParentID(id) }
func (r *Region) ChildrenIDs(id int64) []int64    { return r.tree.ChildrenIDs(id) }
func (r *Region) Changelog() *tracking.Changelog  { return r.log }

// AddLocation nests a new location beneath parentID. Countries cannot be
// nested; a region has exactly one at its root.
func (r *Region) AddLocation(l *location.Location, parentID int64) (int64, error) {
	if l.Kind() == location.Country {
		return 0, serrors.IllegalOperation("a country cannot be nested inside a region")
	}
	id, err := r.tree.AddEntry(l, map[int64]graph.Attrs{parentID: nil})
	if err != nil {
		return 0, err
	}
	l.SetID(id)
	r.log.MarkAdded(id)
	r.log.MarkEdgeAdded(parentID, id)
	return id, nil
}

// UpdateLocation replaces the descriptive fields of a stored location.
func (r *Region) UpdateLocation(id int64, name, code, description string) error {
	l, ok := r.tree.GetEntry(id)
	if !ok {
		return serrors.NoResultFound("location %d not in region", id)
	}
	l.Update(name, code, description)
	r.log.MarkChanged(id, "name", "code", "description")
	return nil
}

// MoveLocation re-nests a location (and its subtree) beneath a new parent.
func (r *Region) MoveLocation(id, newParentID int64) error {
	old, hasParent := r.tree.ParentID(id)
	if err := r.tree.ChangeSource(id, newParentID); err != nil {
		return err
	}
	if hasParent && old != newParentID {
		r.log.MarkEdgeRemoved(old, id)
		r.log.MarkEdgeAdded(newParentID, id)
	}
	return nil
}

// RemoveLocation drops a location, reconnecting its children to its
// parent. The root country can only go when it is the last entry.
func (r *Region) RemoveLocation(id int64) error {
	if id == r.tree.RootID() && r.tree.Len() > 1 {
		return serrors.IllegalOperation("cannot remove the root country while other locations remain")
	}
	parent, hasParent := r.tree.ParentID(id)
	children := r.tree.ChildrenIDs(id)
	if err := r.tree.RemoveAndReconnect(id); err != nil {
		return err
	}
	r.log.MarkRemoved(id)
	if hasParent {
		r.log.MarkEdgeRemoved(parent, id)
		for _, child := range children {
			r.log.MarkEdgeRemoved(id, child)
			r.log.MarkEdgeAdded(parent, child)
		}
	}
	return nil
}

func (r *Region) Rekey(oldID, newID int64) error {
	if l, ok := r.tree.GetEntry(oldID); ok {
		l.SetID(newID)
	}
	if err := r.tree.Rekey(oldID, newID); err != nil {
		return err
	}
	r.log.Rekey(oldID, newID)
	return nil
}

// ControlledModels lists every location for controller lookup.
func (r *Region) ControlledModels() []access.ControlledModel {
	out := make([]access.ControlledModel, 0, r.tree.Len())
	for _, id := range r.tree.IDs() {
		l, _ := r.tree.GetEntry(id)
		out = append(out, l)
	}
	return out
}

func (r *Region) ModelKey(id int64) (access.Key, bool) {
	if _, ok := r.tree.GetEntry(id); !ok {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelLocation, ID: id}, true
}

// Redacted returns the viewer's copy of the region. Hidden locations are
// removed with their children reconnected; a hidden root survives as a
// placeholder so visible descendants keep their shape.
func (r *Region) Redacted(controllers access.ControllerMap, userID int64, readTeams []int64) (access.ControlledAggregate, bool) {
	tree, ok := aggregate.RedactTree(
		r.tree,
		func(l *location.Location) *location.Location { return l.Clone() },
		func(l *location.Location) *location.Location { return l.Redact() },
		controllers, userID, readTeams,
	)
	if !ok {
		return nil, false
	}
	return &Region{tree: tree, log: tracking.NewChangelog()}, true
}

// Protected always allows removal; nothing else references locations
// directly once their units are gone.
func (r *Region) Protected() string { return "" }
