// Package domain holds the Organization aggregate: a rooted tree of teams
// with per-team affiliations, inheritance resolution and the admin
// preservation invariants.
package domain

import (
	"strings"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/organization/domain/events"
	"github.com/cultivarhq/cultivar/modules/organization/domain/team"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

type Organization struct {
	tree   *graph.Tree[*team.Team]
	log    *tracking.Changelog
	events []any
}

// New bootstraps an organization from its primary team. The founder
// becomes a heritable authorised admin, satisfying the root invariant
// from the first moment.
func New(name string, founderID int64) (*Organization, error) {
	o := &Organization{
		tree: graph.NewTree[*team.Team](),
		log:  tracking.NewChangelog(),
	}
	root := team.New(name)
	root.Affiliations().Set(access.Admin, founderID, team.Affiliation{
		Authorisation: access.Authorised,
		Heritable:     true,
	})
	id, err := o.tree.AddEntry(root, nil)
	if err != nil {
		return nil, err
	}
	root.SetID(id)
	o.log.MarkAdded(id)
	o.events = append(o.events, events.OrganizationCreated{
		RootTeamID: id,
		Name:       name,
		FounderID:  founderID,
	})
	return o, nil
}

// Hydrate rebuilds an organization from persisted rows. Teams must arrive
// parents-first; parentID is nil for the root.
func Hydrate(rows []HydrateRow) (*Organization, error) {
	o := &Organization{
		tree: graph.NewTree[*team.Team](),
		log:  tracking.NewChangelog(),
	}
	for _, row := range rows {
		var sources map[int64]graph.Attrs
		if row.ParentID != nil {
			sources = map[int64]graph.Attrs{*row.ParentID: nil}
		}
		if err := o.tree.AddWithID(row.Team.ID(), row.Team, sources); err != nil {
			return nil, err
		}
		o.log.MarkPersisted(row.Team.ID())
	}
	if _, _, ok := o.tree.Root(); !ok {
		return nil, serrors.InconsistentState("organization has no root team")
	}
	return o, nil
}

type HydrateRow struct {
	Team     *team.Team
	ParentID *int64
}

func (o *Organization) RootID() int64 {
	return o.tree.RootID()
}

func (o *Organization) Root() *team.Team {
	_, root, _ := o.tree.Root()
	return root
}

func (o *Organization) Teams() []*team.Team {
	ids := o.tree.IDs()
	out := make([]*team.Team, 0, len(ids))
	for _, id := range ids {
		t, _ := o.tree.GetEntry(id)
		out = append(out, t)
	}
	return out
}

func (o *Organization) GetTeam(id int64) (*team.Team, bool) {
	return o.tree.GetEntry(id)
}

func (o *Organization) GetTeamByName(name string) (*team.Team, bool) {
	_, t, ok := o.tree.Find(func(t *team.Team) bool {
		return strings.EqualFold(t.Name(), name)
	})
	return t, ok
}

func (o *Organization) ParentID(teamID int64) (int64, bool) {
	return o.tree.ParentID(teamID)
}

func (o *Organization) ChildrenIDs(teamID int64) []int64 {
	return o.tree.ChildrenIDs(teamID)
}

// Changelog exposes the diff log to the repository.
func (o *Organization) Changelog() *tracking.Changelog { return o.log }

// Events drains the buffered domain events.
func (o *Organization) Events() []any {
	out := o.events
	o.events = nil
	return out
}

// Rekey reconciles a temporary team id with its store-assigned one.
func (o *Organization) Rekey(oldID, newID int64) error {
	if err := o.tree.Rekey(oldID, newID); err != nil {
		return err
	}
	if t, ok := o.tree.GetEntry(newID); ok {
		t.SetID(newID)
	}
	o.log.Rekey(oldID, newID)
	return nil
}

// AddTeam places a new team beneath parentID.
func (o *Organization) AddTeam(name, fullName string, parentID int64) (int64, error) {
	if _, ok := o.GetTeamByName(name); ok {
		return 0, serrors.IdentityExists("team %q already exists in this organization", name)
	}
	t := team.New(name, team.WithFullName(fullName))
	id, err := o.tree.AddEntry(t, map[int64]graph.Attrs{parentID: nil})
	if err != nil {
		return 0, err
	}
	t.SetID(id)
	o.log.MarkAdded(id)
	o.log.MarkEdgeAdded(parentID, id)
	o.events = append(o.events, events.TeamAdded{
		RootTeamID: o.RootID(),
		TeamID:     id,
		ParentID:   parentID,
		Name:       name,
	})
	return id, nil
}

// RenameTeam updates a team's display names.
func (o *Organization) RenameTeam(teamID int64, name, fullName string) error {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return serrors.NoResultFound("team %d not in organization", teamID)
	}
	t.Rename(name, fullName)
	o.log.MarkChanged(teamID, "name", "fullname")
	return nil
}

// RemoveTeam deletes a team; its children are reattached to its parent.
// The root team cannot be removed.
func (o *Organization) RemoveTeam(teamID int64) error {
	if teamID == o.RootID() {
		return serrors.IllegalOperation("cannot remove the primary team")
	}
	if _, ok := o.tree.GetEntry(teamID); !ok {
		return serrors.NoResultFound("team %d not in organization", teamID)
	}
	parent, _ := o.tree.ParentID(teamID)
	children := o.tree.ChildrenIDs(teamID)
	if err := o.tree.RemoveAndReconnect(teamID); err != nil {
		return err
	}
	o.log.MarkRemoved(teamID)
	o.log.MarkEdgeRemoved(parent, teamID)
	for _, child := range children {
		o.log.MarkEdgeRemoved(teamID, child)
		o.log.MarkEdgeAdded(parent, child)
	}
	o.events = append(o.events, events.TeamRemoved{RootTeamID: o.RootID(), TeamID: teamID})
	return nil
}

// MoveTeam reparents a team within the tree.
func (o *Organization) MoveTeam(teamID, newParentID int64) error {
	old, _ := o.tree.ParentID(teamID)
	if err := o.tree.ChangeSource(teamID, newParentID); err != nil {
		return err
	}
	if old != newParentID {
		o.log.MarkEdgeRemoved(old, teamID)
		o.log.MarkEdgeAdded(newParentID, teamID)
	}
	return nil
}
