package domain

import (
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/organization/domain/events"
	"github.com/cultivarhq/cultivar/modules/organization/domain/team"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

// InheritedAffiliations returns the heritable view a team inherits from
// its ancestors. Rules: an authoritative direct row on a descendant
// overrides an inherited REVOKED or REQUESTED one, and an inherited
// AUTHORISED never downgrades to REQUESTED.
func (o *Organization) InheritedAffiliations(teamID int64) team.Affiliations {
	parent, ok := o.tree.ParentID(teamID)
	if !ok {
		return team.NewAffiliations()
	}
	return o.effectiveAffiliations(parent)
}

// EffectiveAffiliations merges a team's direct rows over its inherited
// view.
func (o *Organization) EffectiveAffiliations(teamID int64) team.Affiliations {
	return o.effectiveAffiliations(teamID)
}

func (o *Organization) effectiveAffiliations(teamID int64) team.Affiliations {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return team.NewAffiliations()
	}
	parent, hasParent := o.tree.ParentID(teamID)
	if !hasParent {
		return t.Affiliations().Clone()
	}
	return t.Affiliations().MergeInherited(o.effectiveAffiliations(parent))
}

// GetAffiliates returns users with a matching affiliation on the team,
// including heritable matches from ancestors when inheritance is set.
func (o *Organization) GetAffiliates(teamID int64, level access.Access, authorisation access.Authorisation, inheritance bool) []int64 {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return nil
	}
	if !inheritance {
		return t.Affiliations().Users(level, authorisation, false)
	}
	return o.effectiveAffiliations(teamID).Users(level, authorisation, false)
}

// IsAdmin reports whether the user is an authorised admin of the team,
// directly or via inheritance.
func (o *Organization) IsAdmin(teamID, userID int64) bool {
	aff, ok := o.effectiveAffiliations(teamID).Get(access.Admin, userID)
	return ok && aff.Authorisation == access.Authorised
}

// AccessTeams resolves the user's access-team set: for every level, the
// teams where the user is an authorised affiliate.
func (o *Organization) AccessTeams(userID int64) map[access.Access][]int64 {
	out := make(map[access.Access][]int64)
	for _, teamID := range o.tree.IDs() {
		effective := o.effectiveAffiliations(teamID)
		for _, level := range access.Levels() {
			if aff, ok := effective.Get(level, userID); ok && aff.Authorisation == access.Authorised {
				out[level] = append(out[level], teamID)
			}
		}
	}
	return out
}

// RequestAffiliation records a user's request for an access level.
// Idempotent while the affiliation is already REQUESTED or AUTHORISED.
func (o *Organization) RequestAffiliation(teamID, userID int64, level access.Access) error {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return serrors.NoResultFound("team %d not in organization", teamID)
	}
	if existing, ok := t.Affiliations().Get(level, userID); ok {
		switch existing.Authorisation {
		case access.Requested, access.Authorised:
			return nil
		}
	}
	t.Affiliations().Set(level, userID, team.Affiliation{Authorisation: access.Requested})
	o.log.MarkChanged(teamID, "affiliations")
	o.events = append(o.events, events.AffiliationRequested{TeamID: teamID, UserID: userID, Level: level})
	return nil
}

// AuthoriseAffiliation approves an affiliation. Only an admin of the team
// may authorise.
func (o *Organization) AuthoriseAffiliation(adminID, teamID, userID int64, level access.Access, heritable bool) error {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return serrors.NoResultFound("team %d not in organization", teamID)
	}
	if !o.IsAdmin(teamID, adminID) {
		return serrors.Unauthorised("user %d is not an admin of team %d", adminID, teamID)
	}
	t.Affiliations().Set(level, userID, team.Affiliation{
		Authorisation: access.Authorised,
		Heritable:     heritable,
	})
	o.log.MarkChanged(teamID, "affiliations")
	o.events = append(o.events, events.AffiliationAuthorised{
		TeamID:    teamID,
		UserID:    userID,
		Level:     level,
		Heritable: heritable,
		AdminID:   adminID,
	})
	return nil
}

// RevokeAffiliation marks an affiliation REVOKED. Only an admin may
// revoke, and revoking may not strip the team of its last authorised
// admin.
func (o *Organization) RevokeAffiliation(adminID, teamID, userID int64, level access.Access) error {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return serrors.NoResultFound("team %d not in organization", teamID)
	}
	if !o.IsAdmin(teamID, adminID) {
		return serrors.Unauthorised("user %d is not an admin of team %d", adminID, teamID)
	}
	aff, ok := t.Affiliations().Get(level, userID)
	if !ok {
		return serrors.NoResultFound("user %d has no %s affiliation on team %d", userID, level, teamID)
	}
	if level == access.Admin {
		if err := o.checkAdminWithdrawal(teamID, userID); err != nil {
			return err
		}
	}
	aff.Authorisation = access.Revoked
	t.Affiliations().Set(level, userID, aff)
	o.log.MarkChanged(teamID, "affiliations")
	o.events = append(o.events, events.AffiliationRevoked{TeamID: teamID, UserID: userID, Level: level, AdminID: adminID})
	return nil
}

// RemoveAffiliation deletes an affiliation row. Permitted to the affected
// user themself or to an admin of the team, subject to the admin
// preservation invariants.
func (o *Organization) RemoveAffiliation(actorID, teamID, userID int64, level access.Access) error {
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return serrors.NoResultFound("team %d not in organization", teamID)
	}
	if actorID != userID && !o.IsAdmin(teamID, actorID) {
		return serrors.Unauthorised("user %d may not remove affiliations on team %d", actorID, teamID)
	}
	if _, ok := t.Affiliations().Get(level, userID); !ok {
		return serrors.NoResultFound("user %d has no %s affiliation on team %d", userID, level, teamID)
	}
	if level == access.Admin {
		if err := o.checkAdminWithdrawal(teamID, userID); err != nil {
			return err
		}
	}
	t.Affiliations().Delete(level, userID)
	o.log.MarkChanged(teamID, "affiliations")
	o.events = append(o.events, events.AffiliationRemoved{TeamID: teamID, UserID: userID, Level: level, ActorID: actorID})
	return nil
}

// checkAdminWithdrawal rejects removing or revoking an admin when it
// would leave the team without an authorised admin, or strip the root of
// its last heritable authorised admin.
func (o *Organization) checkAdminWithdrawal(teamID, userID int64) error {
	t, _ := o.tree.GetEntry(teamID)
	remaining := 0
	for _, id := range t.Affiliations().Users(access.Admin, access.Authorised, false) {
		if id != userID {
			remaining++
		}
	}
	if remaining == 0 {
		// Inherited admins keep the team administrable.
		for _, id := range o.GetAffiliates(teamID, access.Admin, access.Authorised, true) {
			if id != userID {
				remaining++
			}
		}
	}
	if remaining == 0 {
		return serrors.IllegalOperation("team %d must retain at least one authorised admin", teamID)
	}
	if teamID == o.RootID() {
		heritable := 0
		for _, id := range t.Affiliations().Users(access.Admin, access.Authorised, true) {
			if id != userID {
				heritable++
			}
		}
		if heritable == 0 {
			if aff, ok := t.Affiliations().Get(access.Admin, userID); ok && aff.Heritable && aff.Authorisation == access.Authorised {
				return serrors.IllegalOperation("the primary team must retain a heritable authorised admin")
			}
		}
	}
	return nil
}

// Split severs a team from its parent into a standalone organization.
// Current effective admins of the team are promoted to heritable
// authorised admins on the new root before severance.
func (o *Organization) Split(teamID int64) (*Organization, error) {
	if teamID == o.RootID() {
		return nil, serrors.IllegalOperation("cannot split the primary team from itself")
	}
	t, ok := o.tree.GetEntry(teamID)
	if !ok {
		return nil, serrors.NoResultFound("team %d not in organization", teamID)
	}

	for _, adminID := range o.GetAffiliates(teamID, access.Admin, access.Authorised, true) {
		t.Affiliations().Set(access.Admin, adminID, team.Affiliation{
			Authorisation: access.Authorised,
			Heritable:     true,
		})
	}
	parent, _ := o.tree.ParentID(teamID)
	sub, err := o.tree.Severed(teamID)
	if err != nil {
		return nil, err
	}
	o.log.MarkEdgeRemoved(parent, teamID)

	split := &Organization{tree: sub, log: tracking.NewChangelog()}
	for _, id := range sub.IDs() {
		split.log.MarkPersisted(id)
	}
	// The admin promotion travels with the severed aggregate.
	split.log.MarkChanged(teamID, "affiliations")
	o.events = append(o.events, events.OrganizationSplit{
		OldRootTeamID: o.RootID(),
		NewRootTeamID: teamID,
	})
	return split, nil
}

// Redacted returns the organization as seen by viewerID: teams without
// any effective affiliation for the viewer are removed with parent-child
// reconnection (or blanked when removal would break the tree), and teams
// the viewer does not administer expose only the viewer's own rows.
func (o *Organization) Redacted(viewerID int64) (*Organization, bool) {
	visible := make(map[int64]bool)
	anyVisible := false
	for _, teamID := range o.tree.IDs() {
		effective := o.effectiveAffiliations(teamID)
		for _, level := range access.Levels() {
			if aff, ok := effective.Get(level, viewerID); ok && aff.Authorisation == access.Authorised {
				visible[teamID] = true
				anyVisible = true
				break
			}
		}
	}
	if !anyVisible {
		return nil, false
	}

	clone := o.cloneStructure()
	// Walk leaves-up so reconnection never orphans a visible child.
	ids := clone.tree.IDs()
	for i := len(ids) - 1; i >= 0; i-- {
		teamID := ids[i]
		if visible[teamID] {
			continue
		}
		if err := clone.tree.RemoveAndReconnect(teamID); err != nil {
			// Root with several visible subtrees: keep a placeholder
			// carrying only structural fields.
			if t, ok := clone.tree.GetEntry(teamID); ok {
				placeholder := team.New(t.Name(), team.WithID(t.ID()), team.WithFullName(t.FullName()))
				_ = clone.tree.Replace(teamID, placeholder)
			}
		}
	}
	for _, teamID := range clone.tree.IDs() {
		if !visible[teamID] {
			continue
		}
		if o.IsAdmin(teamID, viewerID) {
			continue
		}
		t, _ := clone.tree.GetEntry(teamID)
		redacted := team.New(t.Name(), team.WithID(t.ID()), team.WithFullName(t.FullName()),
			team.WithAffiliations(t.Affiliations().OwnRows(viewerID)))
		_ = clone.tree.Replace(teamID, redacted)
	}
	return clone, true
}

func (o *Organization) cloneStructure() *Organization {
	clone := &Organization{
		tree: graph.NewTree[*team.Team](),
		log:  tracking.NewChangelog(),
	}
	rootID := o.tree.RootID()
	if t, ok := o.tree.GetEntry(rootID); ok {
		_ = clone.tree.AddWithID(rootID, t.Clone(), nil)
	}
	for _, id := range o.tree.Descendants(rootID) {
		parent, _ := o.tree.ParentID(id)
		t, _ := o.tree.GetEntry(id)
		_ = clone.tree.AddWithID(id, t.Clone(), map[int64]graph.Attrs{parent: nil})
	}
	return clone
}

// RootHasHeritableAdmin reports the root invariant: the primary team
// always carries at least one heritable authorised admin.
func (o *Organization) RootHasHeritableAdmin() bool {
	root := o.Root()
	if root == nil {
		return false
	}
	return len(root.Affiliations().Users(access.Admin, access.Authorised, true)) > 0
}
