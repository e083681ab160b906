package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/organization/domain/team"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	founder  = int64(100)
	breeder  = int64(101)
	stranger = int64(102)
)

func newOrg(t *testing.T) *Organization {
	t.Helper()
	org, err := New("Rosaceae Institute", founder)
	require.NoError(t, err)
	return org
}

func TestNewOrganization(t *testing.T) {
	org := newOrg(t)

	assert.True(t, org.RootHasHeritableAdmin())
	assert.True(t, org.IsAdmin(org.RootID(), founder))
	assert.Equal(t, []int64{org.RootID()}, org.Changelog().Added())

	events := org.Events()
	require.Len(t, events, 1)
	assert.Empty(t, org.Events(), "events drain once")
}

func TestAddTeam(t *testing.T) {
	org := newOrg(t)
	id, err := org.AddTeam("Breeding", "Breeding Unit", org.RootID())
	require.NoError(t, err)

	parent, ok := org.ParentID(id)
	require.True(t, ok)
	assert.Equal(t, org.RootID(), parent)

	_, err = org.AddTeam("breeding", "", org.RootID())
	assert.True(t, serrors.IsIdentityExists(err), "names are unique case-insensitively")

	require.NoError(t, org.Rekey(id, 55))
	assert.Equal(t, int64(55), org.Changelog().Rekeyed(id), "the stored id is recoverable from the temporary one")
	stored, ok := org.GetTeam(55)
	require.True(t, ok)
	assert.Equal(t, int64(55), stored.ID())
}

func TestRemoveTeamReconnects(t *testing.T) {
	org := newOrg(t)
	mid, err := org.AddTeam("Mid", "", org.RootID())
	require.NoError(t, err)
	leaf, err := org.AddTeam("Leaf", "", mid)
	require.NoError(t, err)

	require.NoError(t, org.RemoveTeam(mid))
	parent, _ := org.ParentID(leaf)
	assert.Equal(t, org.RootID(), parent)

	err = org.RemoveTeam(org.RootID())
	assert.True(t, serrors.IsIllegalOperation(err))
}

func TestAffiliationLifecycle(t *testing.T) {
	org := newOrg(t)
	root := org.RootID()

	require.NoError(t, org.RequestAffiliation(root, breeder, access.Write))
	aff, ok := org.Root().Affiliations().Get(access.Write, breeder)
	require.True(t, ok)
	assert.Equal(t, access.Requested, aff.Authorisation)

	// Re-requesting is idempotent.
	require.NoError(t, org.RequestAffiliation(root, breeder, access.Write))

	// Only admins authorise.
	err := org.AuthoriseAffiliation(stranger, root, breeder, access.Write, false)
	assert.True(t, serrors.IsUnauthorised(err))

	require.NoError(t, org.AuthoriseAffiliation(founder, root, breeder, access.Write, false))
	aff, _ = org.Root().Affiliations().Get(access.Write, breeder)
	assert.Equal(t, access.Authorised, aff.Authorisation)

	require.NoError(t, org.RevokeAffiliation(founder, root, breeder, access.Write))
	aff, _ = org.Root().Affiliations().Get(access.Write, breeder)
	assert.Equal(t, access.Revoked, aff.Authorisation)

	// The affected user may remove their own row.
	require.NoError(t, org.RemoveAffiliation(breeder, root, breeder, access.Write))
	_, ok = org.Root().Affiliations().Get(access.Write, breeder)
	assert.False(t, ok)
}

func TestHeritableInheritance(t *testing.T) {
	org := newOrg(t)
	root := org.RootID()
	child, err := org.AddTeam("Child", "", root)
	require.NoError(t, err)
	grandchild, err := org.AddTeam("Grandchild", "", child)
	require.NoError(t, err)

	require.NoError(t, org.RequestAffiliation(root, breeder, access.Curate))
	require.NoError(t, org.AuthoriseAffiliation(founder, root, breeder, access.Curate, true))

	assert.Contains(t, org.GetAffiliates(grandchild, access.Curate, access.Authorised, true), breeder)
	assert.NotContains(t, org.GetAffiliates(grandchild, access.Curate, access.Authorised, false), breeder)

	t.Run("direct revocation overrides inherited grant", func(t *testing.T) {
		ct, _ := org.GetTeam(child)
		ct.Affiliations().Set(access.Curate, breeder, team.Affiliation{Authorisation: access.Revoked})
		assert.NotContains(t, org.GetAffiliates(child, access.Curate, access.Authorised, true), breeder)
	})

	t.Run("inherited authorisation never downgrades a request", func(t *testing.T) {
		gt, _ := org.GetTeam(grandchild)
		gt.Affiliations().Set(access.Curate, breeder, team.Affiliation{Authorisation: access.Requested})
		// The grandchild inherits through the child, where the grant is
		// revoked, so nothing arrives to upgrade the request.
		assert.NotContains(t, org.GetAffiliates(grandchild, access.Curate, access.Authorised, true), breeder)

		ct, _ := org.GetTeam(child)
		ct.Affiliations().Delete(access.Curate, breeder)
		assert.Contains(t, org.GetAffiliates(grandchild, access.Curate, access.Authorised, true), breeder)
	})
}

func TestAdminPreservation(t *testing.T) {
	t.Run("sole admin cannot be revoked", func(t *testing.T) {
		org := newOrg(t)
		err := org.RevokeAffiliation(founder, org.RootID(), founder, access.Admin)
		assert.True(t, serrors.IsIllegalOperation(err))
	})

	t.Run("root keeps a heritable admin", func(t *testing.T) {
		org := newOrg(t)
		root := org.RootID()
		require.NoError(t, org.RequestAffiliation(root, breeder, access.Admin))
		require.NoError(t, org.AuthoriseAffiliation(founder, root, breeder, access.Admin, false))

		// breeder is a second authorised admin, but not heritable; the
		// founder's row still cannot go.
		err := org.RemoveAffiliation(founder, root, founder, access.Admin)
		assert.True(t, serrors.IsIllegalOperation(err))

		require.NoError(t, org.AuthoriseAffiliation(founder, root, breeder, access.Admin, true))
		require.NoError(t, org.RemoveAffiliation(founder, root, founder, access.Admin))
		assert.True(t, org.RootHasHeritableAdmin())
	})

	t.Run("team with an inherited admin can lose its direct one", func(t *testing.T) {
		org := newOrg(t)
		child, err := org.AddTeam("Child", "", org.RootID())
		require.NoError(t, err)
		require.NoError(t, org.RequestAffiliation(child, breeder, access.Admin))
		require.NoError(t, org.AuthoriseAffiliation(founder, child, breeder, access.Admin, false))

		require.NoError(t, org.RevokeAffiliation(founder, child, breeder, access.Admin))
	})
}

func TestSplit(t *testing.T) {
	org := newOrg(t)
	root := org.RootID()
	branch, err := org.AddTeam("Branch", "", root)
	require.NoError(t, err)
	leaf, err := org.AddTeam("Leaf", "", branch)
	require.NoError(t, err)

	split, err := org.Split(branch)
	require.NoError(t, err)

	assert.Equal(t, branch, split.RootID())
	_, ok := split.GetTeam(leaf)
	assert.True(t, ok)
	_, ok = org.GetTeam(branch)
	assert.False(t, ok)

	// The founder administered the branch via inheritance; severance
	// promotes that into a direct heritable grant on the new root.
	assert.True(t, split.RootHasHeritableAdmin())
	assert.True(t, split.IsAdmin(branch, founder))

	_, err = org.Split(root)
	assert.True(t, serrors.IsIllegalOperation(err))
}

func TestRedacted(t *testing.T) {
	org := newOrg(t)
	root := org.RootID()
	visibleTeam, err := org.AddTeam("Visible", "", root)
	require.NoError(t, err)
	hiddenTeam, err := org.AddTeam("Hidden", "", visibleTeam)
	require.NoError(t, err)
	reachable, err := org.AddTeam("Reachable", "", hiddenTeam)
	require.NoError(t, err)

	require.NoError(t, org.RequestAffiliation(visibleTeam, breeder, access.Read))
	require.NoError(t, org.AuthoriseAffiliation(founder, visibleTeam, breeder, access.Read, false))
	require.NoError(t, org.RequestAffiliation(reachable, breeder, access.Read))
	require.NoError(t, org.AuthoriseAffiliation(founder, reachable, breeder, access.Read, false))

	t.Run("stranger sees nothing", func(t *testing.T) {
		view, ok := org.Redacted(stranger)
		assert.False(t, ok)
		assert.Nil(t, view)
	})

	t.Run("viewer keeps reachable teams, loses hidden ones", func(t *testing.T) {
		view, ok := org.Redacted(breeder)
		require.True(t, ok)

		_, found := view.GetTeam(hiddenTeam)
		assert.False(t, found)
		_, found = view.GetTeam(reachable)
		assert.True(t, found)
		parent, _ := view.ParentID(reachable)
		assert.Equal(t, visibleTeam, parent, "children reconnect past removed teams")
	})

	t.Run("non-admin sees only own rows", func(t *testing.T) {
		view, ok := org.Redacted(breeder)
		require.True(t, ok)
		vt, _ := view.GetTeam(visibleTeam)
		_, found := vt.Affiliations().Get(access.Read, breeder)
		assert.True(t, found)
		_, found = vt.Affiliations().Get(access.Admin, founder)
		assert.False(t, found)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		view, ok := org.Redacted(founder)
		require.True(t, ok)
		vt, _ := view.GetTeam(visibleTeam)
		_, found := vt.Affiliations().Get(access.Read, breeder)
		assert.True(t, found)
	})
}

func TestRedactedHiddenRoot(t *testing.T) {
	org := newOrg(t)
	root := org.RootID()
	left, err := org.AddTeam("Left", "", root)
	require.NoError(t, err)
	right, err := org.AddTeam("Right", "", root)
	require.NoError(t, err)

	require.NoError(t, org.RequestAffiliation(left, breeder, access.Read))
	require.NoError(t, org.AuthoriseAffiliation(founder, left, breeder, access.Read, false))
	require.NoError(t, org.RequestAffiliation(right, breeder, access.Read))
	require.NoError(t, org.AuthoriseAffiliation(founder, right, breeder, access.Read, false))

	// The root anchors both visible branches, so it survives as a
	// structural stand-in stripped of affiliations.
	view, ok := org.Redacted(breeder)
	require.True(t, ok)
	assert.Equal(t, root, view.RootID())

	rt, found := view.GetTeam(root)
	require.True(t, found)
	assert.Empty(t, rt.Affiliations())

	parent, _ := view.ParentID(left)
	assert.Equal(t, root, parent)
	parent, _ = view.ParentID(right)
	assert.Equal(t, root, parent)
}

func TestAccessTeams(t *testing.T) {
	org := newOrg(t)
	root := org.RootID()
	child, err := org.AddTeam("Child", "", root)
	require.NoError(t, err)

	require.NoError(t, org.RequestAffiliation(root, breeder, access.Write))
	require.NoError(t, org.AuthoriseAffiliation(founder, root, breeder, access.Write, true))

	teams := org.AccessTeams(breeder)
	assert.ElementsMatch(t, []int64{root, child}, teams[access.Write])
	assert.Empty(t, teams[access.Admin])

	founderTeams := org.AccessTeams(founder)
	assert.ElementsMatch(t, []int64{root, child}, founderTeams[access.Admin])
}
