package team

import (
	"sort"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
)

// Affiliation is one user's standing at a single access level on a team.
// Heritable affiliations also apply to every descendant team.
type Affiliation struct {
	Authorisation access.Authorisation
	Heritable     bool
}

// Affiliations maps access level → user id → affiliation.
type Affiliations map[access.Access]map[int64]Affiliation

func NewAffiliations() Affiliations {
	return make(Affiliations)
}

func (a Affiliations) Get(level access.Access, userID int64) (Affiliation, bool) {
	byUser, ok := a[level]
	if !ok {
		return Affiliation{}, false
	}
	aff, ok := byUser[userID]
	return aff, ok
}

func (a Affiliations) Set(level access.Access, userID int64, aff Affiliation) {
	byUser, ok := a[level]
	if !ok {
		byUser = make(map[int64]Affiliation)
		a[level] = byUser
	}
	byUser[userID] = aff
}

func (a Affiliations) Delete(level access.Access, userID int64) {
	if byUser, ok := a[level]; ok {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(a, level)
		}
	}
}

// Users returns the user ids at level whose authorisation matches,
// ascending. Pass heritableOnly to restrict to heritable rows.
func (a Affiliations) Users(level access.Access, authorisation access.Authorisation, heritableOnly bool) []int64 {
	var out []int64
	for userID, aff := range a[level] {
		if aff.Authorisation != authorisation {
			continue
		}
		if heritableOnly && !aff.Heritable {
			continue
		}
		out = append(out, userID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a Affiliations) Clone() Affiliations {
	out := make(Affiliations, len(a))
	for level, byUser := range a {
		cp := make(map[int64]Affiliation, len(byUser))
		for userID, aff := range byUser {
			cp[userID] = aff
		}
		out[level] = cp
	}
	return out
}

// MergeInherited folds a heritable parent view into this map following
// the inheritance rules: an authoritative direct row overrides an
// inherited REVOKED or REQUESTED one, and an inherited AUTHORISED never
// downgrades to REQUESTED.
func (a Affiliations) MergeInherited(parent Affiliations) Affiliations {
	out := a.Clone()
	for level, byUser := range parent {
		for userID, inherited := range byUser {
			if !inherited.Heritable {
				continue
			}
			direct, ok := out.Get(level, userID)
			if !ok {
				out.Set(level, userID, inherited)
				continue
			}
			if direct.Authorisation == access.Requested && inherited.Authorisation == access.Authorised {
				out.Set(level, userID, Affiliation{
					Authorisation: access.Authorised,
					Heritable:     direct.Heritable || inherited.Heritable,
				})
			}
		}
	}
	return out
}

// OwnRows returns a copy holding only the given user's rows, the view a
// non-admin gets of another team's affiliations.
func (a Affiliations) OwnRows(userID int64) Affiliations {
	out := NewAffiliations()
	for level, byUser := range a {
		if aff, ok := byUser[userID]; ok {
			out.Set(level, userID, aff)
		}
	}
	return out
}
