// Package access holds the access-control vocabulary shared by every
// controlled model: access levels, authorisation states, release levels,
// controllers and their audit trails.
package access

import "github.com/cultivarhq/cultivar/pkg/serrors"

// Access is the level a user holds on a team.
type Access string

const (
	Read   Access = "READ"
	Write  Access = "WRITE"
	Curate Access = "CURATE"
	Admin  Access = "ADMIN"
)

// Levels lists every access level in ascending order of privilege.
func Levels() []Access {
	return []Access{Read, Write, Curate, Admin}
}

func ParseAccess(s string) (Access, error) {
	switch Access(s) {
	case Read, Write, Curate, Admin:
		return Access(s), nil
	}
	return "", serrors.IllegalOperation("unknown access level %q", s)
}

// Authorisation is the state of an affiliation.
type Authorisation string

const (
	Requested  Authorisation = "REQUESTED"
	Authorised Authorisation = "AUTHORISED"
	Revoked    Authorisation = "REVOKED"
)

func ParseAuthorisation(s string) (Authorisation, error) {
	switch Authorisation(s) {
	case Requested, Authorised, Revoked:
		return Authorisation(s), nil
	}
	return "", serrors.IllegalOperation("unknown authorisation %q", s)
}

// Release is the visibility granted on an entity by a controlling team.
// Ordering is PRIVATE < REGISTERED < PUBLIC; the strictest wins when
// several teams control the same entity.
type Release int

const (
	Private Release = iota
	Registered
	Public
)

func (r Release) String() string {
	switch r {
	case Private:
		return "PRIVATE"
	case Registered:
		return "REGISTERED"
	case Public:
		return "PUBLIC"
	default:
		return "UNKNOWN"
	}
}

func ParseRelease(s string) (Release, error) {
	switch s {
	case "PRIVATE":
		return Private, nil
	case "REGISTERED":
		return Registered, nil
	case "PUBLIC":
		return Public, nil
	}
	return 0, serrors.IllegalOperation("unknown release level %q", s)
}
