// Package events holds the domain events the organization aggregate
// buffers during mutation; the unit of work drains them to the bus after
// commit.
package events

import "github.com/cultivarhq/cultivar/modules/core/domain/access"

type OrganizationCreated struct {
	RootTeamID int64
	Name       string
	FounderID  int64
}

type TeamAdded struct {
	RootTeamID int64
	TeamID     int64
	ParentID   int64
	Name       string
}

type TeamRemoved struct {
	RootTeamID int64
	TeamID     int64
}

type AffiliationRequested struct {
	TeamID int64
	UserID int64
	Level  access.Access
}

type AffiliationAuthorised struct {
	TeamID    int64
	UserID    int64
	Level     access.Access
	Heritable bool
	AdminID   int64
}

type AffiliationRevoked struct {
	TeamID  int64
	UserID  int64
	Level   access.Access
	AdminID int64
}

type AffiliationRemoved struct {
	TeamID  int64
	UserID  int64
	Level   access.Access
	ActorID int64
}

type OrganizationSplit struct {
	OldRootTeamID int64
	NewRootTeamID int64
}
