package access

import (
	"time"
)

// WriteStamp is one append-only (user, time) record on a controlled model.
type WriteStamp struct {
	UserID int64
	Time   time.Time
}

// ReleaseStamp is one audit entry on a team's control of an entity.
type ReleaseStamp struct {
	UserID  int64
	Release Release
	Time    time.Time
}

// Control is one team's hold on an entity: the current release plus the
// full history of who set what, when.
type Control struct {
	Release Release
	Time    time.Time
	Audit   []ReleaseStamp
}

// Controller is the access-control record attached to a controlled model.
type Controller struct {
	Controls map[int64]Control
	Writes   []WriteStamp
}

func NewController() *Controller {
	return &Controller{Controls: make(map[int64]Control)}
}

// Teams returns the ids of the controlling teams.
func (c *Controller) Teams() []int64 {
	out := make([]int64, 0, len(c.Controls))
	for team := range c.Controls {
		out = append(out, team)
	}
	return out
}

// Release is the effective visibility: the strictest release across all
// controlling teams. An entity nobody controls is private.
//
// Recomputation is deliberately isolated here so a switch to most-recent
// semantics stays local.
func (c *Controller) Release() Release {
	release := Public
	if len(c.Controls) == 0 {
		return Private
	}
	for _, control := range c.Controls {
		if control.Release < release {
			release = control.Release
		}
	}
	return release
}

// Created is the time of the first write stamp.
func (c *Controller) Created() time.Time {
	if len(c.Writes) == 0 {
		return time.Time{}
	}
	return c.Writes[0].Time
}

// Updated is the time of the last write stamp.
func (c *Controller) Updated() time.Time {
	if len(c.Writes) == 0 {
		return time.Time{}
	}
	return c.Writes[len(c.Writes)-1].Time
}

// SetControl upserts a team's control at the given release, appending to
// the audit trail.
func (c *Controller) SetControl(teamID int64, release Release, userID int64, now time.Time) {
	control := c.Controls[teamID]
	control.Release = release
	control.Time = now
	control.Audit = append(control.Audit, ReleaseStamp{UserID: userID, Release: release, Time: now})
	c.Controls[teamID] = control
}

// SetRelease changes the release held by an existing controlling team.
func (c *Controller) SetRelease(teamID int64, release Release, userID int64, now time.Time) bool {
	if _, ok := c.Controls[teamID]; !ok {
		return false
	}
	c.SetControl(teamID, release, userID, now)
	return true
}

// RemoveControl drops a team's control. The last control may not be
// removed; every controller row keeps a non-empty controls map.
func (c *Controller) RemoveControl(teamID int64) bool {
	if _, ok := c.Controls[teamID]; !ok {
		return false
	}
	if len(c.Controls) == 1 {
		return false
	}
	delete(c.Controls, teamID)
	return true
}

// RecordWrite appends a write stamp.
func (c *Controller) RecordWrite(userID int64, now time.Time) {
	c.Writes = append(c.Writes, WriteStamp{UserID: userID, Time: now})
}

// HasAccess decides whether a user acting through the given access teams
// holds the requested access on this entity.
//
// READ is granted by a PUBLIC release, by a REGISTERED release to any
// signed-in user, or by controlling-team membership. Write-class access
// (WRITE, CURATE, ADMIN) requires controlling-team membership.
func (c *Controller) HasAccess(level Access, userID int64, accessTeams []int64) bool {
	if level == Read {
		switch c.Release() {
		case Public:
			return true
		case Registered:
			if userID != 0 {
				return true
			}
		}
	}
	for _, team := range accessTeams {
		if _, ok := c.Controls[team]; ok {
			return true
		}
	}
	return false
}
