// Package unit holds the experimental Unit entity: a plot, plant, row or
// sample observed in the field, positioned in space and time.
package unit

import (
	"time"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

// Position stamps a unit at a location, optionally at a coordinate tuple
// within a layout, over a time span. An open End means the unit is still
// there.
type Position struct {
	LocationID  int64
	LayoutID    *int64
	Coordinates []string
	Start       time.Time
	End         *time.Time
}

func (p Position) Clone() Position {
	cp := p
	cp.Coordinates = append([]string(nil), p.Coordinates...)
	if p.LayoutID != nil {
		id := *p.LayoutID
		cp.LayoutID = &id
	}
	if p.End != nil {
		end := *p.End
		cp.End = &end
	}
	return cp
}

type Unit struct {
	id          int64
	name        string
	subjectID   int64 // ontology term describing what the unit is
	description string
	positions   []Position
	redacted    bool
}

type Option func(*Unit)

func WithID(id int64) Option {
	return func(u *Unit) { u.id = id }
}

func WithDescription(description string) Option {
	return func(u *Unit) { u.description = description }
}

func WithPositions(positions ...Position) Option {
	return func(u *Unit) {
		u.positions = make([]Position, 0, len(positions))
		for _, p := range positions {
			u.positions = append(u.positions, p.Clone())
		}
	}
}

func New(name string, subjectID int64, opts ...Option) *Unit {
	u := &Unit{name: name, subjectID: subjectID}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Unit) ID() int64           { return u.id }
func (u *Unit) Label() access.Label { return access.LabelUnit }
func (u *Unit) Name() string        { return u.name }
func (u *Unit) SubjectID() int64    { return u.subjectID }
func (u *Unit) Description() string { return u.description }
func (u *Unit) IsRedacted() bool    { return u.redacted }

func (u *Unit) Positions() []Position {
	out := make([]Position, 0, len(u.positions))
	for _, p := range u.positions {
		out = append(out, p.Clone())
	}
	return out
}

// CurrentPosition returns the open-ended position, if any.
func (u *Unit) CurrentPosition() (Position, bool) {
	for _, p := range u.positions {
		if p.End == nil {
			return p.Clone(), true
		}
	}
	return Position{}, false
}

func (u *Unit) SetID(id int64) { u.id = id }

func (u *Unit) Update(name, description string) {
	u.name = name
	u.description = description
}

// AddPosition stamps the unit at a new position, closing any open one at
// the new position's start.
func (u *Unit) AddPosition(p Position) error {
	if p.LocationID == 0 {
		return serrors.IllegalOperation("position requires a location")
	}
	if p.End != nil && p.End.Before(p.Start) {
		return serrors.IllegalOperation("position ends before it starts")
	}
	for i := range u.positions {
		if u.positions[i].End == nil {
			end := p.Start
			u.positions[i].End = &end
		}
	}
	u.positions = append(u.positions, p.Clone())
	return nil
}

func (u *Unit) Clone() *Unit {
	cp := *u
	cp.positions = u.Positions()
	return &cp
}

func (u *Unit) Redact() *Unit {
	return &Unit{id: u.id, subjectID: u.subjectID, redacted: true}
}
