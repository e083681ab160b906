// Package location holds the Location entity. Locations only live inside
// a Region tree, rooted at a country entry.
package location

import "github.com/cultivarhq/cultivar/modules/core/domain/access"

type Type string

const (
	Country Type = "COUNTRY"
	State   Type = "STATE"
	Region  Type = "REGION"
	City    Type = "CITY"
	Farm    Type = "FARM"
	Field   Type = "FIELD"
)

type Location struct {
	id          int64
	name        string
	code        string
	kind        Type
	description string
	redacted    bool
}

type Option func(*Location)

func WithID(id int64) Option {
	return func(l *Location) { l.id = id }
}

func WithCode(code string) Option {
	return func(l *Location) { l.code = code }
}

func WithDescription(description string) Option {
	return func(l *Location) { l.description = description }
}

func New(name string, kind Type, opts ...Option) *Location {
	l := &Location{name: name, kind: kind}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Location) ID() int64           { return l.id }
func (l *Location) Label() access.Label { return access.LabelLocation }
func (l *Location) Name() string        { return l.name }
func (l *Location) Code() string        { return l.code }
func (l *Location) Kind() Type          { return l.kind }
func (l *Location) Description() string { return l.description }
func (l *Location) IsRedacted() bool    { return l.redacted }

func (l *Location) SetID(id int64) { l.id = id }

func (l *Location) Update(name, code, description string) {
	l.name = name
	l.code = code
	l.description = description
}

func (l *Location) Clone() *Location {
	cp := *l
	return &cp
}

// Redact returns a placeholder preserving only structural fields.
func (l *Location) Redact() *Location {
	return &Location{id: l.id, kind: l.kind, redacted: true}
}
