// Package team holds the Team entity and its affiliation map. A team only
// ever lives as a node inside an Organization tree.
package team

type Team struct {
	id           int64
	name         string
	fullName     string
	affiliations Affiliations
}

type Option func(*Team)

func WithID(id int64) Option {
	return func(t *Team) {
		t.id = id
	}
}

func WithFullName(fullName string) Option {
	return func(t *Team) {
		t.fullName = fullName
	}
}

func WithAffiliations(a Affiliations) Option {
	return func(t *Team) {
		t.affiliations = a
	}
}

func New(name string, opts ...Option) *Team {
	t := &Team{
		name:         name,
		affiliations: NewAffiliations(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Team) ID() int64                  { return t.id }
func (t *Team) Name() string               { return t.name }
func (t *Team) FullName() string           { return t.fullName }
func (t *Team) Affiliations() Affiliations { return t.affiliations }

func (t *Team) Rename(name, fullName string) {
	t.name = name
	t.fullName = fullName
}

// SetID is called by the repository once the store assigns an id.
func (t *Team) SetID(id int64) { t.id = id }

// Clone copies the team including its affiliation map.
func (t *Team) Clone() *Team {
	return &Team{
		id:           t.id,
		name:         t.name,
		fullName:     t.fullName,
		affiliations: t.affiliations.Clone(),
	}
}
