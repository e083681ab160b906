// Package term holds the ontology Term entity: a named concept datasets
// and unit subjects point at.
package term

import "github.com/cultivarhq/cultivar/modules/core/domain/access"

type Term struct {
	id          int64
	name        string
	synonyms    []string
	description string
	redacted    bool
}

type Option func(*Term)

func WithID(id int64) Option {
	return func(t *Term) { t.id = id }
}

func WithSynonyms(synonyms ...string) Option {
	return func(t *Term) { t.synonyms = append([]string(nil), synonyms...) }
}

func WithDescription(description string) Option {
	return func(t *Term) { t.description = description }
}

func New(name string, opts ...Option) *Term {
	t := &Term{name: name}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Term) ID() int64           { return t.id }
func (t *Term) Label() access.Label { return access.LabelTerm }
func (t *Term) Name() string        { return t.name }
func (t *Term) Description() string { return t.description }
func (t *Term) IsRedacted() bool    { return t.redacted }

func (t *Term) Synonyms() []string {
	return append([]string(nil), t.synonyms...)
}

func (t *Term) SetID(id int64) { t.id = id }

func (t *Term) Update(name, description string, synonyms []string) {
	t.name = name
	t.description = description
	t.synonyms = append([]string(nil), synonyms...)
}

func (t *Term) Clone() *Term {
	cp := *t
	cp.synonyms = append([]string(nil), t.synonyms...)
	return &cp
}

func (t *Term) Redact() *Term {
	return &Term{id: t.id, redacted: true}
}
