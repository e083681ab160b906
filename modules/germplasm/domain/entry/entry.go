// Package entry holds the germplasm Entry entity: a crop, variety,
// accession or other named material in a pedigree.
package entry

import "github.com/cultivarhq/cultivar/modules/core/domain/access"

type Entry struct {
	id          int64
	name        string
	synonyms    []string
	description string
	redacted    bool
}

type Option func(*Entry)

func WithID(id int64) Option {
	return func(e *Entry) { e.id = id }
}

func WithSynonyms(synonyms ...string) Option {
	return func(e *Entry) { e.synonyms = append([]string(nil), synonyms...) }
}

func WithDescription(description string) Option {
	return func(e *Entry) { e.description = description }
}

func New(name string, opts ...Option) *Entry {
	e := &Entry{name: name}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Entry) ID() int64           { return e.id }
func (e *Entry) Label() access.Label { return access.LabelGermplasm }
func (e *Entry) Name() string        { return e.name }
func (e *Entry) Description() string { return e.description }
func (e *Entry) IsRedacted() bool    { return e.redacted }

func (e *Entry) Synonyms() []string {
	return append([]string(nil), e.synonyms...)
}

func (e *Entry) SetID(id int64) { e.id = id }

func (e *Entry) Update(name, description string, synonyms []string) {
	e.name = name
	e.description = description
	e.synonyms = append([]string(nil), synonyms...)
}

func (e *Entry) Clone() *Entry {
	cp := *e
	cp.synonyms = append([]string(nil), e.synonyms...)
	return &cp
}

func (e *Entry) Redact() *Entry {
	return &Entry{id: e.id, redacted: true}
}
