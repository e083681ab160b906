// Package domain models pedigrees: rooted DAGs of germplasm entries
// where edges record how material was derived from its sources.
package domain

import (
	"strings"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/core/domain/aggregate"
	"github.com/cultivarhq/cultivar/modules/germplasm/domain/entry"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

// SourceType records how an entry derives from a source. Maternal and
// paternal sources make a cross explicit; unknown is the default when
// provenance was not recorded.
type SourceType string

const (
	Unknown  SourceType = "UNKNOWN"
	Seed     SourceType = "SEED"
	Tissue   SourceType = "TISSUE"
	Maternal SourceType = "MATERNAL"
	Paternal SourceType = "PATERNAL"
)

func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case Unknown, Seed, Tissue, Maternal, Paternal:
		return SourceType(s), nil
	}
	return "", serrors.IllegalOperation("unknown source type %q", s)
}

const (
	sourceTypeAttr = "type"
	sourceDescAttr = "description"
)

// Source is the payload on a pedigree edge.
type Source struct {
	Type        SourceType
	Description string
}

func (s Source) attrs() graph.Attrs {
	kind := s.Type
	if kind == "" {
		kind = Unknown
	}
	return graph.Attrs{sourceTypeAttr: string(kind), sourceDescAttr: s.Description}
}

func sourceFromAttrs(attrs graph.Attrs) Source {
	kind, _ := attrs[sourceTypeAttr].(string)
	description, _ := attrs[sourceDescAttr].(string)
	if kind == "" {
		kind = string(Unknown)
	}
	return Source{Type: SourceType(kind), Description: description}
}

// Pedigree is a rooted DAG of entries. The root is the founding material
// the collection grew from; derived entries may have several sources.
type Pedigree struct {
	dag *graph.Rooted[*entry.Entry]
	log *tracking.Changelog
}

func New(root *entry.Entry) (*Pedigree, error) {
	p := &Pedigree{
		dag: graph.NewRooted[*entry.Entry](),
		log: tracking.NewChangelog(),
	}
	id, err := p.dag.AddEntry(root, nil)
	if err != nil {
		return nil, err
	}
	root.SetID(id)
	p.log.MarkAdded(id)
	return p, nil
}

type HydrateNode struct {
	Entry *entry.Entry
}

type HydrateEdge struct {
	SourceID int64
	TargetID int64
	Source   Source
}

// Hydrate rebuilds a pedigree from stored rows; nodes arrive sources
// before targets so every edge lands on known material.
func Hydrate(nodes []HydrateNode, edges []HydrateEdge) (*Pedigree, error) {
	p := &Pedigree{
		dag: graph.NewRooted[*entry.Entry](),
		log: tracking.NewChangelog(),
	}
	byTarget := make(map[int64]map[int64]graph.Attrs)
	for _, e := range edges {
		if byTarget[e.TargetID] == nil {
			byTarget[e.TargetID] = make(map[int64]graph.Attrs)
		}
		byTarget[e.TargetID][e.SourceID] = e.Source.attrs()
	}
	// Rows may arrive in any order; insert in passes once every source is
	// present.
	pending := nodes
	for len(pending) > 0 {
		var next []HydrateNode
		for _, n := range pending {
			if !sourcesPresent(p.dag, byTarget[n.Entry.ID()]) {
				next = append(next, n)
				continue
			}
			if err := p.dag.AddWithID(n.Entry.ID(), n.Entry, byTarget[n.Entry.ID()]); err != nil {
				return nil, err
			}
			p.log.MarkPersisted(n.Entry.ID())
		}
		if len(next) == len(pending) {
			return nil, serrors.InconsistentState("pedigree rows reference sources outside the aggregate")
		}
		pending = next
	}
	return p, nil
}

func sourcesPresent(dag *graph.Rooted[*entry.Entry], sources map[int64]graph.Attrs) bool {
	for src := range sources {
		if _, ok := dag.GetEntry(src); !ok {
			return false
		}
	}
	return true
}

func (p *Pedigree) RootID() int64 { return p.dag.RootID() }

func (p *Pedigree) GetEntry(id int64) (*entry.Entry, bool) {
	return p.dag.GetEntry(id)
}

func (p *Pedigree) GetEntryByName(name string) (*entry.Entry, bool) {
	_, e, ok := p.dag.Find(func(e *entry.Entry) bool {
		return strings.EqualFold(e.Name(), name)
	})
	return e, ok
}

func (p *Pedigree) Entries() []*entry.Entry {
	out := make([]*entry.Entry, 0, p.dag.Len())
	for _, id := range p.dag.IDs() {
		e, _ := p.dag.GetEntry(id)
		out = append(out, e)
	}
	return out
}

func (p *Pedigree) Changelog() *tracking.Changelog { return p.log }

// Sources returns the materials id derives from, with edge payloads.
func (p *Pedigree) Sources(id int64) map[int64]Source {
	out := make(map[int64]Source)
	for _, src := range p.dag.Sources(id) {
		attrs, _ := p.dag.EdgeAttrs(src, id)
		out[src] = sourceFromAttrs(attrs)
	}
	return out
}

// Derived returns the materials derived from id.
func (p *Pedigree) Derived(id int64) []int64 { return p.dag.Sinks(id) }

// Ancestry returns every entry id derives from, nearest first.
func (p *Pedigree) Ancestry(id int64) []int64 { return p.dag.Ancestors(id) }

// AddEntry inserts new material derived from one or more sources.
func (p *Pedigree) AddEntry(e *entry.Entry, sources map[int64]Source) (int64, error) {
	if len(sources) == 0 {
		return 0, serrors.IllegalOperation("entry %q requires at least one source", e.Name())
	}
	attrs := make(map[int64]graph.Attrs, len(sources))
	for src, s := range sources {
		attrs[src] = s.attrs()
	}
	id, err := p.dag.AddEntry(e, attrs)
	if err != nil {
		return 0, err
	}
	e.SetID(id)
	p.log.MarkAdded(id)
	for src := range sources {
		p.log.MarkEdgeAdded(src, id)
	}
	return id, nil
}

// InsertRoot places founding material above the current root, recording
// how the old root derived from it.
func (p *Pedigree) InsertRoot(e *entry.Entry, source Source) (int64, error) {
	oldRoot := p.dag.RootID()
	id, err := p.dag.InsertRoot(e, source.attrs())
	if err != nil {
		return 0, err
	}
	e.SetID(id)
	p.log.MarkAdded(id)
	if oldRoot != 0 {
		p.log.MarkEdgeAdded(id, oldRoot)
	}
	return id, nil
}

// AddSource records that target also derives from source. Derivations
// that would close a cycle are rejected.
func (p *Pedigree) AddSource(sourceID, targetID int64, source Source) error {
	if err := p.dag.Link(sourceID, targetID, source.attrs()); err != nil {
		return err
	}
	p.log.MarkEdgeAdded(sourceID, targetID)
	return nil
}

// UpdateSource replaces the payload of an existing derivation.
func (p *Pedigree) UpdateSource(sourceID, targetID int64, source Source) error {
	if err := p.dag.SetEdgeAttrs(sourceID, targetID, source.attrs()); err != nil {
		return err
	}
	p.log.MarkEdgeChanged(sourceID, targetID)
	return nil
}

// RemoveSource drops a derivation, unless it is the target's last.
func (p *Pedigree) RemoveSource(sourceID, targetID int64) error {
	if len(p.dag.Sources(targetID)) == 1 && targetID != p.dag.RootID() {
		return serrors.IllegalOperation("entry %d would be left without a source", targetID)
	}
	if err := p.dag.Unlink(sourceID, targetID); err != nil {
		return err
	}
	p.log.MarkEdgeRemoved(sourceID, targetID)
	return nil
}

func (p *Pedigree) UpdateEntry(id int64, name, description string, synonyms []string) error {
	e, ok := p.dag.GetEntry(id)
	if !ok {
		return serrors.NoResultFound("entry %d not in pedigree", id)
	}
	e.Update(name, description, synonyms)
	p.log.MarkChanged(id, "name", "description", "synonyms")
	return nil
}

// RemoveEntry drops material, reconnecting derived entries to its
// sources so their ancestry stays reachable.
func (p *Pedigree) RemoveEntry(id int64) error {
	if id == p.dag.RootID() && p.dag.Len() > 1 {
		return serrors.IllegalOperation("cannot remove founding material while derived entries remain")
	}
	sources := p.dag.Sources(id)
	derived := p.dag.Sinks(id)
	if err := p.dag.RemoveAndReconnect(id); err != nil {
		return err
	}
	p.log.MarkRemoved(id)
	for _, src := range sources {
		p.log.MarkEdgeRemoved(src, id)
	}
	for _, d := range derived {
		p.log.MarkEdgeRemoved(id, d)
		for _, src := range sources {
			p.log.MarkEdgeAdded(src, d)
		}
	}
	return nil
}

func (p *Pedigree) Rekey(oldID, newID int64) error {
	if e, ok := p.dag.GetEntry(oldID); ok {
		e.SetID(newID)
	}
	if err := p.dag.Rekey(oldID, newID); err != nil {
		return err
	}
	p.log.Rekey(oldID, newID)
	return nil
}

func (p *Pedigree) Edges() []HydrateEdge {
	edges := p.dag.Edges()
	out := make([]HydrateEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, HydrateEdge{SourceID: e.Source, TargetID: e.Target, Source: sourceFromAttrs(e.Attrs)})
	}
	return out
}

func (p *Pedigree) ControlledModels() []access.ControlledModel {
	out := make([]access.ControlledModel, 0, p.dag.Len())
	for _, id := range p.dag.IDs() {
		e, _ := p.dag.GetEntry(id)
		out = append(out, e)
	}
	return out
}

func (p *Pedigree) ModelKey(id int64) (access.Key, bool) {
	if _, ok := p.dag.GetEntry(id); !ok {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelGermplasm, ID: id}, true
}

// Redacted hides entries the viewer may not read. Hidden interior
// material is removed with derived entries reconnected to its sources; a
// hidden root that anchors several lines survives as a placeholder.
func (p *Pedigree) Redacted(controllers access.ControllerMap, userID int64, readTeams []int64) (access.ControlledAggregate, bool) {
	dag, ok := aggregate.RedactRooted(
		p.dag,
		func(e *entry.Entry) *entry.Entry { return e.Clone() },
		func(e *entry.Entry) *entry.Entry { return e.Redact() },
		controllers, userID, readTeams,
	)
	if !ok {
		return nil, false
	}
	return &Pedigree{dag: dag, log: tracking.NewChangelog()}, true
}

func (p *Pedigree) Protected() string { return "" }
