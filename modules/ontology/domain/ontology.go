// Package domain models the term hierarchy: a rooted DAG of terms
// where edges mean "specialises". Datasets and unit subjects reference
// terms by id.
package domain

import (
	"fmt"
	"strings"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/core/domain/aggregate"
	"github.com/cultivarhq/cultivar/modules/ontology/domain/term"
	"github.com/cultivarhq/cultivar/pkg/graph"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

type Ontology struct {
	dag *graph.Rooted[*term.Term]
	log *tracking.Changelog

	// datasets and units referencing any term here, set on load.
	refs int
}

func New(root *term.Term) (*Ontology, error) {
	o := &Ontology{
		dag: graph.NewRooted[*term.Term](),
		log: tracking.NewChangelog(),
	}
	id, err := o.dag.AddEntry(root, nil)
	if err != nil {
		return nil, err
	}
	root.SetID(id)
	o.log.MarkAdded(id)
	return o, nil
}

type HydrateNode struct {
	Term *term.Term
}

type HydrateEdge struct {
	BroaderID  int64
	NarrowerID int64
}

func Hydrate(nodes []HydrateNode, edges []HydrateEdge, refs int) (*Ontology, error) {
	o := &Ontology{
		dag:  graph.NewRooted[*term.Term](),
		log:  tracking.NewChangelog(),
		refs: refs,
	}
	byNarrower := make(map[int64]map[int64]graph.Attrs)
	for _, e := range edges {
		if byNarrower[e.NarrowerID] == nil {
			byNarrower[e.NarrowerID] = make(map[int64]graph.Attrs)
		}
		byNarrower[e.NarrowerID][e.BroaderID] = nil
	}
	// Rows may arrive in any order; insert in passes once every broader
	// term is present.
	pending := nodes
	for len(pending) > 0 {
		var next []HydrateNode
		for _, n := range pending {
			if !broaderPresent(o.dag, byNarrower[n.Term.ID()]) {
				next = append(next, n)
				continue
			}
			if err := o.dag.AddWithID(n.Term.ID(), n.Term, byNarrower[n.Term.ID()]); err != nil {
				return nil, err
			}
			o.log.MarkPersisted(n.Term.ID())
		}
		if len(next) == len(pending) {
			return nil, serrors.InconsistentState("ontology rows reference terms outside the aggregate")
		}
		pending = next
	}
	return o, nil
}

func broaderPresent(dag *graph.Rooted[*term.Term], sources map[int64]graph.Attrs) bool {
	for src := range sources {
		if _, ok := dag.GetEntry(src); !ok {
			return false
		}
	}
	return true
}

func (o *Ontology) RootID() int64 { return o.dag.RootID() }

func (o *Ontology) GetTerm(id int64) (*term.Term, bool) {
	return o.dag.GetEntry(id)
}

func (o *Ontology) GetTermByName(name string) (*term.Term, bool) {
	_, t, ok := o.dag.Find(func(t *term.Term) bool {
		return strings.EqualFold(t.Name(), name)
	})
	return t, ok
}

func (o *Ontology) Terms() []*term.Term {
	out := make([]*term.Term, 0, o.dag.Len())
	for _, id := range o.dag.IDs() {
		t, _ := o.dag.GetEntry(id)
		out = append(out, t)
	}
	return out
}

func (o *Ontology) Changelog() *tracking.Changelog { return o.log }

func (o *Ontology) Broader(id int64) []int64  { return o.dag.Sources(id) }
func (o *Ontology) Narrower(id int64) []int64 { return o.dag.Sinks(id) }

// AddTerm inserts a term specialising one or more broader terms. Names
// are unique within an ontology.
func (o *Ontology) AddTerm(t *term.Term, broaderIDs []int64) (int64, error) {
	if len(broaderIDs) == 0 {
		return 0, serrors.IllegalOperation("term %q requires at least one broader term", t.Name())
	}
	if _, ok := o.GetTermByName(t.Name()); ok {
		return 0, serrors.IdentityExists("term %q already in ontology", t.Name())
	}
	sources := make(map[int64]graph.Attrs, len(broaderIDs))
	for _, b := range broaderIDs {
		sources[b] = nil
	}
	id, err := o.dag.AddEntry(t, sources)
	if err != nil {
		return 0, err
	}
	t.SetID(id)
	o.log.MarkAdded(id)
	for _, b := range broaderIDs {
		o.log.MarkEdgeAdded(b, id)
	}
	return id, nil
}

// Relate records that narrower specialises broader; cycles are rejected.
func (o *Ontology) Relate(broaderID, narrowerID int64) error {
	if err := o.dag.Link(broaderID, narrowerID, nil); err != nil {
		return err
	}
	o.log.MarkEdgeAdded(broaderID, narrowerID)
	return nil
}

func (o *Ontology) UpdateTerm(id int64, name, description string, synonyms []string) error {
	t, ok := o.dag.GetEntry(id)
	if !ok {
		return serrors.NoResultFound("term %d not in ontology", id)
	}
	if existing, found := o.GetTermByName(name); found && existing.ID() != id {
		return serrors.IdentityExists("term %q already in ontology", name)
	}
	t.Update(name, description, synonyms)
	o.log.MarkChanged(id, "name", "description", "synonyms")
	return nil
}

// RemoveTerm drops a term, reconnecting narrower terms to its broader
// terms.
func (o *Ontology) RemoveTerm(id int64) error {
	if id == o.dag.RootID() && o.dag.Len() > 1 {
		return serrors.IllegalOperation("cannot remove the root term while others remain")
	}
	broader := o.dag.Sources(id)
	narrower := o.dag.Sinks(id)
	if err := o.dag.RemoveAndReconnect(id); err != nil {
		return err
	}
	o.log.MarkRemoved(id)
	for _, b := range broader {
		o.log.MarkEdgeRemoved(b, id)
	}
	for _, n := range narrower {
		o.log.MarkEdgeRemoved(id, n)
		for _, b := range broader {
			o.log.MarkEdgeAdded(b, n)
		}
	}
	return nil
}

func (o *Ontology) Rekey(oldID, newID int64) error {
	if t, ok := o.dag.GetEntry(oldID); ok {
		t.SetID(newID)
	}
	if err := o.dag.Rekey(oldID, newID); err != nil {
		return err
	}
	o.log.Rekey(oldID, newID)
	return nil
}

func (o *Ontology) Edges() []HydrateEdge {
	edges := o.dag.Edges()
	out := make([]HydrateEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, HydrateEdge{BroaderID: e.Source, NarrowerID: e.Target})
	}
	return out
}

func (o *Ontology) ControlledModels() []access.ControlledModel {
	out := make([]access.ControlledModel, 0, o.dag.Len())
	for _, id := range o.dag.IDs() {
		t, _ := o.dag.GetEntry(id)
		out = append(out, t)
	}
	return out
}

func (o *Ontology) ModelKey(id int64) (access.Key, bool) {
	if _, ok := o.dag.GetEntry(id); !ok {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelTerm, ID: id}, true
}

func (o *Ontology) Redacted(controllers access.ControllerMap, userID int64, readTeams []int64) (access.ControlledAggregate, bool) {
	dag, ok := aggregate.RedactRooted(
		o.dag,
		func(t *term.Term) *term.Term { return t.Clone() },
		func(t *term.Term) *term.Term { return t.Redact() },
		controllers, userID, readTeams,
	)
	if !ok {
		return nil, false
	}
	return &Ontology{dag: dag, log: tracking.NewChangelog(), refs: o.refs}, true
}

func (o *Ontology) Protected() string {
	if o.refs > 0 {
		return fmt.Sprintf("ontology terms are referenced by %d datasets or units", o.refs)
	}
	return ""
}
