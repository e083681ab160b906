package graph

import (
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

// Tree is a Rooted graph where every non-root node has exactly one parent.
type Tree[T any] struct {
	Rooted[T]
}

func NewTree[T any]() *Tree[T] {
	return &Tree[T]{Rooted[T]{
		nodes: make(map[int64]T),
		out:   make(map[int64][]int64),
		in:    make(map[int64][]int64),
		edges: make(map[edgeKey]Attrs),
	}}
}

// AddEntry inserts model beneath a single parent. A nil sources map makes
// the entry the root of an empty tree.
func (t *Tree[T]) AddEntry(model T, sources map[int64]Attrs) (int64, error) {
	if sources != nil && len(sources) != 1 {
		return 0, serrors.IllegalOperation("tree entry requires exactly one source, got %d", len(sources))
	}
	return t.Rooted.AddEntry(model, sources)
}

// AddWithID inserts a persisted model beneath a single parent.
func (t *Tree[T]) AddWithID(id int64, model T, sources map[int64]Attrs) error {
	if sources != nil && len(sources) != 1 {
		return serrors.IllegalOperation("tree entry requires exactly one source, got %d", len(sources))
	}
	return t.Rooted.AddWithID(id, model, sources)
}

// Clone deep-copies the tree; models are copied through copyModel.
func (t *Tree[T]) Clone(copyModel func(T) T) *Tree[T] {
	return &Tree[T]{*t.Rooted.Clone(copyModel)}
}

// ParentID returns the parent of id; ok is false at the root.
func (t *Tree[T]) ParentID(id int64) (int64, bool) {
	parents := t.in[id]
	if len(parents) == 0 {
		return 0, false
	}
	return parents[0], true
}

// ChildrenIDs returns the children of id in link order.
func (t *Tree[T]) ChildrenIDs(id int64) []int64 {
	return t.Sinks(id)
}

// ChangeSource moves a node (and its subtree) beneath a new parent,
// keeping its edge payload. Moving a node under one of its own
// descendants is rejected.
func (t *Tree[T]) ChangeSource(id, newParent int64) error {
	if _, ok := t.nodes[id]; !ok {
		return serrors.NoResultFound("node %d not in graph", id)
	}
	if _, ok := t.nodes[newParent]; !ok {
		return serrors.IllegalOperation("unknown source node %d", newParent)
	}
	if id == t.root {
		return serrors.IllegalOperation("cannot change the source of the root")
	}
	if t.HasPath(id, newParent) {
		return serrors.IllegalOperation("moving %d under %d would create a cycle", id, newParent)
	}
	current, _ := t.ParentID(id)
	if current == newParent {
		return nil
	}
	attrs := t.edges[edgeKey{current, id}]
	if err := t.Unlink(current, id); err != nil {
		return err
	}
	t.link(newParent, id, attrs)
	return nil
}

// Severed detaches the subtree rooted at id into a standalone tree, edge
// payloads included. The node must not be the root.
func (t *Tree[T]) Severed(id int64) (*Tree[T], error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, serrors.NoResultFound("node %d not in graph", id)
	}
	if id == t.root {
		return nil, serrors.IllegalOperation("cannot sever the root from itself")
	}
	parent, _ := t.ParentID(id)
	if err := t.Unlink(parent, id); err != nil {
		return nil, err
	}

	sub := NewTree[T]()
	if err := sub.Rooted.AddWithID(id, t.nodes[id], nil); err != nil {
		return nil, err
	}
	for _, descendant := range t.Descendants(id) {
		p := t.in[descendant][0]
		attrs := t.edges[edgeKey{p, descendant}]
		if err := sub.Rooted.AddWithID(descendant, t.nodes[descendant], map[int64]Attrs{p: attrs}); err != nil {
			return nil, err
		}
	}
	for _, moved := range sub.IDs() {
		t.detach(moved)
	}
	return sub, nil
}
