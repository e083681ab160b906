// Package graph provides the rooted-DAG and rooted-tree structures that
// back every aggregate in the engine. Nodes hold a domain model and are
// keyed by id; edges carry an attribute bag (payloads such as a layout
// position or a pedigree source type). Unsaved nodes are assigned negative
// temporary ids which the repository reconciles against store-assigned ids
// on commit.
package graph

import (
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

// Attrs is the payload bag carried by an edge.
type Attrs map[string]any

func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

type edgeKey struct{ src, dst int64 }

// Rooted is a directed acyclic graph with a single root.
type Rooted[T any] struct {
	root     int64
	hasRoot  bool
	nodes    map[int64]T
	order    []int64
	out      map[int64][]int64
	in       map[int64][]int64
	edges    map[edgeKey]Attrs
	nextTemp int64
}

func NewRooted[T any]() *Rooted[T] {
	return &Rooted[T]{
		nodes: make(map[int64]T),
		out:   make(map[int64][]int64),
		in:    make(map[int64][]int64),
		edges: make(map[edgeKey]Attrs),
	}
}

// Len returns the number of nodes.
func (g *Rooted[T]) Len() int { return len(g.nodes) }

// Root returns the root id and model. The second value is false for an
// empty graph.
func (g *Rooted[T]) Root() (int64, T, bool) {
	if !g.hasRoot {
		var zero T
		return 0, zero, false
	}
	return g.root, g.nodes[g.root], true
}

// RootID returns the root id, or 0 for an empty graph.
func (g *Rooted[T]) RootID() int64 {
	if !g.hasRoot {
		return 0
	}
	return g.root
}

// GetEntry returns the model stored under id.
func (g *Rooted[T]) GetEntry(id int64) (T, bool) {
	m, ok := g.nodes[id]
	return m, ok
}

// Find returns the first node, in insertion order, matching pred.
func (g *Rooted[T]) Find(pred func(T) bool) (int64, T, bool) {
	for _, id := range g.order {
		if m, ok := g.nodes[id]; ok && pred(m) {
			return id, m, true
		}
	}
	var zero T
	return 0, zero, false
}

// IDs returns node ids in insertion order.
func (g *Rooted[T]) IDs() []int64 {
	out := make([]int64, 0, len(g.nodes))
	for _, id := range g.order {
		if _, ok := g.nodes[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Replace swaps the model stored under id, keeping the structure intact.
func (g *Rooted[T]) Replace(id int64, model T) error {
	if _, ok := g.nodes[id]; !ok {
		return serrors.NoResultFound("node %d not in graph", id)
	}
	g.nodes[id] = model
	return nil
}

// AddEntry inserts model under a fresh temporary id. A nil sources map
// makes the entry the root, which is only legal on an empty graph; use
// InsertRoot to place a new root above an existing one.
func (g *Rooted[T]) AddEntry(model T, sources map[int64]Attrs) (int64, error) {
	if sources == nil {
		if g.hasRoot {
			return 0, serrors.IllegalOperation("graph already has a root")
		}
		g.nextTemp--
		id := g.nextTemp
		g.insert(id, model)
		g.root = id
		g.hasRoot = true
		return id, nil
	}
	if len(sources) == 0 {
		return 0, serrors.IllegalOperation("entry requires at least one source")
	}
	for src := range sources {
		if _, ok := g.nodes[src]; !ok {
			return 0, serrors.IllegalOperation("unknown source node %d", src)
		}
	}
	g.nextTemp--
	id := g.nextTemp
	g.insert(id, model)
	for src, attrs := range sources {
		g.link(src, id, attrs.Clone())
	}
	return id, nil
}

// AddWithID inserts a persisted model under its store-assigned id.
// Used by repositories when rehydrating an aggregate.
func (g *Rooted[T]) AddWithID(id int64, model T, sources map[int64]Attrs) error {
	if _, ok := g.nodes[id]; ok {
		return serrors.IdentityExists("node %d already in graph", id)
	}
	if sources == nil {
		if g.hasRoot {
			return serrors.IllegalOperation("graph already has a root")
		}
		g.insert(id, model)
		g.root = id
		g.hasRoot = true
		return nil
	}
	for src := range sources {
		if _, ok := g.nodes[src]; !ok {
			return serrors.IllegalOperation("unknown source node %d", src)
		}
	}
	g.insert(id, model)
	for src, attrs := range sources {
		g.link(src, id, attrs.Clone())
	}
	return nil
}

// InsertRoot places model above the current root; the old root becomes its
// only child. On an empty graph it simply becomes the root.
func (g *Rooted[T]) InsertRoot(model T, edge Attrs) (int64, error) {
	if !g.hasRoot {
		return g.AddEntry(model, nil)
	}
	g.nextTemp--
	id := g.nextTemp
	g.insert(id, model)
	g.link(id, g.root, edge.Clone())
	g.root = id
	return id, nil
}

// Rekey reassigns a node's id in place, typically from a temporary id to a
// store-assigned one. Edges and ordering follow the node.
func (g *Rooted[T]) Rekey(oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	model, ok := g.nodes[oldID]
	if !ok {
		return serrors.NoResultFound("node %d not in graph", oldID)
	}
	if _, ok := g.nodes[newID]; ok {
		return serrors.IdentityExists("node %d already in graph", newID)
	}
	g.nodes[newID] = model
	delete(g.nodes, oldID)
	for i, id := range g.order {
		if id == oldID {
			g.order[i] = newID
		}
	}
	g.out[newID] = g.out[oldID]
	delete(g.out, oldID)
	g.in[newID] = g.in[oldID]
	delete(g.in, oldID)
	for key, attrs := range g.edges {
		if key.src != oldID && key.dst != oldID {
			continue
		}
		delete(g.edges, key)
		if key.src == oldID {
			key.src = newID
		}
		if key.dst == oldID {
			key.dst = newID
		}
		g.edges[key] = attrs
	}
	for id, targets := range g.out {
		for i, t := range targets {
			if t == oldID {
				g.out[id][i] = newID
			}
		}
	}
	for id, sources := range g.in {
		for i, s := range sources {
			if s == oldID {
				g.in[id][i] = newID
			}
		}
	}
	if g.root == oldID {
		g.root = newID
	}
	return nil
}

// Sources returns the parent ids of id in link order.
func (g *Rooted[T]) Sources(id int64) []int64 {
	return append([]int64(nil), g.in[id]...)
}

// Sinks returns the child ids of id in link order.
func (g *Rooted[T]) Sinks(id int64) []int64 {
	return append([]int64(nil), g.out[id]...)
}

// EdgeAttrs returns the payload on the src→dst edge.
func (g *Rooted[T]) EdgeAttrs(src, dst int64) (Attrs, bool) {
	attrs, ok := g.edges[edgeKey{src, dst}]
	return attrs, ok
}

// SetEdgeAttrs replaces the payload on an existing edge.
func (g *Rooted[T]) SetEdgeAttrs(src, dst int64, attrs Attrs) error {
	key := edgeKey{src, dst}
	if _, ok := g.edges[key]; !ok {
		return serrors.NoResultFound("edge %d->%d not in graph", src, dst)
	}
	g.edges[key] = attrs.Clone()
	return nil
}

// Edges returns every edge in deterministic (source insertion) order.
func (g *Rooted[T]) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, src := range g.order {
		for _, dst := range g.out[src] {
			out = append(out, Edge{Source: src, Target: dst, Attrs: g.edges[edgeKey{src, dst}]})
		}
	}
	return out
}

// Edge is a materialised view of a stored edge.
type Edge struct {
	Source int64
	Target int64
	Attrs  Attrs
}

// Ancestors returns every node reachable walking edges backwards from id,
// nearest first.
func (g *Rooted[T]) Ancestors(id int64) []int64 {
	return g.walk(id, g.in)
}

// Descendants returns every node reachable from id, nearest first.
func (g *Rooted[T]) Descendants(id int64) []int64 {
	return g.walk(id, g.out)
}

func (g *Rooted[T]) walk(id int64, adj map[int64][]int64) []int64 {
	var out []int64
	seen := map[int64]bool{id: true}
	queue := append([]int64(nil), adj[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, adj[next]...)
	}
	return out
}

// HasPath reports whether dst is reachable from src.
func (g *Rooted[T]) HasPath(src, dst int64) bool {
	if src == dst {
		return true
	}
	for _, d := range g.walk(src, g.out) {
		if d == dst {
			return true
		}
	}
	return false
}

// Link adds an edge between two existing nodes, rejecting anything that
// would close a cycle.
func (g *Rooted[T]) Link(src, dst int64, attrs Attrs) error {
	if _, ok := g.nodes[src]; !ok {
		return serrors.IllegalOperation("unknown source node %d", src)
	}
	if _, ok := g.nodes[dst]; !ok {
		return serrors.IllegalOperation("unknown target node %d", dst)
	}
	if _, ok := g.edges[edgeKey{src, dst}]; ok {
		return serrors.IdentityExists("edge %d->%d already in graph", src, dst)
	}
	if g.HasPath(dst, src) {
		return serrors.IllegalOperation("edge %d->%d would create a cycle", src, dst)
	}
	g.link(src, dst, attrs.Clone())
	return nil
}

// Unlink removes the src→dst edge.
func (g *Rooted[T]) Unlink(src, dst int64) error {
	key := edgeKey{src, dst}
	if _, ok := g.edges[key]; !ok {
		return serrors.NoResultFound("edge %d->%d not in graph", src, dst)
	}
	delete(g.edges, key)
	g.out[src] = remove(g.out[src], dst)
	g.in[dst] = remove(g.in[dst], src)
	return nil
}

// Remove deletes a node and every edge touching it. The root may only be
// removed once it is the last node standing.
func (g *Rooted[T]) Remove(id int64) error {
	if _, ok := g.nodes[id]; !ok {
		return serrors.NoResultFound("node %d not in graph", id)
	}
	if id == g.root && len(g.nodes) > 1 {
		return serrors.IllegalOperation("cannot remove root while other nodes remain")
	}
	g.detach(id)
	if id == g.root {
		g.hasRoot = false
		g.root = 0
	}
	return nil
}

// RemoveAndReconnect deletes a node and re-attaches each of its children
// to each of its parents. The new edge inherits the attributes the child
// carried on its edge from the removed node, preserving payload shape
// across redaction.
func (g *Rooted[T]) RemoveAndReconnect(id int64) error {
	if _, ok := g.nodes[id]; !ok {
		return serrors.NoResultFound("node %d not in graph", id)
	}
	// Rejected removals leave the graph untouched; callers recover from
	// the multi-subtree case by substituting a placeholder in place.
	if id == g.root && len(g.out[id]) > 1 {
		return serrors.InconsistentState("removing root %d leaves %d disconnected subtrees", id, len(g.out[id]))
	}
	parents := append([]int64(nil), g.in[id]...)
	children := append([]int64(nil), g.out[id]...)
	childAttrs := make(map[int64]Attrs, len(children))
	for _, child := range children {
		childAttrs[child] = g.edges[edgeKey{id, child}].Clone()
	}
	g.detach(id)
	if id == g.root {
		if len(children) == 0 {
			g.hasRoot = false
			g.root = 0
		} else {
			g.root = children[0]
		}
		return nil
	}
	for _, child := range children {
		for _, parent := range parents {
			key := edgeKey{parent, child}
			if _, ok := g.edges[key]; ok {
				continue
			}
			g.link(parent, child, childAttrs[child].Clone())
		}
	}
	return nil
}

// Merge grafts another graph beneath the given parent nodes, preserving
// the other graph's ids. Every parent must already exist here and no id
// may collide.
func (g *Rooted[T]) Merge(other *Rooted[T], parents map[int64]Attrs) error {
	if other == nil || !other.hasRoot {
		return serrors.IllegalOperation("cannot merge an empty graph")
	}
	if len(parents) == 0 {
		return serrors.IllegalOperation("merge requires at least one parent")
	}
	for parent := range parents {
		if _, ok := g.nodes[parent]; !ok {
			return serrors.IllegalOperation("unknown merge parent %d", parent)
		}
	}
	for _, id := range other.order {
		if _, ok := g.nodes[id]; ok {
			return serrors.IdentityExists("node %d already in graph", id)
		}
	}
	for _, id := range other.order {
		g.insert(id, other.nodes[id])
	}
	for key, attrs := range other.edges {
		g.link(key.src, key.dst, attrs.Clone())
	}
	for parent, attrs := range parents {
		g.link(parent, other.root, attrs.Clone())
	}
	return nil
}

// Clone deep-copies the structure; models are copied through copyModel.
func (g *Rooted[T]) Clone(copyModel func(T) T) *Rooted[T] {
	out := NewRooted[T]()
	out.root = g.root
	out.hasRoot = g.hasRoot
	out.nextTemp = g.nextTemp
	for _, id := range g.order {
		out.insert(id, copyModel(g.nodes[id]))
	}
	for _, src := range g.order {
		for _, dst := range g.out[src] {
			out.link(src, dst, g.edges[edgeKey{src, dst}].Clone())
		}
	}
	return out
}

func (g *Rooted[T]) insert(id int64, model T) {
	g.nodes[id] = model
	g.order = append(g.order, id)
}

func (g *Rooted[T]) link(src, dst int64, attrs Attrs) {
	g.edges[edgeKey{src, dst}] = attrs
	g.out[src] = append(g.out[src], dst)
	g.in[dst] = append(g.in[dst], src)
}

func (g *Rooted[T]) detach(id int64) {
	for _, parent := range g.in[id] {
		delete(g.edges, edgeKey{parent, id})
		g.out[parent] = remove(g.out[parent], id)
	}
	for _, child := range g.out[id] {
		delete(g.edges, edgeKey{id, child})
		g.in[child] = remove(g.in[child], id)
	}
	delete(g.in, id)
	delete(g.out, id)
	delete(g.nodes, id)
	for i, ordered := range g.order {
		if ordered == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

func remove(s []int64, v int64) []int64 {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
