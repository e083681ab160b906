// Package tracking records the diffs that drive the controlled repository
// commit path. Aggregates call the Mark* methods from their mutators; the
// repository drains the changelog at flush time and resets it.
package tracking

import "sort"

// Status is the lifecycle of a tracked node:
// CREATED → PERSISTED → DIRTY → (PERSISTED | REMOVED).
type Status int

const (
	Created Status = iota
	Persisted
	Dirty
	Removed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Persisted:
		return "PERSISTED"
	case Dirty:
		return "DIRTY"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

type nodeChange struct {
	status Status
	fields map[string]bool
}

type edgeKey struct{ src, dst int64 }

type edgeChange int

const (
	edgeAdded edgeChange = iota
	edgeRemoved
	edgeChanged
)

// EdgeDiff is a drained edge change.
type EdgeDiff struct {
	Source int64
	Target int64
}

// Changelog accumulates node and edge level diffs for one aggregate.
type Changelog struct {
	nodes  map[int64]*nodeChange
	edges  map[edgeKey]edgeChange
	rekeys map[int64]int64
}

func NewChangelog() *Changelog {
	return &Changelog{
		nodes:  make(map[int64]*nodeChange),
		edges:  make(map[edgeKey]edgeChange),
		rekeys: make(map[int64]int64),
	}
}

// MarkPersisted registers a node freshly loaded from the store.
func (c *Changelog) MarkPersisted(id int64) {
	c.nodes[id] = &nodeChange{status: Persisted}
}

// MarkAdded registers a node created in this unit of work.
func (c *Changelog) MarkAdded(id int64) {
	c.nodes[id] = &nodeChange{status: Created}
}

// MarkChanged dirties a persisted node, recording which fields changed.
// Nodes created in this unit of work stay CREATED; the create already
// captures every field.
func (c *Changelog) MarkChanged(id int64, fields ...string) {
	n, ok := c.nodes[id]
	if !ok {
		n = &nodeChange{status: Persisted}
		c.nodes[id] = n
	}
	if n.status == Created || n.status == Removed {
		return
	}
	n.status = Dirty
	if n.fields == nil {
		n.fields = make(map[string]bool)
	}
	for _, f := range fields {
		n.fields[f] = true
	}
}

// MarkRemoved registers a node for deletion. A node that was never
// persisted is dropped from the log entirely.
func (c *Changelog) MarkRemoved(id int64) {
	n, ok := c.nodes[id]
	if !ok {
		c.nodes[id] = &nodeChange{status: Removed}
		return
	}
	if n.status == Created {
		delete(c.nodes, id)
		return
	}
	n.status = Removed
	n.fields = nil
}

func (c *Changelog) MarkEdgeAdded(src, dst int64) {
	key := edgeKey{src, dst}
	if prior, ok := c.edges[key]; ok && prior == edgeRemoved {
		c.edges[key] = edgeChanged
		return
	}
	c.edges[key] = edgeAdded
}

func (c *Changelog) MarkEdgeRemoved(src, dst int64) {
	key := edgeKey{src, dst}
	if prior, ok := c.edges[key]; ok && prior == edgeAdded {
		delete(c.edges, key)
		return
	}
	c.edges[key] = edgeRemoved
}

func (c *Changelog) MarkEdgeChanged(src, dst int64) {
	key := edgeKey{src, dst}
	if _, ok := c.edges[key]; ok {
		return
	}
	c.edges[key] = edgeChanged
}

// Status reports the tracked status of a node.
func (c *Changelog) Status(id int64) (Status, bool) {
	n, ok := c.nodes[id]
	if !ok {
		return 0, false
	}
	return n.status, true
}

// Added returns ids created in this unit of work, ascending.
func (c *Changelog) Added() []int64 {
	return c.byStatus(Created)
}

// Changed returns dirty ids with their changed field sets.
func (c *Changelog) Changed() map[int64][]string {
	out := make(map[int64][]string)
	for id, n := range c.nodes {
		if n.status != Dirty {
			continue
		}
		fields := make([]string, 0, len(n.fields))
		for f := range n.fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		out[id] = fields
	}
	return out
}

// Removed returns ids marked for deletion, ascending.
func (c *Changelog) Removed() []int64 {
	return c.byStatus(Removed)
}

// AddedEdges returns edges added since the last flush.
func (c *Changelog) AddedEdges() []EdgeDiff {
	return c.edgesBy(edgeAdded)
}

// RemovedEdges returns edges removed since the last flush.
func (c *Changelog) RemovedEdges() []EdgeDiff {
	return c.edgesBy(edgeRemoved)
}

// ChangedEdges returns edges whose payload changed since the last flush.
func (c *Changelog) ChangedEdges() []EdgeDiff {
	return c.edgesBy(edgeChanged)
}

// Rekeyed resolves an id through every rekey applied so far, returning
// the id unchanged when it was never rekeyed.
func (c *Changelog) Rekeyed(id int64) int64 {
	if newID, ok := c.rekeys[id]; ok {
		return newID
	}
	return id
}

// Dirty reports whether anything needs flushing.
func (c *Changelog) Dirty() bool {
	for _, n := range c.nodes {
		if n.status != Persisted {
			return true
		}
	}
	return len(c.edges) > 0
}

// Rekey moves a tracked node from a temporary id to its store-assigned
// id. The mapping is remembered so callers holding a temporary id can
// resolve it after the flush.
func (c *Changelog) Rekey(oldID, newID int64) {
	for from, to := range c.rekeys {
		if to == oldID {
			c.rekeys[from] = newID
		}
	}
	c.rekeys[oldID] = newID
	if n, ok := c.nodes[oldID]; ok {
		delete(c.nodes, oldID)
		c.nodes[newID] = n
	}
	for key, change := range c.edges {
		if key.src != oldID && key.dst != oldID {
			continue
		}
		delete(c.edges, key)
		if key.src == oldID {
			key.src = newID
		}
		if key.dst == oldID {
			key.dst = newID
		}
		c.edges[key] = change
	}
}

// Reset settles the log after a flush: created and dirty nodes become
// persisted, removed nodes and all edge diffs are dropped.
func (c *Changelog) Reset() {
	for id, n := range c.nodes {
		switch n.status {
		case Removed:
			delete(c.nodes, id)
		default:
			n.status = Persisted
			n.fields = nil
		}
	}
	c.edges = make(map[edgeKey]edgeChange)
}

func (c *Changelog) byStatus(s Status) []int64 {
	var out []int64
	for id, n := range c.nodes {
		if n.status == s {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Changelog) edgesBy(change edgeChange) []EdgeDiff {
	var out []EdgeDiff
	for key, ch := range c.edges {
		if ch == change {
			out = append(out, EdgeDiff{Source: key.src, Target: key.dst})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}
