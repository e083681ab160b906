package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/pkg/serrors"
)

func TestRootedAddEntry(t *testing.T) {
	t.Run("first entry becomes the root", func(t *testing.T) {
		g := NewRooted[string]()
		id, err := g.AddEntry("root", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(-1), id)
		rootID, model, ok := g.Root()
		require.True(t, ok)
		assert.Equal(t, id, rootID)
		assert.Equal(t, "root", model)
	})

	t.Run("second root is rejected", func(t *testing.T) {
		g := NewRooted[string]()
		_, err := g.AddEntry("root", nil)
		require.NoError(t, err)
		_, err = g.AddEntry("pretender", nil)
		assert.True(t, serrors.IsIllegalOperation(err))
	})

	t.Run("entry requires known sources", func(t *testing.T) {
		g := NewRooted[string]()
		_, err := g.AddEntry("root", nil)
		require.NoError(t, err)
		_, err = g.AddEntry("child", map[int64]Attrs{42: nil})
		assert.True(t, serrors.IsIllegalOperation(err))
		_, err = g.AddEntry("child", map[int64]Attrs{})
		assert.True(t, serrors.IsIllegalOperation(err))
	})

	t.Run("temporary ids descend", func(t *testing.T) {
		g := NewRooted[string]()
		root, err := g.AddEntry("root", nil)
		require.NoError(t, err)
		child, err := g.AddEntry("child", map[int64]Attrs{root: nil})
		require.NoError(t, err)
		assert.Equal(t, int64(-2), child)
	})
}

func TestRootedLinkRejectsCycles(t *testing.T) {
	g := NewRooted[string]()
	a, _ := g.AddEntry("a", nil)
	b, _ := g.AddEntry("b", map[int64]Attrs{a: nil})
	c, _ := g.AddEntry("c", map[int64]Attrs{b: nil})

	err := g.Link(c, a, nil)
	assert.True(t, serrors.IsIllegalOperation(err))

	// Diamonds stay legal.
	d, err := g.AddEntry("d", map[int64]Attrs{a: nil})
	require.NoError(t, err)
	require.NoError(t, g.Link(d, c, nil))
	assert.ElementsMatch(t, []int64{b, d}, g.Sources(c))
}

func TestRootedRekey(t *testing.T) {
	g := NewRooted[string]()
	root, _ := g.AddEntry("root", nil)
	child, _ := g.AddEntry("child", map[int64]Attrs{root: Attrs{"k": "v"}})

	require.NoError(t, g.Rekey(root, 10))
	require.NoError(t, g.Rekey(child, 11))

	assert.Equal(t, int64(10), g.RootID())
	assert.Equal(t, []int64{10}, g.Sources(11))
	attrs, ok := g.EdgeAttrs(10, 11)
	require.True(t, ok)
	assert.Equal(t, "v", attrs["k"])

	err := g.Rekey(99, 100)
	assert.True(t, serrors.IsNoResultFound(err))
}

func TestRootedRemoveAndReconnect(t *testing.T) {
	t.Run("children inherit their edge payload", func(t *testing.T) {
		g := NewRooted[string]()
		a, _ := g.AddEntry("a", nil)
		b, _ := g.AddEntry("b", map[int64]Attrs{a: nil})
		c, _ := g.AddEntry("c", map[int64]Attrs{b: Attrs{"pos": "3"}})

		require.NoError(t, g.RemoveAndReconnect(b))
		assert.Equal(t, []int64{a}, g.Sources(c))
		attrs, ok := g.EdgeAttrs(a, c)
		require.True(t, ok)
		assert.Equal(t, "3", attrs["pos"])
	})

	t.Run("root with one child hands over", func(t *testing.T) {
		g := NewRooted[string]()
		a, _ := g.AddEntry("a", nil)
		b, _ := g.AddEntry("b", map[int64]Attrs{a: nil})
		require.NoError(t, g.RemoveAndReconnect(a))
		assert.Equal(t, b, g.RootID())
	})

	t.Run("root with several children is inconsistent", func(t *testing.T) {
		g := NewRooted[string]()
		a, _ := g.AddEntry("a", nil)
		b, _ := g.AddEntry("b", map[int64]Attrs{a: nil})
		c, _ := g.AddEntry("c", map[int64]Attrs{a: nil})
		err := g.RemoveAndReconnect(a)
		assert.True(t, serrors.IsInconsistentState(err))

		// The rejected removal leaves the graph untouched, so the root
		// can still be swapped for a stand-in.
		assert.Equal(t, 3, g.Len())
		assert.Equal(t, a, g.RootID())
		model, ok := g.GetEntry(a)
		require.True(t, ok)
		assert.Equal(t, "a", model)
		assert.ElementsMatch(t, []int64{b, c}, g.Sinks(a))
		require.NoError(t, g.Replace(a, "stand-in"))
	})
}

func TestTreeRemoveAndReconnectKeepsRejectedRoot(t *testing.T) {
	tr := NewTree[string]()
	root, _ := tr.AddEntry("root", nil)
	a, _ := tr.AddEntry("a", map[int64]Attrs{root: nil})
	b, _ := tr.AddEntry("b", map[int64]Attrs{root: nil})

	err := tr.RemoveAndReconnect(root)
	assert.True(t, serrors.IsInconsistentState(err))

	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, root, tr.RootID())
	assert.ElementsMatch(t, []int64{a, b}, tr.ChildrenIDs(root))
	require.NoError(t, tr.Replace(root, "stand-in"))
}

func TestRootedRemove(t *testing.T) {
	g := NewRooted[string]()
	a, _ := g.AddEntry("a", nil)
	b, _ := g.AddEntry("b", map[int64]Attrs{a: nil})

	err := g.Remove(a)
	assert.True(t, serrors.IsIllegalOperation(err))

	require.NoError(t, g.Remove(b))
	require.NoError(t, g.Remove(a))
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, int64(0), g.RootID())
}

func TestRootedInsertRoot(t *testing.T) {
	g := NewRooted[string]()
	old, _ := g.AddEntry("old", nil)
	fresh, err := g.InsertRoot("fresh", Attrs{"type": "SEED"})
	require.NoError(t, err)

	assert.Equal(t, fresh, g.RootID())
	assert.Equal(t, []int64{fresh}, g.Sources(old))
}

func TestRootedMerge(t *testing.T) {
	g := NewRooted[string]()
	a, _ := g.AddEntry("a", nil)

	other := NewRooted[string]()
	require.NoError(t, other.AddWithID(20, "x", nil))
	require.NoError(t, other.AddWithID(21, "y", map[int64]Attrs{20: nil}))

	require.NoError(t, g.Merge(other, map[int64]Attrs{a: nil}))
	assert.Equal(t, []int64{a}, g.Sources(20))
	assert.Equal(t, []int64{20}, g.Sources(21))

	err := g.Merge(NewRooted[string](), map[int64]Attrs{a: nil})
	assert.True(t, serrors.IsIllegalOperation(err))
}

func TestRootedTraversal(t *testing.T) {
	g := NewRooted[string]()
	a, _ := g.AddEntry("a", nil)
	b, _ := g.AddEntry("b", map[int64]Attrs{a: nil})
	c, _ := g.AddEntry("c", map[int64]Attrs{b: nil})
	d, _ := g.AddEntry("d", map[int64]Attrs{b: nil})

	assert.Equal(t, []int64{b, a}, g.Ancestors(c))
	assert.Equal(t, []int64{b, c, d}, g.Descendants(a))
	assert.True(t, g.HasPath(a, d))
	assert.False(t, g.HasPath(c, d))
}

func TestRootedClone(t *testing.T) {
	g := NewRooted[string]()
	a, _ := g.AddEntry("a", nil)
	b, _ := g.AddEntry("b", map[int64]Attrs{a: Attrs{"k": "v"}})

	cp := g.Clone(func(s string) string { return s })
	require.NoError(t, cp.Remove(b))
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 1, cp.Len())
}

func TestTreeSingleParent(t *testing.T) {
	tr := NewTree[string]()
	root, err := tr.AddEntry("root", nil)
	require.NoError(t, err)
	other, err := tr.AddEntry("child", map[int64]Attrs{root: nil})
	require.NoError(t, err)

	_, err = tr.AddEntry("twice", map[int64]Attrs{root: nil, other: nil})
	assert.True(t, serrors.IsIllegalOperation(err))

	parent, ok := tr.ParentID(other)
	require.True(t, ok)
	assert.Equal(t, root, parent)
	_, ok = tr.ParentID(root)
	assert.False(t, ok)
}

func TestTreeChangeSource(t *testing.T) {
	tr := NewTree[string]()
	root, _ := tr.AddEntry("root", nil)
	a, _ := tr.AddEntry("a", map[int64]Attrs{root: nil})
	b, _ := tr.AddEntry("b", map[int64]Attrs{root: nil})
	leaf, _ := tr.AddEntry("leaf", map[int64]Attrs{a: Attrs{"pos": "1"}})

	require.NoError(t, tr.ChangeSource(leaf, b))
	parent, _ := tr.ParentID(leaf)
	assert.Equal(t, b, parent)
	attrs, ok := tr.EdgeAttrs(b, leaf)
	require.True(t, ok)
	assert.Equal(t, "1", attrs["pos"])

	err := tr.ChangeSource(a, leaf)
	require.NoError(t, err)

	err = tr.ChangeSource(b, leaf)
	assert.True(t, serrors.IsIllegalOperation(err), "moving under own descendant")

	err = tr.ChangeSource(root, b)
	assert.True(t, serrors.IsIllegalOperation(err), "root cannot move")
}

func TestTreeSevered(t *testing.T) {
	tr := NewTree[string]()
	root, _ := tr.AddEntry("root", nil)
	a, _ := tr.AddEntry("a", map[int64]Attrs{root: nil})
	b, _ := tr.AddEntry("b", map[int64]Attrs{a: Attrs{"pos": "2"}})

	sub, err := tr.Severed(a)
	require.NoError(t, err)

	assert.Equal(t, a, sub.RootID())
	assert.Equal(t, []int64{b}, sub.ChildrenIDs(a))
	attrs, ok := sub.EdgeAttrs(a, b)
	require.True(t, ok)
	assert.Equal(t, "2", attrs["pos"])

	assert.Equal(t, 1, tr.Len())
	assert.Empty(t, tr.ChildrenIDs(root))

	_, err = tr.Severed(root)
	assert.True(t, serrors.IsIllegalOperation(err))
}
