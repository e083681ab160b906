package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/germplasm/domain/entry"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

func newPedigree(t *testing.T) *Pedigree {
	t.Helper()
	p, err := New(entry.New("Malus sieversii", entry.WithSynonyms("wild apple")))
	require.NoError(t, err)
	return p
}

func TestPedigreeAddEntry(t *testing.T) {
	p := newPedigree(t)

	_, err := p.AddEntry(entry.New("orphan"), nil)
	assert.True(t, serrors.IsIllegalOperation(err), "derived material needs a source")

	id, err := p.AddEntry(entry.New("Golden Delicious"), map[int64]Source{
		p.RootID(): {Type: Seed, Description: "open pollination"},
	})
	require.NoError(t, err)

	sources := p.Sources(id)
	require.Len(t, sources, 1)
	assert.Equal(t, Seed, sources[p.RootID()].Type)
	assert.Equal(t, "open pollination", sources[p.RootID()].Description)
}

func TestPedigreeCross(t *testing.T) {
	p := newPedigree(t)
	golden, err := p.AddEntry(entry.New("Golden Delicious"), map[int64]Source{p.RootID(): {Type: Seed}})
	require.NoError(t, err)
	kidd, err := p.AddEntry(entry.New("Kidd's Orange Red"), map[int64]Source{p.RootID(): {Type: Seed}})
	require.NoError(t, err)

	gala, err := p.AddEntry(entry.New("Gala"), map[int64]Source{
		golden: {Type: Maternal},
		kidd:   {Type: Paternal},
	})
	require.NoError(t, err)

	sources := p.Sources(gala)
	assert.Equal(t, Maternal, sources[golden].Type)
	assert.Equal(t, Paternal, sources[kidd].Type)
	assert.Equal(t, []int64{gala}, p.Derived(golden))
}

func TestPedigreeAddSourceRejectsCycles(t *testing.T) {
	p := newPedigree(t)
	child, err := p.AddEntry(entry.New("child"), map[int64]Source{p.RootID(): {}})
	require.NoError(t, err)
	grandchild, err := p.AddEntry(entry.New("grandchild"), map[int64]Source{child: {}})
	require.NoError(t, err)

	err = p.AddSource(grandchild, child, Source{Type: Tissue})
	assert.True(t, serrors.IsIllegalOperation(err), "an entry cannot derive from its own derivative")

	require.NoError(t, p.AddSource(p.RootID(), grandchild, Source{Type: Tissue}))
	assert.Len(t, p.Sources(grandchild), 2)
}

func TestPedigreeRemoveSource(t *testing.T) {
	p := newPedigree(t)
	a, err := p.AddEntry(entry.New("a"), map[int64]Source{p.RootID(): {}})
	require.NoError(t, err)
	b, err := p.AddEntry(entry.New("b"), map[int64]Source{p.RootID(): {}, a: {}})
	require.NoError(t, err)

	require.NoError(t, p.RemoveSource(a, b))
	err = p.RemoveSource(p.RootID(), b)
	assert.True(t, serrors.IsIllegalOperation(err), "the last source stays")
}

func TestPedigreeUpdateSource(t *testing.T) {
	p := newPedigree(t)
	a, err := p.AddEntry(entry.New("a"), map[int64]Source{p.RootID(): {}})
	require.NoError(t, err)

	require.NoError(t, p.UpdateSource(p.RootID(), a, Source{Type: Tissue, Description: "cutting"}))
	assert.Equal(t, Tissue, p.Sources(a)[p.RootID()].Type)

	err = p.UpdateSource(a, p.RootID(), Source{})
	assert.Error(t, err)
}

func TestPedigreeRemoveEntry(t *testing.T) {
	p := newPedigree(t)
	mid, err := p.AddEntry(entry.New("mid"), map[int64]Source{p.RootID(): {Type: Seed}})
	require.NoError(t, err)
	leaf, err := p.AddEntry(entry.New("leaf"), map[int64]Source{mid: {Type: Tissue, Description: "graft"}})
	require.NoError(t, err)

	err = p.RemoveEntry(p.RootID())
	assert.True(t, serrors.IsIllegalOperation(err), "founding material stays until last")

	require.NoError(t, p.RemoveEntry(mid))
	sources := p.Sources(leaf)
	require.Len(t, sources, 1)
	assert.Equal(t, Tissue, sources[p.RootID()].Type, "derived entries keep their own edge payload")
	assert.Equal(t, []int64{p.RootID()}, p.Ancestry(leaf))
}

func TestPedigreeInsertRoot(t *testing.T) {
	p := newPedigree(t)
	oldRoot := p.RootID()

	fresh, err := p.InsertRoot(entry.New("Malus ancestor"), Source{Type: Seed})
	require.NoError(t, err)
	assert.Equal(t, fresh, p.RootID())
	assert.Equal(t, Seed, p.Sources(oldRoot)[fresh].Type)
}

func TestPedigreeLookup(t *testing.T) {
	p := newPedigree(t)
	e, ok := p.GetEntryByName("malus SIEVERSII")
	require.True(t, ok)
	assert.Equal(t, "Malus sieversii", e.Name())
	_, ok = p.GetEntryByName("nothing")
	assert.False(t, ok)
}

func TestPedigreeRedacted(t *testing.T) {
	p := newPedigree(t)
	golden, err := p.AddEntry(entry.New("Golden Delicious"), map[int64]Source{p.RootID(): {Type: Seed}})
	require.NoError(t, err)
	kidd, err := p.AddEntry(entry.New("Kidd's Orange Red"), map[int64]Source{p.RootID(): {Type: Seed}})
	require.NoError(t, err)

	controllers := make(access.ControllerMap)
	for _, e := range p.Entries() {
		c := access.NewController()
		release := access.Public
		if e.ID() == p.RootID() {
			release = access.Private
		}
		c.SetControl(99, release, 1, time.Now())
		controllers.Put(access.Key{Label: access.LabelGermplasm, ID: e.ID()}, c)
	}

	view, ok := p.Redacted(controllers, 0, nil)
	require.True(t, ok)
	redacted := view.(*Pedigree)

	// The hidden founder anchors two lines, so it stays as a stand-in.
	root, found := redacted.GetEntry(p.RootID())
	require.True(t, found)
	assert.True(t, root.IsRedacted())
	assert.Empty(t, root.Name())
	assert.Equal(t, []int64{p.RootID()}, redacted.Ancestry(golden))
	assert.Equal(t, []int64{p.RootID()}, redacted.Ancestry(kidd))
}

func TestParseSourceType(t *testing.T) {
	for _, s := range []SourceType{Unknown, Seed, Tissue, Maternal, Paternal} {
		parsed, err := ParseSourceType(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseSourceType("CLONE")
	assert.Error(t, err)
}
