package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangelogNodeLifecycle(t *testing.T) {
	t.Run("created stays created through changes", func(t *testing.T) {
		log := NewChangelog()
		log.MarkAdded(-1)
		log.MarkChanged(-1, "name")

		status, ok := log.Status(-1)
		require.True(t, ok)
		assert.Equal(t, Created, status)
		assert.Equal(t, []int64{-1}, log.Added())
		assert.Empty(t, log.Changed())
	})

	t.Run("persisted dirties with field union", func(t *testing.T) {
		log := NewChangelog()
		log.MarkPersisted(7)
		log.MarkChanged(7, "name")
		log.MarkChanged(7, "code", "name")

		assert.Equal(t, map[int64][]string{7: {"code", "name"}}, log.Changed())
	})

	t.Run("removing a created node drops it", func(t *testing.T) {
		log := NewChangelog()
		log.MarkAdded(-1)
		log.MarkRemoved(-1)

		_, ok := log.Status(-1)
		assert.False(t, ok)
		assert.Empty(t, log.Removed())
	})

	t.Run("removing a dirty node wins", func(t *testing.T) {
		log := NewChangelog()
		log.MarkPersisted(7)
		log.MarkChanged(7, "name")
		log.MarkRemoved(7)

		assert.Equal(t, []int64{7}, log.Removed())
		assert.Empty(t, log.Changed())
	})
}

func TestChangelogAddedAscending(t *testing.T) {
	log := NewChangelog()
	log.MarkAdded(-3)
	log.MarkAdded(-1)
	log.MarkAdded(-2)

	assert.Equal(t, []int64{-3, -2, -1}, log.Added())
}

func TestChangelogEdgeDiffs(t *testing.T) {
	t.Run("add then remove cancels", func(t *testing.T) {
		log := NewChangelog()
		log.MarkEdgeAdded(1, 2)
		log.MarkEdgeRemoved(1, 2)

		assert.Empty(t, log.AddedEdges())
		assert.Empty(t, log.RemovedEdges())
		assert.False(t, log.Dirty())
	})

	t.Run("remove then re-add becomes a change", func(t *testing.T) {
		log := NewChangelog()
		log.MarkEdgeRemoved(1, 2)
		log.MarkEdgeAdded(1, 2)

		assert.Empty(t, log.AddedEdges())
		assert.Equal(t, []EdgeDiff{{Source: 1, Target: 2}}, log.ChangedEdges())
	})

	t.Run("payload change does not override structure", func(t *testing.T) {
		log := NewChangelog()
		log.MarkEdgeAdded(1, 2)
		log.MarkEdgeChanged(1, 2)

		assert.Equal(t, []EdgeDiff{{Source: 1, Target: 2}}, log.AddedEdges())
		assert.Empty(t, log.ChangedEdges())
	})
}

func TestChangelogRekey(t *testing.T) {
	log := NewChangelog()
	log.MarkAdded(-1)
	log.MarkEdgeAdded(5, -1)

	log.Rekey(-1, 12)

	assert.Equal(t, []int64{12}, log.Added())
	assert.Equal(t, []EdgeDiff{{Source: 5, Target: 12}}, log.AddedEdges())
}

func TestChangelogRekeyed(t *testing.T) {
	log := NewChangelog()
	log.MarkAdded(-1)
	log.MarkAdded(-2)
	log.Rekey(-1, 12)
	log.Rekey(-2, 13)

	// Mappings survive the reset so callers holding a temporary id can
	// still resolve it after the flush.
	log.Reset()
	assert.Equal(t, int64(12), log.Rekeyed(-1))
	assert.Equal(t, int64(13), log.Rekeyed(-2))
	assert.Equal(t, int64(7), log.Rekeyed(7), "stored ids pass through")

	// A chained rekey resolves to the final id.
	log.Rekey(12, 40)
	assert.Equal(t, int64(40), log.Rekeyed(-1))
	assert.Equal(t, int64(40), log.Rekeyed(12))
}

func TestChangelogReset(t *testing.T) {
	log := NewChangelog()
	log.MarkAdded(-1)
	log.MarkPersisted(2)
	log.MarkChanged(2, "name")
	log.MarkPersisted(3)
	log.MarkRemoved(3)
	log.MarkEdgeAdded(2, -1)

	require.True(t, log.Dirty())
	log.Reset()
	assert.False(t, log.Dirty())

	status, ok := log.Status(-1)
	require.True(t, ok)
	assert.Equal(t, Persisted, status)
	_, ok = log.Status(3)
	assert.False(t, ok)
}
