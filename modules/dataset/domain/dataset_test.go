package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

func newDataset(t *testing.T) *Dataset {
	t.Helper()
	d, err := New("Plant height 2026", 7)
	require.NoError(t, err)
	return d
}

func TestNewDataset(t *testing.T) {
	_, err := New("no term", 0)
	assert.True(t, serrors.IsIllegalOperation(err))

	d := newDataset(t)
	assert.Equal(t, int64(-1), d.ID())
	assert.Equal(t, []int64{-1}, d.Changelog().Added())
}

func TestDatasetRecords(t *testing.T) {
	d := newDataset(t)
	start := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	_, err := d.AddRecord(0, "42", start, nil)
	assert.True(t, serrors.IsIllegalOperation(err))

	end := start.Add(-time.Hour)
	_, err = d.AddRecord(3, "42", start, &end)
	assert.True(t, serrors.IsIllegalOperation(err))

	first, err := d.AddRecord(3, "42", start, nil)
	require.NoError(t, err)
	second, err := d.AddRecord(4, "55", start, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), first)
	assert.Equal(t, int64(-3), second)

	// Record mutations stamp the header.
	assert.Empty(t, d.Changelog().Changed(), "created header absorbs the change")

	require.NoError(t, d.UpdateRecord(first, "43", start, nil))
	assert.Equal(t, "43", d.Records()[0].Value)

	err = d.UpdateRecord(99, "x", start, nil)
	assert.True(t, serrors.IsNoResultFound(err))

	require.NoError(t, d.RemoveRecord(first))
	require.Len(t, d.Records(), 1)
	assert.Equal(t, second, d.Records()[0].ID)

	assert.Equal(t, []Record{d.Records()[0]}, d.RecordsForUnit(4))
	assert.Empty(t, d.RecordsForUnit(3))
}

func TestDatasetHeaderGatesRecords(t *testing.T) {
	start := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	d := Hydrate(10, 7, "stored", []Record{{ID: 100, UnitID: 3, Value: "42", Start: start}})

	require.NoError(t, d.UpdateRecord(100, "43", start, nil))
	changed := d.Changelog().Changed()
	assert.Contains(t, changed, int64(10))
	assert.Contains(t, changed[10], "records")

	_, ok := d.ModelKey(100)
	assert.False(t, ok, "records are not controlled models")
	key, ok := d.ModelKey(10)
	require.True(t, ok)
	assert.Equal(t, access.Key{Label: access.LabelDataset, ID: 10}, key)
	assert.Len(t, d.ControlledModels(), 1)
}

func TestDatasetRekey(t *testing.T) {
	d := newDataset(t)
	start := time.Now()
	rec, err := d.AddRecord(3, "42", start, nil)
	require.NoError(t, err)

	require.NoError(t, d.Rekey(d.ID(), 10))
	assert.Equal(t, int64(10), d.ID())
	require.NoError(t, d.Rekey(rec, 100))
	assert.Equal(t, int64(100), d.Records()[0].ID)

	err = d.Rekey(99, 1)
	assert.True(t, serrors.IsNoResultFound(err))

	t.Run("identical records resolve to their own stored ids", func(t *testing.T) {
		d := newDataset(t)
		first, err := d.AddRecord(3, "42", start, nil)
		require.NoError(t, err)
		second, err := d.AddRecord(3, "42", start, nil)
		require.NoError(t, err)

		require.NoError(t, d.Rekey(first, 100))
		require.NoError(t, d.Rekey(second, 101))
		assert.Equal(t, int64(100), d.Changelog().Rekeyed(first))
		assert.Equal(t, int64(101), d.Changelog().Rekeyed(second))
	})
}

func TestDatasetRedacted(t *testing.T) {
	start := time.Now()
	d := Hydrate(10, 7, "stored", []Record{{ID: 100, UnitID: 3, Value: "42", Start: start}})

	controllers := make(access.ControllerMap)
	c := access.NewController()
	c.SetControl(1, access.Private, 50, time.Now())
	controllers.Put(access.Key{Label: access.LabelDataset, ID: 10}, c)

	_, ok := d.Redacted(controllers, 55, nil)
	assert.False(t, ok, "a hidden header hides every record")

	view, ok := d.Redacted(controllers, 55, []int64{1})
	require.True(t, ok)
	assert.Len(t, view.(*Dataset).Records(), 1)
}

func TestDatasetProtected(t *testing.T) {
	d := newDataset(t)
	assert.Empty(t, d.Protected())

	rec, err := d.AddRecord(3, "42", time.Now(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Protected())

	require.NoError(t, d.RemoveRecord(rec))
	assert.Empty(t, d.Protected())
}
