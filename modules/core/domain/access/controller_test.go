package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerRelease(t *testing.T) {
	now := time.Now()

	t.Run("no controls means private", func(t *testing.T) {
		c := NewController()
		assert.Equal(t, Private, c.Release())
	})

	t.Run("strictest release wins", func(t *testing.T) {
		c := NewController()
		c.SetControl(1, Public, 100, now)
		assert.Equal(t, Public, c.Release())

		c.SetControl(2, Private, 100, now)
		assert.Equal(t, Private, c.Release())

		c.SetControl(3, Registered, 100, now)
		assert.Equal(t, Private, c.Release())
	})
}

func TestControllerSetRelease(t *testing.T) {
	now := time.Now()
	c := NewController()
	c.SetControl(1, Private, 100, now)

	assert.False(t, c.SetRelease(9, Public, 100, now), "unknown team")
	assert.True(t, c.SetRelease(1, Public, 101, now.Add(time.Minute)))
	assert.Equal(t, Public, c.Release())

	// Both stamps stay on the audit trail.
	require.Len(t, c.Controls[1].Audit, 2)
	assert.Equal(t, int64(100), c.Controls[1].Audit[0].UserID)
	assert.Equal(t, Public, c.Controls[1].Audit[1].Release)
}

func TestControllerRemoveControl(t *testing.T) {
	now := time.Now()
	c := NewController()
	c.SetControl(1, Public, 100, now)
	c.SetControl(2, Public, 100, now)

	assert.False(t, c.RemoveControl(9))
	assert.True(t, c.RemoveControl(2))
	assert.False(t, c.RemoveControl(1), "last control stays")
}

func TestControllerWriteStamps(t *testing.T) {
	c := NewController()
	assert.True(t, c.Created().IsZero())

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	c.RecordWrite(100, first)
	c.RecordWrite(101, second)

	assert.Equal(t, first, c.Created())
	assert.Equal(t, second, c.Updated())
}

func TestControllerHasAccess(t *testing.T) {
	now := time.Now()

	t.Run("public grants read to anyone", func(t *testing.T) {
		c := NewController()
		c.SetControl(1, Public, 100, now)
		assert.True(t, c.HasAccess(Read, 0, nil))
	})

	t.Run("registered grants read to signed-in users only", func(t *testing.T) {
		c := NewController()
		c.SetControl(1, Registered, 100, now)
		assert.True(t, c.HasAccess(Read, 55, nil))
		assert.False(t, c.HasAccess(Read, 0, nil))
	})

	t.Run("private read needs team membership", func(t *testing.T) {
		c := NewController()
		c.SetControl(1, Private, 100, now)
		assert.False(t, c.HasAccess(Read, 55, []int64{2}))
		assert.True(t, c.HasAccess(Read, 55, []int64{1}))
	})

	t.Run("write-class access always needs team membership", func(t *testing.T) {
		c := NewController()
		c.SetControl(1, Public, 100, now)
		for _, level := range []Access{Write, Curate, Admin} {
			assert.False(t, c.HasAccess(level, 55, nil), string(level))
			assert.True(t, c.HasAccess(level, 55, []int64{1}), string(level))
		}
	})
}

func TestParseRelease(t *testing.T) {
	for _, release := range []Release{Private, Registered, Public} {
		parsed, err := ParseRelease(release.String())
		require.NoError(t, err)
		assert.Equal(t, release, parsed)
	}
	_, err := ParseRelease("LOUD")
	assert.Error(t, err)
}
