package eventbus

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type teamAdded struct {
	TeamID int64
}

type teamRemoved struct {
	TeamID int64
}

func TestPublishDelivers(t *testing.T) {
	bus := NewEventPublisher(logrus.New(), 2, 8)

	var mu sync.Mutex
	var added []int64
	bus.Subscribe(func(e teamAdded) {
		mu.Lock()
		defer mu.Unlock()
		added = append(added, e.TeamID)
	})

	bus.Publish(teamAdded{TeamID: 1})
	bus.Publish(teamAdded{TeamID: 2})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2}, added)
}

func TestHandlersMatchByType(t *testing.T) {
	bus := NewEventPublisher(logrus.New(), 1, 8)

	var mu sync.Mutex
	var removed int
	bus.Subscribe(func(e teamRemoved) { mu.Lock(); removed++; mu.Unlock() })
	bus.Subscribe(func(e teamAdded) {})

	bus.Publish(teamAdded{TeamID: 1})
	bus.Publish(teamRemoved{TeamID: 1})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, removed)
}

func TestFailingHandlerDoesNotStopOthers(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := NewEventPublisher(logger, 1, 8)

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(func(e teamAdded) error { return assert.AnError })
	bus.Subscribe(func(e teamAdded) { panic("boom") })
	bus.Subscribe(func(e teamAdded) { mu.Lock(); delivered++; mu.Unlock() })

	bus.Publish(teamAdded{TeamID: 1})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}

func TestSubscriberBookkeeping(t *testing.T) {
	bus := NewEventPublisher(logrus.New(), 1, 1)
	defer bus.Close()

	handler := func(e teamAdded) {}
	bus.Subscribe(handler)
	require.Equal(t, 1, bus.SubscribersCount())

	bus.Unsubscribe(handler)
	assert.Equal(t, 0, bus.SubscribersCount())

	bus.Subscribe(handler)
	bus.Clear()
	assert.Equal(t, 0, bus.SubscribersCount())

	assert.Panics(t, func() { bus.Subscribe("not a function") })
}

func TestMatchSignature(t *testing.T) {
	assert.True(t, MatchSignature(func(e teamAdded) {}, []interface{}{teamAdded{}}))
	assert.False(t, MatchSignature(func(e teamAdded) {}, []interface{}{teamRemoved{}}))
	assert.False(t, MatchSignature(func(e teamAdded) {}, []interface{}{teamAdded{}, 1}))
	assert.False(t, MatchSignature(42, []interface{}{teamAdded{}}))
}
