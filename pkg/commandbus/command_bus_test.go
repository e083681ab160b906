package commandbus

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivarhq/cultivar/pkg/serrors"
)

type createThing struct {
	Name string
}

type renameThing struct {
	ID   int64
	Name string
}

func TestDispatch(t *testing.T) {
	bus := New(logrus.New())

	var got []string
	bus.Register(func(_ context.Context, cmd createThing) error {
		got = append(got, cmd.Name)
		return nil
	})

	require.NoError(t, bus.Dispatch(context.Background(), createThing{Name: "a"}))
	require.NoError(t, bus.Dispatch(context.Background(), createThing{Name: "b"}))
	assert.Equal(t, []string{"a", "b"}, got)

	err := bus.Dispatch(context.Background(), renameThing{ID: 1})
	assert.True(t, serrors.IsIllegalOperation(err), "unregistered command")
}

func TestDispatchPropagatesErrors(t *testing.T) {
	bus := New(logrus.New())
	bus.Register(func(_ context.Context, _ createThing) error {
		return serrors.Unauthorised("nope")
	})
	err := bus.Dispatch(context.Background(), createThing{})
	assert.True(t, serrors.IsUnauthorised(err))
}

func TestRegisterRejectsBadShapes(t *testing.T) {
	bus := New(logrus.New())
	assert.Panics(t, func() { bus.Register(func(cmd createThing) error { return nil }) })
	assert.Panics(t, func() { bus.Register(func(_ context.Context, _ createThing) {}) })
	assert.Panics(t, func() { bus.Register("not a function") })

	bus.Register(func(_ context.Context, _ createThing) error { return nil })
	assert.Panics(t, func() {
		bus.Register(func(_ context.Context, _ createThing) error { return nil })
	}, "one handler per command type")
}

func TestDispatchSerialises(t *testing.T) {
	bus := New(logrus.New())

	running := 0
	max := 0
	bus.Register(func(_ context.Context, _ createThing) error {
		running++
		if running > max {
			max = running
		}
		running--
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Dispatch(context.Background(), createThing{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max, "commands run one at a time")
}
