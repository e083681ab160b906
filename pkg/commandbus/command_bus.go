// Package commandbus dispatches commands to their registered handlers.
// Commands are handled strictly one at a time in arrival order; handler
// failures propagate to the caller.
package commandbus

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var (
	commandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cultivar_commands_dispatched_total",
		Help: "Commands dispatched, by command type and outcome",
	}, []string{"command", "outcome"})
	commandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cultivar_command_duration_seconds",
		Help:    "Command handling latency",
		Buckets: prometheus.DefBuckets,
	})
)

type CommandBus interface {
	// Register binds a handler of shape func(context.Context, T) error.
	Register(handler interface{})
	// Dispatch runs the handler registered for the command's type.
	Dispatch(ctx context.Context, command interface{}) error
}

type busImpl struct {
	log *logrus.Logger

	mu       sync.Mutex
	handlers map[reflect.Type]reflect.Value
}

func New(log *logrus.Logger) CommandBus {
	return &busImpl{
		log:      log,
		handlers: make(map[reflect.Type]reflect.Value),
	}
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

func (b *busImpl) Register(handler interface{}) {
	t := reflect.TypeOf(handler)
	if t.Kind() != reflect.Func || t.NumIn() != 2 || t.NumOut() != 1 {
		panic("command handler must be func(context.Context, T) error")
	}
	if !t.In(0).Implements(ctxType) || !t.Out(0).Implements(errType) {
		panic("command handler must be func(context.Context, T) error")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cmdType := t.In(1)
	if _, ok := b.handlers[cmdType]; ok {
		panic("handler already registered for " + cmdType.String())
	}
	b.handlers[cmdType] = reflect.ValueOf(handler)
}

// Dispatch serialises command handling: the bus lock is held for the full
// handler call, so commands run one at a time in arrival order.
func (b *busImpl) Dispatch(ctx context.Context, command interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmdType := reflect.TypeOf(command)
	handler, ok := b.handlers[cmdType]
	if !ok {
		return serrors.IllegalOperation("no handler registered for command %s", cmdType.String())
	}

	name := cmdType.String()
	start := time.Now()
	out := handler.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(command)})
	commandDuration.Observe(time.Since(start).Seconds())

	if err, _ := out[0].Interface().(error); err != nil {
		commandsDispatched.WithLabelValues(name, "error").Inc()
		if b.log != nil {
			b.log.WithField("command", name).Errorf("commandbus: handler failed: %v", err)
		}
		return err
	}
	commandsDispatched.WithLabelValues(name, "ok").Inc()
	return nil
}
