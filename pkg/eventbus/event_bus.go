// Package eventbus dispatches domain events to subscribed handlers.
// Events are drained from a bounded queue by a small worker pool; within
// one event, matching handlers run sequentially and a failing handler is
// logged without stopping the others.
package eventbus

import (
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cultivar_events_published_total",
		Help: "Events accepted onto the bus queue",
	})
	handlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cultivar_event_handler_failures_total",
		Help: "Event handlers that returned an error or panicked",
	})
)

type Subscriber struct {
	Handler interface{}
}

type EventBus interface {
	// Publish enqueues an event; workers deliver it asynchronously.
	Publish(args ...interface{})
	Subscribe(handler interface{})
	Unsubscribe(handler interface{})
	Clear()
	SubscribersCount() int
	// Close stops accepting events and waits for in-flight deliveries.
	Close()
}

type publisherImpl struct {
	log *logrus.Logger

	mu          sync.RWMutex
	subscribers []Subscriber

	queue  chan []interface{}
	wg     sync.WaitGroup
	closed sync.Once
}

// NewEventPublisher starts workers goroutines draining a queue of the
// given size.
func NewEventPublisher(log *logrus.Logger, workers, queueSize int) EventBus {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &publisherImpl{
		log:   log,
		queue: make(chan []interface{}, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for args := range p.queue {
				p.dispatch(args)
			}
		}()
	}
	return p
}

// MatchSignature reports whether handler is a function accepting args.
func MatchSignature(handler interface{}, args []interface{}) bool {
	t := reflect.TypeOf(handler)
	if t.Kind() != reflect.Func {
		return false
	}
	if t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		paramType := t.In(i)
		argType := reflect.TypeOf(arg)

		if arg == nil {
			if paramType.Kind() != reflect.Interface && paramType.Kind() != reflect.Ptr {
				return false
			}
			continue
		}
		if paramType.Kind() == reflect.Interface {
			if !argType.Implements(paramType) {
				return false
			}
			continue
		}
		if !argType.AssignableTo(paramType) {
			return false
		}
	}
	return true
}

func (p *publisherImpl) Publish(args ...interface{}) {
	eventsPublished.Inc()
	p.queue <- args
}

func (p *publisherImpl) dispatch(args []interface{}) {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		in[i] = reflect.ValueOf(arg)
	}

	p.mu.RLock()
	subscribers := append([]Subscriber(nil), p.subscribers...)
	p.mu.RUnlock()

	handled := false
	for _, subscriber := range subscribers {
		v := reflect.ValueOf(subscriber.Handler)
		if !MatchSignature(subscriber.Handler, args) {
			continue
		}
		handled = true
		func() {
			defer func() {
				if r := recover(); r != nil {
					handlerFailures.Inc()
					if p.log != nil {
						p.log.Errorf("eventbus: handler %s panicked with args %v: %v", v.Type().String(), args, r)
					}
				}
			}()
			out := v.Call(in)
			if len(out) == 1 {
				if err, ok := out[0].Interface().(error); ok && err != nil {
					handlerFailures.Inc()
					if p.log != nil {
						p.log.Errorf("eventbus: handler %s failed: %v", v.Type().String(), err)
					}
				}
			}
		}()
	}

	if !handled && p.log != nil {
		p.log.Warnf("eventbus: no matching subscribers for event with args: %v", args)
	}
}

func (p *publisherImpl) Subscribe(handler interface{}) {
	t := reflect.TypeOf(handler)
	if t.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, Subscriber{Handler: handler})
}

func (p *publisherImpl) Unsubscribe(handler interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ptr := reflect.ValueOf(handler).Pointer()
	for i, subscriber := range p.subscribers {
		if reflect.ValueOf(subscriber.Handler).Pointer() == ptr {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

func (p *publisherImpl) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = nil
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

func (p *publisherImpl) Close() {
	p.closed.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}
