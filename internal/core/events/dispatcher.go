package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/view"
)

// Handler receives the events of one registration. Errors are collected
// and returned from the raise that delivered the event.
type Handler func(event view.Event) error

// Observer is told about every delivery. Observers should return quickly.
type Observer interface {
	OnDelivered(event view.Event, err error, durationMicros int64)
}

// Metrics are counted only while at least one observer is registered.
type Metrics struct {
	Delivered uint64
	Dropped   uint64
	Errors    uint64
}

// Subscription binds a handler to a registration. A cancel event ends it.
type Subscription struct {
	registration string
	handler      Handler
	active       atomic.Bool
	cancel       func()
}

func (s *Subscription) Registration() string { return s.registration }
func (s *Subscription) IsActive() bool       { return s.active.Load() }

// Cancel stops delivery. Multiple calls are safe.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Dispatcher hands events to the handler subscribed for their
// registration. It is safe for concurrent use; handlers run in the caller
// goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string]*Subscription
	observers map[Observer]struct{}
	metrics   Metrics
	logger    log.Log
}

type Option func(*Dispatcher)

func WithLogger(logger log.Log) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[string]*Subscription),
		observers: make(map[Observer]struct{}),
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe routes events for reg to handler, replacing any earlier
// handler for reg.
func (d *Dispatcher) Subscribe(reg *view.Registration, handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := reg.ID()
	s := &Subscription{registration: id, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.handlers[id] == s {
			delete(d.handlers, id)
		}
		s.active.Store(false)
	}
	d.handlers[id] = s
	return s
}

func (d *Dispatcher) AddObserver(obs Observer) {
	d.mu.Lock()
	d.observers[obs] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) RemoveObserver(obs Observer) {
	d.mu.Lock()
	delete(d.observers, obs)
	d.mu.Unlock()
}

func (d *Dispatcher) Metrics() Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics
}

// Deliver calls the handler for each event in order and joins their
// errors. Events without an active subscription are dropped.
func (d *Dispatcher) Deliver(events ...view.Event) error {
	var all error
	for _, e := range events {
		if err := d.deliver(e); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

func (d *Dispatcher) deliver(event view.Event) error {
	start := time.Now()
	d.mu.RLock()
	s := d.handlers[event.Registration]
	observers := make([]Observer, 0, len(d.observers))
	for obs := range d.observers {
		observers = append(observers, obs)
	}
	d.mu.RUnlock()

	if s == nil {
		d.logger.Debug("Dropping event without subscriber",
			log.String("registration", event.Registration),
			log.Stringer("path", event.Path),
		)
		d.count(len(observers) > 0, func(m *Metrics) { m.Dropped++ })
		return nil
	}

	err := s.handler(event)
	if event.IsCancel() {
		s.Cancel()
	}

	if len(observers) > 0 {
		dur := time.Since(start).Microseconds()
		for _, obs := range observers {
			obs.OnDelivered(event, err, dur)
		}
	}
	d.count(len(observers) > 0, func(m *Metrics) {
		m.Delivered++
		if err != nil {
			m.Errors++
		}
	})
	return err
}

func (d *Dispatcher) count(observed bool, fn func(*Metrics)) {
	if !observed {
		return
	}
	d.mu.Lock()
	fn(&d.metrics)
	d.mu.Unlock()
}
