// Package stream provides the push-based multicast primitives the store
// publishes through.
//
// Subject is a plain multicast: values are delivered synchronously, in
// subscription order, to every observer registered at the time of the call.
// BehaviorSubject additionally remembers the latest value and replays it to
// each new subscriber.
//
// Observers must not block. Delivery happens on the emitting goroutine, so an
// observer that waits on the emitter (for example by dispatching into the
// store that is publishing) deadlocks.
package stream

import (
	"errors"
	"sync"
)

// ErrCompleted is reported to observers that subscribe after Complete.
var ErrCompleted = errors.New("stream: completed")

// Observer receives values pushed by a subject. Nil callbacks are skipped.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Subscription detaches an observer. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	once   sync.Once
	detach func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.detach)
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type entry[T any] struct {
	id   uint64
	obs  Observer[T]
	gate *gate
}

// gate orders versioned deliveries to one observer. A value older than the
// last one delivered is dropped.
type gate struct {
	mu   sync.Mutex
	seen uint64
}

// Subject is a multicast publisher.
type Subject[T any] struct {
	mu        sync.Mutex
	observers []entry[T]
	nextID    uint64
	done      bool
	err       error
}

// NewSubject creates a Subject with no observers.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Subscribe registers obs. Subscribing to a finished subject immediately
// reports the terminal event and returns a no-op subscription.
func (s *Subject[T]) Subscribe(obs Observer[T]) Subscription {
	s.mu.Lock()
	if s.done {
		err := s.err
		s.mu.Unlock()
		terminate(obs, err)
		return noopSubscription{}
	}
	e := s.register(obs)
	s.mu.Unlock()

	return &subscription{detach: func() { s.remove(e.id) }}
}

// register must be called with s.mu held.
func (s *Subject[T]) register(obs Observer[T]) entry[T] {
	s.nextID++
	e := entry[T]{id: s.nextID, obs: obs, gate: &gate{}}
	s.observers = append(s.observers, e)
	return e
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.observers {
		if e.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// snapshot must be called with s.mu held.
func (s *Subject[T]) snapshot() []entry[T] {
	out := make([]entry[T], len(s.observers))
	copy(out, s.observers)
	return out
}

// Next delivers v to every current observer. No-op after completion.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	targets := s.snapshot()
	s.mu.Unlock()

	deliver(targets, v)
}

// Error terminates the subject with err.
func (s *Subject[T]) Error(err error) {
	s.finish(err)
}

// Complete terminates the subject normally.
func (s *Subject[T]) Complete() {
	s.finish(nil)
}

func (s *Subject[T]) finish(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	targets := s.snapshot()
	s.observers = nil
	s.mu.Unlock()

	for _, e := range targets {
		terminate(e.obs, err)
	}
}

// Observers returns the number of registered observers.
func (s *Subject[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Done reports whether the subject has completed or errored.
func (s *Subject[T]) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func deliver[T any](targets []entry[T], v T) {
	for _, e := range targets {
		if e.obs.Next != nil {
			e.obs.Next(v)
		}
	}
}

// deliverAt delivers v stamped with version, skipping observers that already
// received a newer value.
func deliverAt[T any](targets []entry[T], v T, version uint64) {
	for _, e := range targets {
		if e.obs.Next != nil {
			e.gate.deliver(version, func() { e.obs.Next(v) })
		}
	}
}

func (g *gate) deliver(version uint64, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if version <= g.seen {
		return
	}
	g.seen = version
	fn()
}

func terminate[T any](obs Observer[T], err error) {
	if err != nil {
		if obs.Error != nil {
			obs.Error(err)
		}
		return
	}
	if obs.Complete != nil {
		obs.Complete()
	}
}

// BehaviorSubject is a Subject that replays its latest value on subscribe.
//
// Every value carries a version. An observer never receives a value older
// than one it has already seen, so a replay racing a concurrent Next cannot
// leave a subscriber on a stale value.
//
// Deliveries to one observer are serialized; an observer must not call Next
// on the subject that is delivering to it.
type BehaviorSubject[T any] struct {
	Subject[T]
	value    T
	hasValue bool
	version  uint64
}

// NewBehaviorSubject creates a BehaviorSubject holding initial.
func NewBehaviorSubject[T any](initial T) *BehaviorSubject[T] {
	return &BehaviorSubject[T]{value: initial, hasValue: true, version: 1}
}

// NewReplayLatest creates a BehaviorSubject with no value yet. Subscribers
// receive nothing on subscribe until the first Next.
func NewReplayLatest[T any]() *BehaviorSubject[T] {
	return &BehaviorSubject[T]{}
}

// Subscribe registers obs and replays the latest value, if any.
func (b *BehaviorSubject[T]) Subscribe(obs Observer[T]) Subscription {
	b.mu.Lock()
	if b.done {
		err := b.err
		b.mu.Unlock()
		terminate(obs, err)
		return noopSubscription{}
	}
	e := b.register(obs)
	v, ok, version := b.value, b.hasValue, b.version
	b.mu.Unlock()

	if ok {
		deliverAt([]entry[T]{e}, v, version)
	}
	return &subscription{detach: func() { b.remove(e.id) }}
}

// Next stores v as the latest value and delivers it.
func (b *BehaviorSubject[T]) Next(v T) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.value = v
	b.hasValue = true
	b.version++
	version := b.version
	targets := b.snapshot()
	b.mu.Unlock()

	deliverAt(targets, v, version)
}

// Value returns the latest value and whether one has been emitted.
func (b *BehaviorSubject[T]) Value() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.hasValue
}
