package eventbus

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the queue length used when a subscriber asks for 0.
const DefaultCapacity = 256

// ErrClosed is returned by Next once a subscription is closed and drained.
var ErrClosed = errors.New("eventbus: subscription closed")

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives bus statistics.
type Observer interface {
	EventPublished(kind Kind)
	EventDropped(subscriber string, kind Kind)
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ev Event)
}

// Bus is an in-process publish/subscribe hub.
//
// Publish never blocks: every subscriber owns a bounded queue and, when
// it is full, the oldest queued event is discarded. Each subscriber sees
// events in publish order, which preserves per-channel ordering as long
// as each channel has a single producer.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	logger   Logger
	observer Observer
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for overflow diagnostics.
func (b *Bus) SetLogger(l Logger) {
	b.logger = l
}

// SetObserver sets the statistics receiver.
func (b *Bus) SetObserver(o Observer) {
	b.observer = o
}

// Subscribe registers a subscriber.
//
// Parameters:
//   - name: Identifies the subscriber in diagnostics
//   - capacity: Queue length (DefaultCapacity when <= 0)
//   - kinds: Event kinds to receive; none means all
//
// Returns:
//   - *Subscription: Call Next to consume and Close when done
func (b *Bus) Subscribe(name string, capacity int, kinds ...Kind) *Subscription {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Subscription{
		name:   name,
		bus:    b,
		queue:  make([]Event, capacity),
		notify: make(chan struct{}, 1),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers ev to every interested subscriber.
func (b *Bus) Publish(ev Event) {
	if b.observer != nil {
		b.observer.EventPublished(ev.Kind)
	}

	type overflow struct {
		sub     *Subscription
		dropped Event
		total   uint64
	}
	var overflows []overflow

	b.mu.RLock()
	for s := range b.subs {
		if !s.wants(ev.Kind) {
			continue
		}
		if dropped, total, ok := s.push(ev); ok {
			overflows = append(overflows, overflow{sub: s, dropped: dropped, total: total})
		}
	}
	b.mu.RUnlock()

	for _, o := range overflows {
		b.overflowed(o.sub, o.dropped, o.total)
	}
}

// overflowed reports a dropped event. The diagnostic goes to every other
// subscriber; if delivering it overflows again, that drop is only counted.
func (b *Bus) overflowed(s *Subscription, dropped Event, total uint64) {
	if b.observer != nil {
		b.observer.EventDropped(s.name, dropped.Kind)
	}
	if dropped.Kind == KindOverflow {
		return
	}

	b.logger.Warn("event bus subscriber overflow",
		"subscriber", s.name,
		"dropped_kind", string(dropped.Kind),
		"dropped_role", dropped.ChannelRole,
		"dropped_total", total,
	)

	diag := NewEvent(KindOverflow, dropped.ChannelRole, Overflow{
		Subscriber:  s.name,
		DroppedKind: dropped.Kind,
		Dropped:     total,
	})
	if b.observer != nil {
		b.observer.EventPublished(KindOverflow)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for other := range b.subs {
		if other == s || !other.wants(KindOverflow) {
			continue
		}
		if lost, _, ok := other.push(diag); ok && b.observer != nil {
			b.observer.EventDropped(other.name, lost.Kind)
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is a subscriber's bounded queue.
type Subscription struct {
	name  string
	bus   *Bus
	kinds map[Kind]struct{}

	mu      sync.Mutex
	queue   []Event
	head    int
	size    int
	dropped uint64
	closed  bool
	notify  chan struct{}
}

// Name returns the subscriber name.
func (s *Subscription) Name() string {
	return s.name
}

func (s *Subscription) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// push appends ev, evicting the oldest event when full. It reports the
// evicted event and the running drop count.
func (s *Subscription) push(ev Event) (Event, uint64, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, 0, false
	}

	var (
		evicted Event
		didDrop bool
	)
	capacity := len(s.queue)
	if s.size == capacity {
		evicted = s.queue[s.head]
		s.queue[s.head] = Event{}
		s.head = (s.head + 1) % capacity
		s.size--
		s.dropped++
		didDrop = true
	}
	s.queue[(s.head+s.size)%capacity] = ev
	s.size++
	total := s.dropped
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return evicted, total, didDrop
}

// TryNext returns the next queued event without waiting.
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return Event{}, false
	}
	ev := s.queue[s.head]
	s.queue[s.head] = Event{}
	s.head = (s.head + 1) % len(s.queue)
	s.size--
	return ev, true
}

// Next blocks until an event is available, ctx is done or the
// subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.TryNext(); ok {
			return ev, nil
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Wait returns a channel that is signalled when events may be available.
// Used by consumers that multiplex the queue with timers in one select.
func (s *Subscription) Wait() <-chan struct{} {
	return s.notify
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Dropped returns how many events this subscriber has lost to overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. Queued events remain readable until drained.
func (s *Subscription) Close() {
	s.bus.remove(s)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
