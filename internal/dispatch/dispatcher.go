package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

// Default dispatcher settings.
const (
	DefaultQueueSize       = 32
	DefaultVerifyRetries   = 1
	DefaultShutdownGrace   = 5 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerTimeout  = time.Minute
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BusIO is the bus access used for write and read-back. *bus.Driver
// implements it.
type BusIO interface {
	Read(ctx context.Context, addr bus.Address, channel int) (bus.Value, error)
	Write(ctx context.Context, addr bus.Address, channel int, v bus.Value) error
}

// Registry resolves roles and reports device health. *device.Registry
// implements it.
type Registry interface {
	LookupByRole(role string) (device.ChannelRef, error)
	Health(id string) (device.HealthStatus, error)
}

// Observer receives actuation outcomes.
type Observer interface {
	ObserveActuation(role, outcome string, attempts int, duration time.Duration)
}

// Config holds dispatcher settings.
type Config struct {
	// QueueSize bounds the pending commands per device.
	QueueSize int

	// VerifyRetries is the number of extra write attempts after a read-back
	// mismatch.
	VerifyRetries int

	// BreakerFailures consecutive verify failures on a device open its
	// breaker for BreakerTimeout; writes fail fast meanwhile.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		QueueSize:       DefaultQueueSize,
		VerifyRetries:   DefaultVerifyRetries,
		BreakerFailures: DefaultBreakerFailures,
		BreakerTimeout:  DefaultBreakerTimeout,
	}
}

// Dispatcher serialises commands per physical device and verifies every
// write with a read-back.
//
// Thread Safety: Submit, CancelPending and Shutdown are safe for concurrent
// use. Each device has one worker goroutine; no two writes to one address
// are ever in flight together.
type Dispatcher struct {
	io        BusIO
	registry  Registry
	publisher eventbus.Publisher
	cfg       Config
	logger    Logger
	observer  Observer
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	// queues are keyed by bus address so a device renamed by a reload
	// keeps its single writer.
	queues map[bus.Address]*deviceQueue
	closed bool
	wg     sync.WaitGroup
}

// pending is a resolved command waiting for its device worker.
type pending struct {
	cmd Command
	ref device.ChannelRef
}

type deviceQueue struct {
	addr    bus.Address
	breaker *gobreaker.CircuitBreaker

	// items and inflight are guarded by Dispatcher.mu.
	items    []pending
	inflight *pending
	wake     chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver sets the receiver for actuation outcomes.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. Workers are started lazily per device.
func New(io BusIO, registry Registry, publisher eventbus.Publisher, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.VerifyRetries < 0 {
		cfg.VerifyRetries = 0
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		io:        io,
		registry:  registry,
		publisher: publisher,
		cfg:       cfg,
		logger:    noopLogger{},
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[bus.Address]*deviceQueue),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues a command on its device's worker.
//
// Parameters:
//   - cmd: Target role, value, origin and deadline (zero selects DefaultDeadline)
//
// Returns:
//   - error: device.ErrRoleNotFound, ErrNotOutput, ErrDeviceUnavailable,
//     ErrQueueFull or ErrClosed. Rejections for an unhealthy device are
//     also published as ActuationFailed.
func (d *Dispatcher) Submit(cmd Command) error {
	if cmd.Issued.IsZero() {
		cmd.Issued = d.now()
	}
	if cmd.Deadline.IsZero() {
		cmd.Deadline = cmd.Issued.Add(DefaultDeadline)
	}

	ref, err := d.registry.LookupByRole(cmd.Role)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", cmd.Role, err)
	}
	if ref.Channel.Direction != device.DirectionOutput {
		return fmt.Errorf("%w: %s", ErrNotOutput, cmd.Role)
	}
	if err := d.checkHealth(ref); err != nil {
		d.fail(cmd, ref, 0, err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	q := d.queueLocked(ref.Address)
	if len(q.items) >= d.cfg.QueueSize {
		return fmt.Errorf("%w: %s", ErrQueueFull, ref.DeviceID)
	}
	q.items = append(q.items, pending{cmd: cmd, ref: ref})
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// CancelPending drops queued commands of origin that have not started.
// A command already on the bus completes.
//
// Returns the number of commands dropped.
func (d *Dispatcher) CancelPending(origin string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, q := range d.queues {
		kept := q.items[:0]
		for _, p := range q.items {
			if p.cmd.Origin == origin {
				n++
				continue
			}
			kept = append(kept, p)
		}
		clear(q.items[len(kept):])
		q.items = kept
	}
	if n > 0 {
		d.logger.Info("pending commands cancelled", "origin", origin, "count", n)
	}
	return n
}

// Pending returns the number of queued and in-flight commands.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, q := range d.queues {
		n += len(q.items)
		if q.inflight != nil {
			n++
		}
	}
	return n
}

// Shutdown stops accepting commands and drains the queues. If ctx expires
// first, in-flight bus transactions are aborted and every unfinished
// command is logged as an incomplete write.
//
// Returns ctx.Err() when the drain did not complete.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	for _, q := range d.queues {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	for _, q := range d.queues {
		if q.inflight != nil {
			d.logIncomplete(q.inflight, "aborted in flight")
		}
		for i := range q.items {
			d.logIncomplete(&q.items[i], "not started")
		}
		q.items = nil
	}
	d.mu.Unlock()

	d.cancel()
	<-done
	return ctx.Err()
}

func (d *Dispatcher) logIncomplete(p *pending, state string) {
	d.logger.Warn("incomplete write at shutdown",
		"command_id", p.cmd.ID.String(),
		"role", p.cmd.Role,
		"device_id", p.ref.DeviceID,
		"value", p.cmd.Value,
		"state", state,
	)
}

func (d *Dispatcher) queueLocked(addr bus.Address) *deviceQueue {
	if q, ok := d.queues[addr]; ok {
		return q
	}
	q := &deviceQueue{
		addr: addr,
		wake: make(chan struct{}, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    addr.String(),
			Timeout: d.cfg.BreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(d.cfg.BreakerFailures)
			},
			// Only a relay that will not follow its command trips the
			// breaker; bus faults are tracked by device health.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrVerifyMismatch)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.logger.Warn("actuation breaker state changed", "address", name, "from", from.String(), "to", to.String())
			},
		}),
	}
	d.queues[addr] = q
	d.wg.Add(1)
	go d.worker(q)
	return q
}

func (d *Dispatcher) worker(q *deviceQueue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(q.items) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-d.ctx.Done():
				return
			}
			continue
		}
		p := q.items[0]
		q.items[0] = pending{}
		q.items = q.items[1:]
		q.inflight = &p
		d.mu.Unlock()

		d.execute(q, p)

		d.mu.Lock()
		q.inflight = nil
		d.mu.Unlock()
	}
}

func (d *Dispatcher) execute(q *deviceQueue, p pending) {
	start := d.now()
	if start.After(p.cmd.Deadline) {
		d.fail(p.cmd, p.ref, 0, fmt.Errorf("%w: %s issued %s", ErrDeadlineExceeded, p.cmd.Role, p.cmd.Issued.Format(time.RFC3339)))
		return
	}
	p.ref = d.refresh(p)
	if err := d.checkHealth(p.ref); err != nil {
		d.fail(p.cmd, p.ref, 0, err)
		return
	}

	attempts := 0
	_, err := q.breaker.Execute(func() (any, error) {
		var err error
		attempts, err = d.actuate(p)
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, p.ref.DeviceID, err)
	}

	if d.observer != nil {
		d.observer.ObserveActuation(p.cmd.Role, outcome(err), attempts, d.now().Sub(start))
	}
	if err != nil {
		d.fail(p.cmd, p.ref, attempts, err)
		return
	}

	d.logger.Debug("actuation completed", "role", p.cmd.Role, "value", p.cmd.Value, "attempts", attempts)
	d.publisher.Publish(eventbus.NewEvent(eventbus.KindActuationCompleted, p.cmd.Role, eventbus.ActuationResult{
		CommandID: p.cmd.ID.String(),
		DeviceID:  p.ref.DeviceID,
		Value:     p.cmd.Value,
		Origin:    p.cmd.Origin,
		Reason:    p.cmd.Reason,
		Attempts:  attempts,
	}))
}

// actuate writes and verifies, retrying a mismatch VerifyRetries times.
func (d *Dispatcher) actuate(p pending) (int, error) {
	ctx, cancel := context.WithDeadline(d.ctx, p.cmd.Deadline)
	defer cancel()

	want := bus.Value(p.cmd.Value)
	var (
		got     bus.Value
		lastErr error
	)
	maxAttempts := 1 + d.cfg.VerifyRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.io.Write(ctx, p.ref.Address, p.ref.Channel.Index, want); err != nil {
			return attempt, &ActuationError{Kind: WriteRejected, Role: p.cmd.Role, Want: p.cmd.Value, Attempts: attempt, Err: err}
		}
		v, err := d.io.Read(ctx, p.ref.Address, p.ref.Channel.Index)
		if err == nil && v == want {
			return attempt, nil
		}
		got, lastErr = v, err
		d.logger.Warn("actuation verify mismatch",
			"role", p.cmd.Role,
			"want", p.cmd.Value,
			"got", float64(v),
			"attempt", attempt,
			"error", err,
		)
	}
	return maxAttempts, &ActuationError{
		Kind:     VerifyMismatch,
		Role:     p.cmd.Role,
		Want:     p.cmd.Value,
		Got:      float64(got),
		Attempts: maxAttempts,
		Err:      lastErr,
	}
}

// refresh re-resolves a queued command's role so a device renamed by a
// reload is reported under its new ID. A role now bound to another
// address keeps the queued reference.
func (d *Dispatcher) refresh(p pending) device.ChannelRef {
	ref, err := d.registry.LookupByRole(p.cmd.Role)
	if err != nil || ref.Address != p.ref.Address {
		return p.ref
	}
	return ref
}

func (d *Dispatcher) checkHealth(ref device.ChannelRef) error {
	h, err := d.registry.Health(ref.DeviceID)
	if err != nil {
		return err
	}
	if !h.Usable() {
		return fmt.Errorf("%w: %s is %s", ErrDeviceUnavailable, ref.DeviceID, h)
	}
	return nil
}

func (d *Dispatcher) fail(cmd Command, ref device.ChannelRef, attempts int, err error) {
	d.logger.Warn("actuation failed", "role", cmd.Role, "device_id", ref.DeviceID, "value", cmd.Value, "error", err)
	d.publisher.Publish(eventbus.NewEvent(eventbus.KindActuationFailed, cmd.Role, eventbus.ActuationResult{
		CommandID: cmd.ID.String(),
		DeviceID:  ref.DeviceID,
		Value:     cmd.Value,
		Origin:    cmd.Origin,
		Reason:    cmd.Reason,
		Attempts:  attempts,
		Error:     err.Error(),
		ErrorKind: outcome(err),
	}))
}

// outcome labels an actuation result for events and metrics.
func outcome(err error) string {
	var aerr *ActuationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &aerr):
		return aerr.Kind.String()
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "error"
	}
}
