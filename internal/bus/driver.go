package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default driver settings.
const (
	DefaultMaxAttempts        = 3
	DefaultInitialBackoff     = 50 * time.Millisecond
	DefaultMaxBackoff         = time.Second
	DefaultTransactionTimeout = 2 * time.Second
)

// Logger defines the logging interface used by the Driver.
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

// HealthSink receives the outcome of every completed operation. The device
// registry implements it to track Healthy/Degraded transitions.
type HealthSink interface {
	TransactionFailed(addr Address, err *BusError)
	TransactionSucceeded(addr Address)
}

// Observer receives per-transaction statistics (attempts used, final error).
type Observer interface {
	ObserveTransaction(op Op, attempts int, err error)
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of tries per transaction.
	MaxAttempts int

	// InitialBackoff and MaxBackoff bound the exponential delay between tries.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// TransactionTimeout bounds a single try.
	TransactionTimeout time.Duration
}

// DefaultConfig returns the default retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        DefaultMaxAttempts,
		InitialBackoff:     DefaultInitialBackoff,
		MaxBackoff:         DefaultMaxBackoff,
		TransactionTimeout: DefaultTransactionTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = d.TransactionTimeout
	}
	return c
}

// Stats holds driver counters.
type Stats struct {
	Transactions uint64
	Retries      uint64
	Failures     uint64
}

// Driver executes verified, retried transactions over a Transport.
//
// Read and Write are safe for concurrent use. The driver does not
// serialise writes per device; callers that share a device must.
type Driver struct {
	transport Transport
	cfg       Config
	health    HealthSink
	observer  Observer
	logger    Logger

	transactions atomic.Uint64
	retries      atomic.Uint64
	failures     atomic.Uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithHealthSink sets the receiver for health outcomes.
func WithHealthSink(h HealthSink) Option {
	return func(d *Driver) { d.health = h }
}

// WithObserver sets the receiver for transaction statistics.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// WithLogger sets the driver logger.
func WithLogger(l Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a driver over transport.
func NewDriver(transport Transport, cfg Config, opts ...Option) *Driver {
	d := &Driver{
		transport: transport,
		cfg:       cfg.withDefaults(),
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Read returns the current value of a channel.
//
// Parameters:
//   - ctx: Cancels the transaction and any pending retry
//   - addr: Device address; its family selects the board codec
//   - channel: Channel index on the board
//
// Returns:
//   - Value: Decoded channel value
//   - error: *BusError after exhausted retries, or a codec error
func (d *Driver) Read(ctx context.Context, addr Address, channel int) (Value, error) {
	board, err := BoardFor(addr.Family)
	if err != nil {
		return 0, err
	}
	readable, ok := board.(Readable)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not readable", ErrUnsupportedBoard, board.Type())
	}
	if err := checkChannel(board, channel); err != nil {
		return 0, err
	}

	frame, err := d.transact(ctx, Request{Addr: addr, Op: OpRead})
	if err != nil {
		return 0, err
	}
	return readable.Decode(channel, frame)
}

// Write sets an output channel. A nil error is the bus acknowledgement;
// it does not verify the output (see dispatch for read-back).
func (d *Driver) Write(ctx context.Context, addr Address, channel int, v Value) error {
	board, err := BoardFor(addr.Family)
	if err != nil {
		return err
	}
	writable, ok := board.(Writable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWritable, board.Type())
	}
	if err := checkChannel(board, channel); err != nil {
		return err
	}

	current, err := d.transact(ctx, Request{Addr: addr, Op: OpRead})
	if err != nil {
		return err
	}
	payload, err := writable.Encode(channel, current, v)
	if err != nil {
		return err
	}
	_, err = d.transact(ctx, Request{Addr: addr, Op: OpWrite, Payload: payload})
	return err
}

// Stats returns a snapshot of the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Transactions: d.transactions.Load(),
		Retries:      d.retries.Load(),
		Failures:     d.failures.Load(),
	}
}

// transact runs one transaction with a bounded number of attempts. Delays
// between attempts grow exponentially. A missing device is not retried,
// and cancellation of ctx aborts without a health report since the device
// did nothing wrong.
func (d *Driver) transact(ctx context.Context, req Request) (Frame, error) {
	d.transactions.Add(1)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxInterval = d.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	var (
		lastErr  error
		attempts int
	)
	for attempts = 1; attempts <= d.cfg.MaxAttempts; attempts++ {
		frame, err := d.attempt(ctx, req)
		if err == nil {
			d.observe(req.Op, attempts, nil)
			if d.health != nil {
				d.health.TransactionSucceeded(req.Addr)
			}
			return frame, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, ErrDeviceAbsent) || attempts == d.cfg.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		d.logger.Debug("bus transaction retry",
			"addr", req.Addr.String(),
			"op", req.Op.String(),
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
		d.retries.Add(1)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	if attempts > d.cfg.MaxAttempts {
		attempts = d.cfg.MaxAttempts
	}

	berr := &BusError{
		Kind:     classify(lastErr),
		Addr:     req.Addr,
		Op:       req.Op,
		Attempts: attempts,
		Err:      lastErr,
	}
	if ctx.Err() != nil {
		berr.Kind = KindTimeout
		berr.Err = fmt.Errorf("%w: %w", lastErr, ctx.Err())
		d.observe(req.Op, attempts, berr)
		return Frame{}, berr
	}

	d.failures.Add(1)
	d.observe(req.Op, attempts, berr)
	d.logger.Warn("bus transaction failed",
		"addr", req.Addr.String(),
		"op", req.Op.String(),
		"kind", berr.Kind.String(),
		"attempts", attempts,
		"error", lastErr,
	)
	if d.health != nil {
		d.health.TransactionFailed(req.Addr, berr)
	}
	return Frame{}, berr
}

func (d *Driver) attempt(ctx context.Context, req Request) (Frame, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.TransactionTimeout)
	defer cancel()

	frame, err := d.transport.Transfer(actx, req)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			return Frame{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Frame{}, err
	}
	if err := frame.Verify(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (d *Driver) observe(op Op, attempts int, err error) {
	if d.observer != nil {
		d.observer.ObserveTransaction(op, attempts, err)
	}
}
