package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

// Default scheduling settings.
const (
	DefaultInterval            = time.Second
	DefaultDegradedProbeStart  = 10 * time.Second
	DefaultDegradedProbeMax    = 5 * time.Minute
	defaultDegradedProbeFactor = 2.0
)

// Logger defines the logging interface used by the Poller.
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

// Reader reads one channel from the bus. *bus.Driver implements it.
type Reader interface {
	Read(ctx context.Context, addr bus.Address, channel int) (bus.Value, error)
}

// DeviceSource lists the devices of a segment. *device.Registry implements it.
type DeviceSource interface {
	Segment(name string) []device.Device
}

// Observer receives per-cycle statistics.
type Observer interface {
	ObserveCycle(segment string, duration time.Duration, reads, failures, skipped int)
}

// Segment is one physical bus segment and its poll interval.
type Segment struct {
	Name     string
	Interval time.Duration
}

// Config holds poller settings.
type Config struct {
	Segments []Segment

	// Debounce holds per-class defaults; channels may override K.
	Debounce map[device.Class]ClassDebounce

	// DegradedProbeStart and DegradedProbeMax bound the exponential
	// schedule on which unhealthy devices are re-read.
	DegradedProbeStart time.Duration
	DegradedProbeMax   time.Duration
}

// Poller scans every configured segment on its own schedule and publishes
// debounced state changes.
type Poller struct {
	reader    Reader
	devices   DeviceSource
	publisher eventbus.Publisher
	cfg       Config
	logger    Logger
	observer  Observer
	now       func() time.Time

	segments []*segmentState
}

// segmentState is owned by the segment's goroutine.
type segmentState struct {
	Segment
	channels map[channelKey]*debouncer
	probes   map[string]*probe
}

type channelKey struct {
	addr    bus.Address
	channel int
}

// probe schedules re-reads of an unhealthy device.
type probe struct {
	schedule *backoff.ExponentialBackOff
	next     time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the poller logger.
func WithLogger(l Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithObserver sets the receiver for cycle statistics.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a poller.
//
// Parameters:
//   - reader: Bus access for channel reads
//   - devices: Registry snapshot source, queried every cycle so hot-reloaded
//     devices are picked up without restart
//   - publisher: Receives StateChanged events
//   - cfg: Segments, debounce defaults and degraded probe schedule
func New(reader Reader, devices DeviceSource, publisher eventbus.Publisher, cfg Config, opts ...Option) *Poller {
	if cfg.Debounce == nil {
		cfg.Debounce = DefaultDebounce()
	}
	if cfg.DegradedProbeStart <= 0 {
		cfg.DegradedProbeStart = DefaultDegradedProbeStart
	}
	if cfg.DegradedProbeMax < cfg.DegradedProbeStart {
		cfg.DegradedProbeMax = max(DefaultDegradedProbeMax, cfg.DegradedProbeStart)
	}

	p := &Poller{
		reader:    reader,
		devices:   devices,
		publisher: publisher,
		cfg:       cfg,
		logger:    noopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, seg := range cfg.Segments {
		if seg.Interval <= 0 {
			seg.Interval = DefaultInterval
		}
		p.segments = append(p.segments, &segmentState{
			Segment:  seg,
			channels: make(map[channelKey]*debouncer),
			probes:   make(map[string]*probe),
		})
	}
	return p
}

// Run starts one goroutine per segment and blocks until ctx is cancelled
// and every segment loop has finished its current cycle.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, s := range p.segments {
		wg.Add(1)
		go func(s *segmentState) {
			defer wg.Done()
			p.loop(ctx, s)
		}(s)
	}
	p.logger.Info("poller started", "segments", len(p.segments))
	wg.Wait()
	p.logger.Info("poller stopped")
	return nil
}

func (p *Poller) loop(ctx context.Context, s *segmentState) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		// Cycles run to completion; cancellation is only observed between
		// them. In-cycle reads use a detached context bounded by the
		// driver's transaction timeout.
		p.cycle(context.WithoutCancel(ctx), s)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle performs one scan of a segment.
func (p *Poller) cycle(ctx context.Context, s *segmentState) {
	start := p.now()
	var reads, failures, skipped int
	seen := make(map[channelKey]bool)
	present := make(map[string]bool)

	for _, dev := range p.devices.Segment(s.Name) {
		present[dev.ID] = true
		for _, ch := range dev.Channels {
			seen[channelKey{addr: dev.Address, channel: ch.Index}] = true
		}

		if !dev.Health.Usable() {
			if !p.probeDue(s, dev, start) {
				skipped++
				continue
			}
			reads++
			if !p.probe(ctx, s, dev) {
				failures++
				continue
			}
			// Recovered; polled normally from the next cycle.
			continue
		}
		delete(s.probes, dev.ID)

		for _, ch := range dev.Channels {
			if ch.Direction != device.DirectionInput {
				continue
			}
			key := channelKey{addr: dev.Address, channel: ch.Index}
			reads++
			v, err := p.reader.Read(ctx, dev.Address, ch.Index)
			if err != nil {
				failures++
				p.logger.Debug("channel read failed", "segment", s.Name, "role", ch.Role, "error", err)
				var busErr *bus.BusError
				if errors.As(err, &busErr) || errors.Is(err, bus.ErrDeviceAbsent) {
					// Retries are spent and the device is now unhealthy:
					// leave the rest of the board for the probe schedule.
					p.interrupt(s, dev.Address, -1)
					break
				}
				p.interrupt(s, dev.Address, ch.Index)
				continue
			}
			p.accept(s, dev, ch, key, float64(v))
		}
	}

	for key := range s.channels {
		if !seen[key] {
			delete(s.channels, key)
		}
	}
	for id := range s.probes {
		if !present[id] {
			delete(s.probes, id)
		}
	}

	if p.observer != nil {
		p.observer.ObserveCycle(s.Name, p.now().Sub(start), reads, failures, skipped)
	}
}

func (p *Poller) accept(s *segmentState, dev device.Device, ch device.Channel, key channelKey, raw float64) {
	db, ok := s.channels[key]
	if !ok {
		db = p.newDebouncer(ch)
		s.channels[key] = db
	}

	r := Reading{Raw: raw, Timestamp: p.now()}
	changed, old, initial := db.observe(&r)
	if !changed {
		return
	}

	p.publisher.Publish(eventbus.NewEventAt(eventbus.KindStateChanged, ch.Role, eventbus.StateChange{
		DeviceID: dev.ID,
		Channel:  ch.Index,
		Old:      old,
		New:      r.Value,
		Initial:  initial,
		Cause:    eventbus.CausePoll,
	}, r.Timestamp))
}

func (p *Poller) newDebouncer(ch device.Channel) *debouncer {
	def := p.cfg.Debounce[ch.Class]
	k := def.K
	if ch.Debounce > 0 {
		k = ch.Debounce
	}
	return newDebouncer(k, def.Resolution)
}

// probeDue reports whether an unhealthy device should be re-read now,
// starting its schedule on first sight.
func (p *Poller) probeDue(s *segmentState, dev device.Device, now time.Time) bool {
	pr, ok := s.probes[dev.ID]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.DegradedProbeStart
		b.MaxInterval = p.cfg.DegradedProbeMax
		b.Multiplier = defaultDegradedProbeFactor
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()

		pr = &probe{schedule: b, next: now.Add(b.NextBackOff())}
		s.probes[dev.ID] = pr
		p.logger.Info("device skipped until probe", "device_id", dev.ID, "health", string(dev.Health), "probe_at", pr.next)
		return false
	}
	return !now.Before(pr.next)
}

// probe reads the first channel of an unhealthy device. A successful read
// restores health through the driver's health sink.
func (p *Poller) probe(ctx context.Context, s *segmentState, dev device.Device) bool {
	ch := 0
	if len(dev.Channels) > 0 {
		ch = dev.Channels[0].Index
	}
	pr := s.probes[dev.ID]

	if _, err := p.reader.Read(ctx, dev.Address, ch); err != nil {
		pr.next = p.now().Add(pr.schedule.NextBackOff())
		p.logger.Debug("degraded probe failed", "device_id", dev.ID, "next", pr.next, "error", err)
		return false
	}
	delete(s.probes, dev.ID)
	// Samples before the outage do not count towards debounce.
	p.interrupt(s, dev.Address, -1)
	p.logger.Info("degraded probe succeeded", "device_id", dev.ID)
	return true
}

// interrupt breaks the run of consecutive samples of one channel, or of
// every channel at addr when channel is negative.
func (p *Poller) interrupt(s *segmentState, addr bus.Address, channel int) {
	for key, db := range s.channels {
		if key.addr == addr && (channel < 0 || key.channel == channel) {
			db.miss()
		}
	}
}
