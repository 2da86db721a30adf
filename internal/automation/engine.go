package automation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/dispatch"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

// Logger defines the logging interface used by the Engine.
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

// Dispatcher accepts actuator commands. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Submit(cmd dispatch.Command) error
	CancelPending(origin string) int
}

// EventBus is the engine's view of the event bus.
type EventBus interface {
	eventbus.Publisher
	Subscribe(name string, capacity int, kinds ...eventbus.Kind) *eventbus.Subscription
}

// subscriberName identifies the engine's queue in overflow diagnostics.
const subscriberName = "automation"

// Engine is the rule engine. A single goroutine (Run) consumes its event
// subscription in delivery order; it alone reads and writes State.
//
// Thread Safety: only Snapshot may be called from other goroutines.
type Engine struct {
	cfg        Config
	roles      RoleLookup
	dispatcher Dispatcher
	bus        EventBus
	creds      CredentialChecker
	logger     Logger
	now        func() time.Time
	capacity   int

	sub   *eventbus.Subscription
	state *State
	snap  atomic.Pointer[Snapshot]
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithQueueCapacity sets the capacity of the engine's event queue.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

// NewEngine validates the rules against the registry and subscribes to the
// events the engine consumes. Events published after NewEngine returns are
// queued until Run starts.
//
// Parameters:
//   - cfg: Rules, location and timing
//   - roles: Role lookup, used to validate rules and detect unknown channels
//   - dispatcher: Receives actuator commands
//   - bus: Event bus to subscribe to and publish on
//   - creds: Disarm credential check (nil rejects every credential)
//
// Returns:
//   - *Engine: Ready to Run
//   - error: ErrInvalidConfig when rules reference missing roles
func NewEngine(cfg Config, roles RoleLookup, dispatcher Dispatcher, bus EventBus, creds CredentialChecker, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(roles); err != nil {
		return nil, err
	}
	if creds == nil {
		creds = StaticCredentials(nil)
	}

	e := &Engine{
		cfg:        cfg,
		roles:      roles,
		dispatcher: dispatcher,
		bus:        bus,
		creds:      creds,
		logger:     noopLogger{},
		now:        time.Now,
		capacity:   eventbus.DefaultCapacity,
		state:      newState(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.sub = bus.Subscribe(subscriberName, e.capacity,
		eventbus.KindStateChanged,
		eventbus.KindArmAlarm,
		eventbus.KindDisarmAlarm,
		eventbus.KindManualOverride,
		eventbus.KindTagScanned,
		eventbus.KindActuationFailed,
	)
	e.publishSnapshot(e.now())
	return e, nil
}

// Run processes events and timers until ctx is cancelled.
//
// Returns nil on cancellation, or an error wrapping ErrUnknownChannel when
// an event names a role the registry never knew. That error is fatal.
// Roles removed by a reload are dropped instead.
func (e *Engine) Run(ctx context.Context) error {
	defer e.sub.Close()

	e.UpdateMode(e.now())

	tick := time.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	solarTick := time.NewTicker(e.cfg.SolarInterval)
	defer solarTick.Stop()

	e.logger.Info("automation engine started",
		"mode", string(e.state.Mode),
		"lighting_rules", len(e.cfg.Lighting),
		"climate_rules", len(e.cfg.Climate),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("automation engine stopped")
			return nil

		case <-e.sub.Wait():
			for {
				ev, ok := e.sub.TryNext()
				if !ok {
					break
				}
				if err := e.Handle(ctx, ev); err != nil {
					e.logger.Error("automation halted", "error", err, "role", ev.ChannelRole, "kind", string(ev.Kind))
					return err
				}
			}

		case <-tick.C:
			e.Tick(e.now())

		case <-solarTick.C:
			e.UpdateMode(e.now())
		}
	}
}

// Snapshot returns the state as of the last processing step.
func (e *Engine) Snapshot() Snapshot {
	return *e.snap.Load()
}

func (e *Engine) publishSnapshot(now time.Time) {
	s := e.state.snapshot(now)
	e.snap.Store(&s)
}

// Handle performs one processing step for ev.
func (e *Engine) Handle(ctx context.Context, ev eventbus.Event) error {
	now := e.now()
	defer e.publishSnapshot(now)

	switch ev.Kind {
	case eventbus.KindStateChanged:
		sc, ok := ev.Payload.(eventbus.StateChange)
		if !ok || sc.Cause == eventbus.CauseManualOverride {
			return nil
		}
		ref, ok, err := e.lookup(ev.ChannelRole)
		if !ok {
			return err
		}
		e.onStateChange(ref, sc, now)

	case eventbus.KindArmAlarm:
		src := ""
		if cmd, ok := ev.Payload.(eventbus.ArmCommand); ok {
			src = cmd.Source
		}
		e.alarmInput(InputArm, "armed by "+sourceOr(src), now)

	case eventbus.KindDisarmAlarm:
		cmd, _ := ev.Payload.(eventbus.DisarmCommand)
		valid, err := e.creds.Verify(ctx, cmd.Credential)
		if err != nil {
			e.logger.Error("credential check failed", "source", cmd.Source, "error", err)
			return nil
		}
		if !valid {
			e.alarmInput(InputInvalidCredential, "invalid credential from "+sourceOr(cmd.Source), now)
			return nil
		}
		e.alarmInput(InputDisarm, "disarmed by "+sourceOr(cmd.Source), now)

	case eventbus.KindTagScanned:
		scan, _ := ev.Payload.(eventbus.TagScan)
		e.onTag(ctx, scan, now)

	case eventbus.KindManualOverride:
		ref, ok, err := e.lookup(ev.ChannelRole)
		if !ok {
			return err
		}
		cmd, _ := ev.Payload.(eventbus.OverrideCommand)
		e.override(ref, cmd, now)

	case eventbus.KindActuationFailed:
		// Forget the output's value so the next rule decision re-issues it.
		if o, ok := e.state.outputs[ev.ChannelRole]; ok {
			o.known = false
		}
	}
	return nil
}

// retiredRoles is implemented by registries that remember roles removed
// by a reload. *device.Registry implements it.
type retiredRoles interface {
	Retired(role string) bool
}

// lookup resolves role. Events for a role removed by a reload are still
// in flight after the swap; they are dropped with a warning. Any other
// unknown role is fatal.
func (e *Engine) lookup(role string) (device.ChannelRef, bool, error) {
	ref, err := e.roles.LookupByRole(role)
	if err == nil {
		return ref, true, nil
	}
	if !errors.Is(err, device.ErrRoleNotFound) {
		return ref, false, err
	}
	if r, ok := e.roles.(retiredRoles); ok && r.Retired(role) {
		e.logger.Warn("event for removed channel dropped", "role", role)
		return ref, false, nil
	}
	return ref, false, fmt.Errorf("%w: %q", ErrUnknownChannel, role)
}

func (e *Engine) onStateChange(ref device.ChannelRef, sc eventbus.StateChange, now time.Time) {
	ch := ref.Channel
	e.onReading(ch.Role, sc.New, now)
	if ch.Class != device.ClassDigital {
		return
	}

	active := sc.New != 0
	if ch.HasTag(TagInvertState) {
		active = !active
	}
	e.onLevel(ch.Role, active, now)

	// A baseline reading is not an edge.
	if sc.Initial || (!active && !ch.HasTag(TagAllChanges)) {
		return
	}
	if active && e.onGateSensor(ch.Role, now) {
		return
	}
	if e.isProtected(ch.Role) {
		e.onAlarmMotion(ch.Role, now)
	}
	e.onMotion(ch, now)
}

// Tick runs timers: light holds, the gate strike and deferred toggles.
func (e *Engine) Tick(now time.Time) {
	defer e.publishSnapshot(now)

	for role, o := range e.state.outputs {
		if o.hasDeferred && now.Sub(o.lastChange) >= e.cfg.MinToggle {
			e.setOutput(role, o.deferred, o.origin, "deferred toggle", now)
		}
		if !o.holdUntil.IsZero() && !now.Before(o.holdUntil) {
			o.holdUntil = time.Time{}
			if !o.allNight && !o.overridden(now) {
				e.setOutput(role, 0, OriginLighting, "hold expired", now)
			}
		}
	}

	if !e.state.GateCloseAt.IsZero() && !now.Before(e.state.GateCloseAt) {
		e.state.GateCloseAt = time.Time{}
		e.forceOutput(e.cfg.Gate.Strike, 0, OriginGate, "gate closed", now)
	}
	if !e.state.GateWindowUntil.IsZero() && !now.Before(e.state.GateWindowUntil) {
		e.state.GateWindowUntil = time.Time{}
		e.logger.Debug("gate window expired unused")
	}
}

// UpdateMode recomputes day/night from the solar altitude.
func (e *Engine) UpdateMode(now time.Time) {
	defer e.publishSnapshot(now)

	alt := e.cfg.Location.Altitude(now)
	mode := ModeDay
	if alt < e.cfg.NightThreshold {
		mode = ModeNight
	}
	if mode == e.state.Mode {
		return
	}
	from := e.state.Mode
	e.state.Mode = mode

	e.logger.Info("automation mode changed", "from", string(from), "to", string(mode), "altitude", alt)
	e.bus.Publish(eventbus.NewEventAt(eventbus.KindModeChanged, eventbus.RoleMode, eventbus.ModeChange{
		From:     string(from),
		To:       string(mode),
		Altitude: alt,
	}, now))

	e.applyAllNight(now)
	if mode == ModeDay {
		e.state.BedroomLatched = false
	}
}

// setOutput asks for role to be driven to v, honouring the minimum toggle
// interval. Unchanged values are not re-sent.
func (e *Engine) setOutput(role string, v float64, origin, reason string, now time.Time) {
	o := e.state.output(role)
	if o.hasDeferred && o.known && o.value == v {
		o.hasDeferred = false
		return
	}
	if o.known && o.value == v && !o.hasDeferred {
		return
	}
	if e.cfg.MinToggle > 0 && o.known && now.Sub(o.lastChange) < e.cfg.MinToggle {
		o.deferred, o.hasDeferred, o.origin = v, true, origin
		e.logger.Debug("toggle deferred", "role", role, "value", v)
		return
	}
	e.send(o, role, v, origin, reason, now)
}

// forceOutput sends v regardless of the last known value or toggle rate.
func (e *Engine) forceOutput(role string, v float64, origin, reason string, now time.Time) {
	if role == "" {
		return
	}
	e.send(e.state.output(role), role, v, origin, reason, now)
}

func (e *Engine) send(o *output, role string, v float64, origin, reason string, now time.Time) {
	o.hasDeferred = false
	o.value, o.known, o.lastChange = v, true, now

	if err := e.dispatcher.Submit(dispatch.NewCommand(role, v, origin, reason, now)); err != nil {
		o.known = false
		e.logger.Warn("command rejected", "role", role, "value", v, "origin", origin, "error", err)
	}
}

func sourceOr(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
