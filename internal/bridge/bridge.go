package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/wirehome/internal/eventbus"
	"github.com/nerrad567/wirehome/internal/infrastructure/mqtt"
)

// DefaultSource labels commands that arrive without a source field.
const DefaultSource = "mqtt"

var (
	// ErrInvalidPayload is returned when an inbound message cannot be decoded.
	ErrInvalidPayload = errors.New("bridge: invalid payload")

	// ErrUnknownTopic is returned for messages on unrecognised topics.
	ErrUnknownTopic = errors.New("bridge: unknown topic")
)

// OutboundKinds are the event kinds published to the broker.
var OutboundKinds = []eventbus.Kind{
	eventbus.KindStateChanged,
	eventbus.KindDeviceHealthChanged,
	eventbus.KindAlarmStateChanged,
	eventbus.KindActuationFailed,
	eventbus.KindActuationCompleted,
	eventbus.KindModeChanged,
	eventbus.KindLevelChanged,
	eventbus.KindOverflow,
}

// Client is the subset of *mqtt.Client the bridge uses.
type Client interface {
	Topics() mqtt.Topics
	QoS() byte
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Injector accepts validated inbound requests. *remote.Injector
// implements it.
type Injector interface {
	Arm(source string)
	Disarm(credential, source string) error
	Override(role string, value float64, source string) error
	TagScan(tagID, readerID string) error
}

// Logger is the logging interface used by the bridge.
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

// Bridge relays events between the bus and an MQTT broker.
type Bridge struct {
	client Client
	topics mqtt.Topics
	inject Injector
	logger Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge. Call Start to subscribe to inbound topics and Run
// to relay outbound events.
func New(client Client, inject Injector, opts ...Option) *Bridge {
	b := &Bridge{
		client: client,
		topics: client.Topics(),
		inject: inject,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to command and RFID topics. The MQTT client restores
// the subscriptions after a reconnect.
func (b *Bridge) Start() error {
	for _, topic := range []string{b.topics.AllCommands(), b.topics.AllTagScans()} {
		if err := b.client.Subscribe(topic, b.client.QoS(), b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		b.logger.Info("subscribed", "topic", topic)
	}
	return nil
}

// Run publishes events from sub until ctx ends. Publish failures are
// logged and do not stop the relay.
func (b *Bridge) Run(ctx context.Context, sub *eventbus.Subscription) {
	defer sub.Close()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := b.PublishEvent(ev); err != nil {
			b.logger.Warn("event publish failed", "kind", ev.Kind, "role", ev.ChannelRole, "error", err)
		}
	}
}

// PublishEvent publishes ev on its event topic and refreshes the matching
// retained topic.
func (b *Bridge) PublishEvent(ev eventbus.Event) error {
	role := ev.ChannelRole
	if role == "" {
		role = "_"
	}
	errs := []error{b.client.PublishJSON(b.topics.Event(string(ev.Kind), role), ev, false)}

	if topic, msg, ok := b.retained(ev); ok {
		errs = append(errs, b.client.PublishJSON(topic, msg, true))
	}
	return errors.Join(errs...)
}

func (b *Bridge) retained(ev eventbus.Event) (string, any, bool) {
	switch p := ev.Payload.(type) {
	case eventbus.StateChange:
		return b.topics.State(ev.ChannelRole), stateMessage{
			Value:     p.New,
			Source:    string(p.Cause),
			Timestamp: ev.Timestamp,
		}, true
	case eventbus.ActuationResult:
		if ev.Kind != eventbus.KindActuationCompleted {
			return "", nil, false
		}
		return b.topics.State(ev.ChannelRole), stateMessage{
			Value:     p.Value,
			Source:    p.Origin,
			Timestamp: ev.Timestamp,
		}, true
	case eventbus.AlarmChange:
		return b.topics.Alarm(), alarmMessage{State: p.To, Reason: p.Reason, Timestamp: ev.Timestamp}, true
	case eventbus.ModeChange:
		return b.topics.Mode(), modeMessage{Mode: p.To, Altitude: p.Altitude, Timestamp: ev.Timestamp}, true
	case eventbus.LevelChange:
		return b.topics.Level(p.Name), levelMessage{
			Percent:   p.Percent,
			Active:    p.Active,
			Total:     p.Total,
			Timestamp: ev.Timestamp,
		}, true
	case eventbus.HealthChange:
		return b.topics.Health(p.DeviceID), healthMessage{
			Status:    p.New,
			Address:   p.Address,
			Reason:    p.Reason,
			Timestamp: ev.Timestamp,
		}, true
	}
	return "", nil, false
}

// HandleMessage routes one inbound message. It is registered with the
// MQTT client for the command and RFID wildcards.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	parts := b.topics.Tail(topic)
	if len(parts) < 2 {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch {
	case parts[0] == "rfid" && len(parts) == 2:
		return b.handleTagScan(parts[1], payload)
	case parts[0] == "command" && len(parts) == 2 && parts[1] == "arm":
		var req armRequest
		if err := decodeOptional(payload, &req); err != nil {
			return err
		}
		b.inject.Arm(sourceOr(req.Source))
		b.logger.Info("arm requested", "source", sourceOr(req.Source))
		return nil
	case parts[0] == "command" && len(parts) == 2 && parts[1] == "disarm":
		var req disarmRequest
		if err := decodeOptional(payload, &req); err != nil {
			return err
		}
		// The credential is never logged.
		b.logger.Info("disarm requested", "source", sourceOr(req.Source))
		return b.inject.Disarm(req.Credential, sourceOr(req.Source))
	case parts[0] == "command" && len(parts) == 3 && parts[1] == "override":
		req, err := parseOverride(payload)
		if err != nil {
			return err
		}
		b.logger.Info("override requested", "role", parts[2], "value", *req.Value, "source", sourceOr(req.Source))
		return b.inject.Override(parts[2], *req.Value, sourceOr(req.Source))
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func (b *Bridge) handleTagScan(readerID string, payload []byte) error {
	var msg tagScanMessage
	if err := decodeOptional(payload, &msg); err != nil {
		return err
	}
	b.logger.Debug("tag scanned", "reader", readerID)
	return b.inject.TagScan(msg.TagID, readerID)
}

func sourceOr(s string) string {
	if s == "" {
		return DefaultSource
	}
	return s
}
