package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

var (
	// ErrUnknownRole is returned when an override names no configured channel.
	ErrUnknownRole = errors.New("remote: unknown channel role")

	// ErrNotOutput is returned when an override names an input channel.
	ErrNotOutput = errors.New("remote: channel is not an output")

	// ErrInvalidValue is returned for override values other than 0 and 1.
	ErrInvalidValue = errors.New("remote: override value must be 0 or 1")

	// ErrEmptyCredential is returned for a disarm request without a credential.
	ErrEmptyCredential = errors.New("remote: empty credential")

	// ErrEmptyTag is returned for a tag scan without a tag ID.
	ErrEmptyTag = errors.New("remote: empty tag id")
)

// Publisher accepts events. *eventbus.Bus implements it.
type Publisher interface {
	Publish(ev eventbus.Event)
}

// Roles resolves channel roles. *device.Registry implements it.
type Roles interface {
	LookupByRole(role string) (device.ChannelRef, error)
}

// Injector turns validated requests into inbound events.
type Injector struct {
	bus   Publisher
	roles Roles
	now   func() time.Time
}

// NewInjector creates an injector publishing to bus.
func NewInjector(bus Publisher, roles Roles) *Injector {
	return &Injector{bus: bus, roles: roles, now: time.Now}
}

// Arm requests the alarm be armed.
func (in *Injector) Arm(source string) {
	in.publish(eventbus.KindArmAlarm, eventbus.RoleAlarm, eventbus.ArmCommand{Source: source})
}

// Disarm requests the alarm be disarmed with credential.
func (in *Injector) Disarm(credential, source string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrEmptyCredential
	}
	in.publish(eventbus.KindDisarmAlarm, eventbus.RoleAlarm, eventbus.DisarmCommand{
		Credential: credential,
		Source:     source,
	})
	return nil
}

// Override requests an output be forced to value.
func (in *Injector) Override(role string, value float64, source string) error {
	if value != 0 && value != 1 {
		return ErrInvalidValue
	}
	ref, err := in.roles.LookupByRole(role)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if ref.Channel.Direction != device.DirectionOutput {
		return fmt.Errorf("%w: %q", ErrNotOutput, role)
	}
	in.publish(eventbus.KindManualOverride, role, eventbus.OverrideCommand{Value: value, Source: source})
	return nil
}

// TagScan reports an RFID tag presented at a reader.
func (in *Injector) TagScan(tagID, readerID string) error {
	if strings.TrimSpace(tagID) == "" {
		return ErrEmptyTag
	}
	in.publish(eventbus.KindTagScanned, "", eventbus.TagScan{TagID: tagID, ReaderID: readerID})
	return nil
}

func (in *Injector) publish(kind eventbus.Kind, role string, payload any) {
	in.bus.Publish(eventbus.NewEventAt(kind, role, payload, in.now()))
}
