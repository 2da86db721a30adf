package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

type addrKey struct {
	addr    bus.Address
	channel int
}

type roleEntry struct {
	deviceID string
	index    int
}

// Registry is the catalogue of devices and channel roles.
//
// Reads are safe for any number of concurrent callers; mutations hold the
// write lock, so there is a single writer at a time. Returned devices are
// deep copies and may be modified freely.
//
// Registry implements bus.HealthSink: the driver reports transaction
// outcomes and the registry publishes a DeviceHealthChanged event whenever
// a device's health actually changes.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	byRole    map[string]roleEntry
	byChannel map[addrKey]string
	byAddress map[bus.Address]string

	// retired holds roles removed by Unregister or Reconcile until a
	// device binds them again.
	retired map[string]struct{}

	logger    Logger
	publisher eventbus.Publisher
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[string]*Device),
		byRole:    make(map[string]roleEntry),
		byChannel: make(map[addrKey]string),
		byAddress: make(map[bus.Address]string),
		retired:   make(map[string]struct{}),
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher sets where health change events are published.
func (r *Registry) SetPublisher(p eventbus.Publisher) {
	r.publisher = p
}

// Register adds a device and indexes its channel roles.
//
// Returns:
//   - ErrInvalidDevice wrapped with details when validation fails
//   - *ConfigError{DuplicateRole} when a role is already taken
//   - *ConfigError{DuplicateAddress} when an address/channel pair is taken
//   - ErrDuplicateDevice when the ID is already registered
func (r *Registry) Register(dev Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	if dev.Health == "" {
		dev.Health = HealthHealthy
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkConflicts(&dev, r.devices, r.byRole, r.byChannel, r.byAddress); err != nil {
		return err
	}
	r.index(dev.DeepCopy(), r.devices, r.byRole, r.byChannel, r.byAddress)
	for _, ch := range dev.Channels {
		delete(r.retired, ch.Role)
	}

	r.logger.Debug("device registered", "device_id", dev.ID, "address", dev.Address.String(), "channels", len(dev.Channels))
	return nil
}

// Unregister removes a device and releases its roles.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	for _, ch := range dev.Channels {
		delete(r.byRole, ch.Role)
		delete(r.byChannel, addrKey{addr: dev.Address, channel: ch.Index})
		r.retired[ch.Role] = struct{}{}
	}
	delete(r.byAddress, dev.Address)
	delete(r.devices, id)

	r.logger.Debug("device unregistered", "device_id", id)
	return nil
}

// Retired reports whether role was bound to a device that has since been
// removed and is not bound again.
func (r *Registry) Retired(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.retired[role]
	return ok
}

// LookupByRole finds the channel bound to a role.
func (r *Registry) LookupByRole(role string) (ChannelRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byRole[role]
	if !ok {
		return ChannelRef{}, fmt.Errorf("%w: %q", ErrRoleNotFound, role)
	}
	return r.refLocked(entry.deviceID, entry.index)
}

// LookupByAddress finds the channel at an address and index.
func (r *Registry) LookupByAddress(addr bus.Address, channel int) (ChannelRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.byChannel[addrKey{addr: addr, channel: channel}]
	if !ok {
		return ChannelRef{}, fmt.Errorf("%w: %s channel %d", ErrChannelNotFound, addr, channel)
	}
	entry := r.byRole[role]
	return r.refLocked(entry.deviceID, entry.index)
}

func (r *Registry) refLocked(deviceID string, index int) (ChannelRef, error) {
	dev := r.devices[deviceID]
	ch, ok := dev.Channel(index)
	if !ok {
		return ChannelRef{}, fmt.Errorf("%w: %s channel %d", ErrChannelNotFound, deviceID, index)
	}
	ch.Tags = append([]string(nil), ch.Tags...)
	return ChannelRef{
		DeviceID: dev.ID,
		Segment:  dev.Segment,
		Address:  dev.Address,
		Channel:  ch,
	}, nil
}

// CapabilitiesOf returns the capability set of a device.
func (r *Registry) CapabilitiesOf(id string) ([]Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev.Capabilities(), nil
}

// Device returns a copy of a device by ID.
func (r *Registry) Device(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev.DeepCopy(), nil
}

// Devices returns copies of all devices ordered by ID.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(*Device) bool { return true })
}

// Segment returns copies of the devices on a bus segment ordered by ID.
func (r *Registry) Segment(name string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(func(d *Device) bool { return d.Segment == name })
}

func (r *Registry) collectLocked(keep func(*Device) bool) []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if keep(d) {
			out = append(out, *d.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Roles returns all registered role names, sorted.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byRole))
	for role := range r.byRole {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Health returns the current health of a device.
func (r *Registry) Health(id string) (HealthStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev.Health, nil
}

// SetHealth updates the health of the device at addr. It returns true and
// publishes a DeviceHealthChanged event only when the status changes. The
// event is published under the lock so that concurrent reporters cannot
// reorder transitions of one device.
func (r *Registry) SetHealth(addr bus.Address, status HealthStatus, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byAddress[addr]
	if !ok {
		return false
	}
	dev := r.devices[id]
	old := dev.Health
	if old == status {
		return false
	}
	dev.Health = status
	dev.HealthChanged = r.now()

	r.logger.Info("device health changed",
		"device_id", id,
		"address", addr.String(),
		"from", string(old),
		"to", string(status),
		"reason", reason,
	)
	if r.publisher != nil {
		r.publisher.Publish(eventbus.NewEventAt(eventbus.KindDeviceHealthChanged, id, eventbus.HealthChange{
			DeviceID: id,
			Address:  addr.String(),
			Old:      string(old),
			New:      string(status),
			Reason:   reason,
		}, dev.HealthChanged))
	}
	return true
}

// TransactionFailed implements bus.HealthSink. A missing device becomes
// Unavailable; any other exhausted transaction marks it Degraded.
func (r *Registry) TransactionFailed(addr bus.Address, err *bus.BusError) {
	status := HealthDegraded
	if errors.Is(err, bus.ErrDeviceAbsent) {
		status = HealthUnavailable
	}
	r.SetHealth(addr, status, err.Kind.String())
}

// TransactionSucceeded implements bus.HealthSink.
func (r *Registry) TransactionSucceeded(addr bus.Address) {
	r.SetHealth(addr, HealthHealthy, "transaction succeeded")
}

// Reconcile replaces the registered set with devs in one step, as done on
// configuration reload. Devices that keep their ID and address retain
// their health. On any conflict the registry is left unchanged.
//
// Returns the IDs added and removed.
func (r *Registry) Reconcile(devs []Device) (added, removed []string, err error) {
	for i := range devs {
		if err := devs[i].Validate(); err != nil {
			return nil, nil, err
		}
	}

	devices := make(map[string]*Device, len(devs))
	byRole := make(map[string]roleEntry)
	byChannel := make(map[addrKey]string)
	byAddress := make(map[bus.Address]string, len(devs))

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range devs {
		dev := devs[i].DeepCopy()
		if err := r.checkConflicts(dev, devices, byRole, byChannel, byAddress); err != nil {
			return nil, nil, err
		}
		if prev, ok := r.devices[dev.ID]; ok && prev.Address == dev.Address {
			dev.Health = prev.Health
			dev.HealthChanged = prev.HealthChanged
		} else {
			if dev.Health == "" {
				dev.Health = HealthHealthy
			}
			added = append(added, dev.ID)
		}
		r.index(dev, devices, byRole, byChannel, byAddress)
	}
	for id := range r.devices {
		if _, ok := devices[id]; !ok {
			removed = append(removed, id)
		}
	}

	for role := range r.byRole {
		if _, ok := byRole[role]; !ok {
			r.retired[role] = struct{}{}
		}
	}
	for role := range byRole {
		delete(r.retired, role)
	}

	r.devices, r.byRole, r.byChannel, r.byAddress = devices, byRole, byChannel, byAddress
	sort.Strings(added)
	sort.Strings(removed)
	r.logger.Info("device registry reconciled", "devices", len(devices), "added", len(added), "removed", len(removed))
	return added, removed, nil
}

func (r *Registry) checkConflicts(dev *Device, devices map[string]*Device, byRole map[string]roleEntry, byChannel map[addrKey]string, byAddress map[bus.Address]string) error {
	if _, ok := devices[dev.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, dev.ID)
	}
	// One physical board is one device, even if the channel sets differ.
	if existing, ok := byAddress[dev.Address]; ok {
		ch := 0
		if len(dev.Channels) > 0 {
			ch = dev.Channels[0].Index
		}
		return &ConfigError{
			Kind:     DuplicateAddress,
			DeviceID: dev.ID,
			Address:  dev.Address.String(),
			Channel:  ch,
			Existing: existing,
		}
	}

	roles := make(map[string]bool, len(dev.Channels))
	for _, ch := range dev.Channels {
		if existing, ok := byRole[ch.Role]; ok {
			return &ConfigError{Kind: DuplicateRole, DeviceID: dev.ID, Role: ch.Role, Existing: existing.deviceID}
		}
		if roles[ch.Role] {
			return &ConfigError{Kind: DuplicateRole, DeviceID: dev.ID, Role: ch.Role, Existing: dev.ID}
		}
		roles[ch.Role] = true

		key := addrKey{addr: dev.Address, channel: ch.Index}
		if role, ok := byChannel[key]; ok {
			return &ConfigError{
				Kind:     DuplicateAddress,
				DeviceID: dev.ID,
				Address:  dev.Address.String(),
				Channel:  ch.Index,
				Existing: byRole[role].deviceID,
			}
		}
	}
	return nil
}

func (r *Registry) index(dev *Device, devices map[string]*Device, byRole map[string]roleEntry, byChannel map[addrKey]string, byAddress map[bus.Address]string) {
	devices[dev.ID] = dev
	byAddress[dev.Address] = dev.ID
	for _, ch := range dev.Channels {
		byRole[ch.Role] = roleEntry{deviceID: dev.ID, index: ch.Index}
		byChannel[addrKey{addr: dev.Address, channel: ch.Index}] = ch.Role
	}
}
