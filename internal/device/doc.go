// Package device provides the Device Registry for wirehome.
//
// The registry maps physical bus addresses and channel indices to logical
// roles ("hallway-pir", "kitchen-light") and tracks the bus health of
// every board. It is built from configuration at startup and reconciled in
// one step on reload.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                      Registry (registry.go)                  │
//	│                                                              │
//	│   devices    map[id]*Device          RWMutex: many readers,  │
//	│   byRole     map[role]{id, index}    one writer              │
//	│   byChannel  map[{addr, index}]role                          │
//	│   byAddress  map[addr]id                                     │
//	└──────▲────────────────▲──────────────────────┬───────────────┘
//	       │ LookupByRole   │ TransactionFailed/   │ DeviceHealthChanged
//	       │ Segment        │ TransactionSucceeded ▼
//	  Poller, Dispatcher,   bus.Driver         eventbus
//	  Rule Engine
//
// # Invariants
//
//   - Role names are unique across the registry
//   - (address, channel index) pairs are unique; one address is one device
//   - Conflicting registrations fail with *ConfigError
//
// # Health
//
// Devices start Healthy. An exhausted bus transaction marks a device
// Degraded (Unavailable when it vanished from the bus); the next successful
// transaction restores Healthy. Each real transition publishes exactly one
// DeviceHealthChanged event.
package device
