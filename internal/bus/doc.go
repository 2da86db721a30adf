// Package bus implements the one-wire transport driver for wirehome.
//
// It performs raw read/write transactions against sensor and actuator
// boards on a one-wire segment, verifies the integrity of every frame,
// retries failed transactions with bounded exponential backoff and reports
// device health to the registry.
//
// # Architecture
//
//	┌──────────────┐  Read/Write  ┌──────────────────────────────┐
//	│ Poller /     │─────────────►│ Driver (driver.go)           │
//	│ Dispatcher   │◄─────────────│  - board codec (board.go)    │
//	└──────────────┘ Value/error  │  - Frame.Verify (frame.go)   │
//	                              │  - bounded retry + backoff   │
//	                              └──────────────┬───────────────┘
//	                                             │ Transfer
//	                     ┌───────────────────────┴──────────────┐
//	                     ▼                                      ▼
//	          ┌─────────────────────┐              ┌─────────────────────┐
//	          │ SysfsTransport      │              │ MemoryTransport     │
//	          │ /sys/bus/w1/devices │              │ simulated boards    │
//	          └─────────────────────┘              └─────────────────────┘
//
// # Boards
//
// Board variants form a closed set, each identified by its one-wire family
// code:
//
//   - DigitalIOPair (DS2413, 0x3a): two sensor inputs, PIOA and PIOB
//   - RelayBank (DS2408, 0x29): eight active-low relay outputs
//   - TemperatureProbe (DS18B20 0x28, DS18S20 0x10)
//   - HumidityProbe (DS2438, 0x26): relative humidity and temperature
//
// Capabilities are expressed through the Readable and Writable interfaces.
//
// # Integrity
//
// Every frame carries a Check describing how it is verified: Dallas CRC-8
// over the scratchpad, the complemented nibble of a PIO status byte, or a
// check already performed by the kernel driver (an EIO on transfer).
//
// # Thread Safety
//
// Driver and both transports are safe for concurrent use. Serialising
// writes to one device is the caller's responsibility (see package
// dispatch).
package bus
