package bus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// MemoryTransport simulates one-wire boards in memory. It backs the
// "memory" bus backend for bench setups without hardware and is the fake
// used throughout the test suites.
//
// Thread Safety: all methods are safe for concurrent use.
type MemoryTransport struct {
	mu          sync.Mutex
	devices     map[Address]*memDevice
	faults      map[Address][]error
	latency     time.Duration
	transfers   int
	writeFilter map[Address]func([]byte) []byte
}

type memDevice struct {
	payload []byte
}

// NewMemoryTransport creates an empty simulated bus.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		devices:     make(map[Address]*memDevice),
		faults:      make(map[Address][]error),
		writeFilter: make(map[Address]func([]byte) []byte),
	}
}

// Attach places a device on the bus with the given raw payload. A nil
// payload seeds the board's idle state.
func (m *MemoryTransport) Attach(addr Address, payload []byte) {
	if payload == nil {
		payload = idlePayload(addr.Family)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[addr] = &memDevice{payload: append([]byte(nil), payload...)}
}

// Detach removes a device, so that transfers fail with ErrDeviceAbsent.
func (m *MemoryTransport) Detach(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, addr)
}

// SetPayload replaces the raw state of an attached device.
func (m *MemoryTransport) SetPayload(addr Address, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[addr]; ok {
		d.payload = append([]byte(nil), payload...)
	}
}

// Payload returns a copy of a device's raw state.
func (m *MemoryTransport) Payload(addr Address) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[addr]; ok {
		return append([]byte(nil), d.payload...)
	}
	return nil
}

// InjectFaults queues errors returned by the next transfers to addr, one
// per transfer, before normal operation resumes.
func (m *MemoryTransport) InjectFaults(addr Address, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[addr] = append(m.faults[addr], errs...)
}

// SetWriteFilter installs a function applied to every payload written to
// addr before it is stored. It simulates stuck or miswired outputs.
func (m *MemoryTransport) SetWriteFilter(addr Address, filter func([]byte) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filter == nil {
		delete(m.writeFilter, addr)
		return
	}
	m.writeFilter[addr] = filter
}

// SetLatency delays every transfer by d.
func (m *MemoryTransport) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Transfers returns the number of transfers performed.
func (m *MemoryTransport) Transfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

// Transfer implements Transport.
func (m *MemoryTransport) Transfer(ctx context.Context, req Request) (Frame, error) {
	m.mu.Lock()
	m.transfers++
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, fmt.Errorf("%w: %s %s: %w", ErrTimeout, req.Op, req.Addr, ctx.Err())
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if queued := m.faults[req.Addr]; len(queued) > 0 {
		m.faults[req.Addr] = queued[1:]
		return Frame{}, fmt.Errorf("%s %s: %w", req.Op, req.Addr, queued[0])
	}

	d, ok := m.devices[req.Addr]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %s", ErrDeviceAbsent, req.Addr)
	}

	frame := Frame{Addr: req.Addr, Op: req.Op, Check: checkFor(req.Addr.Family)}
	if req.Op == OpWrite {
		if BoardTypeOf(req.Addr.Family) != BoardRelay {
			return Frame{}, fmt.Errorf("%w: %s", ErrNotWritable, req.Addr)
		}
		payload := append([]byte(nil), req.Payload...)
		if filter := m.writeFilter[req.Addr]; filter != nil {
			payload = filter(payload)
		}
		d.payload = payload
	}
	frame.Payload = append([]byte(nil), d.payload...)
	return frame, nil
}

func checkFor(f Family) Check {
	switch BoardTypeOf(f) {
	case BoardDigitalIO:
		return CheckComplement
	case BoardTemperature:
		return CheckCRC8
	default:
		return CheckDevice
	}
}

func idlePayload(f Family) []byte {
	switch BoardTypeOf(f) {
	case BoardDigitalIO:
		return []byte{PIOStatus(false, false)}
	case BoardRelay:
		return []byte{RelayBankInitialState}
	case BoardTemperature:
		return Scratchpad(f, 20)
	case BoardHumidity:
		return DS2438Registers(20, 5.0, 2.0)
	default:
		return nil
	}
}

// PIOStatus builds a valid DS2413 status byte with both latches released
// and the given pin levels.
func PIOStatus(pioA, pioB bool) byte {
	lo := byte(0x0a) // PIOA and PIOB output latches off
	if pioA {
		lo |= 1 << pioBits[0]
	}
	if pioB {
		lo |= 1 << pioBits[1]
	}
	return (^lo&0x0f)<<4 | lo
}

// Scratchpad builds a DS18x20 scratchpad with a valid CRC for tempC.
func Scratchpad(f Family, tempC float64) []byte {
	scale := 16.0
	if f == FamilyDS18S20 {
		scale = 2
	}
	pad := []byte{0, 0, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10, 0}
	binary.LittleEndian.PutUint16(pad[0:2], uint16(int16(math.Round(tempC*scale))))
	pad[scratchpadSize-1] = CRC8(pad[:scratchpadSize-1])
	return pad
}

// DS2438Registers builds the HumidityProbe register payload.
func DS2438Registers(tempC, vdd, vad float64) []byte {
	out := make([]byte, humidityPayloadSize)
	binary.BigEndian.PutUint16(out[0:2], uint16(int16(math.Round(tempC*256))))
	binary.BigEndian.PutUint16(out[2:4], uint16(math.Round(vdd*100)))
	binary.BigEndian.PutUint16(out[4:6], uint16(math.Round(vad*100)))
	return out
}
