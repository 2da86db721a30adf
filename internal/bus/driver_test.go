package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	testIO    = Address{Family: FamilyDS2413, Serial: 0x01}
	testRelay = Address{Family: FamilyDS2408, Serial: 0x02}
	testTemp  = Address{Family: FamilyDS18B20, Serial: 0x03}
	testHumid = Address{Family: FamilyDS2438, Serial: 0x04}
)

// recordingSink records health reports.
type recordingSink struct {
	mu        sync.Mutex
	failed    []*BusError
	succeeded int
}

func (s *recordingSink) TransactionFailed(_ Address, err *BusError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, err)
}

func (s *recordingSink) TransactionSucceeded(Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
}

func fastConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         2 * time.Millisecond,
		TransactionTimeout: 50 * time.Millisecond,
	}
}

func newTestDriver(t *testing.T) (*Driver, *MemoryTransport, *recordingSink) {
	t.Helper()
	mem := NewMemoryTransport()
	mem.Attach(testIO, []byte{PIOStatus(true, false)})
	mem.Attach(testRelay, nil)
	mem.Attach(testTemp, Scratchpad(FamilyDS18B20, 21.5))
	mem.Attach(testHumid, DS2438Registers(20, 5.0, 2.0))
	sink := &recordingSink{}
	return NewDriver(mem, fastConfig(), WithHealthSink(sink)), mem, sink
}

func TestDriverRead(t *testing.T) {
	d, _, sink := newTestDriver(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		addr    Address
		channel int
		want    Value
	}{
		{"pio a", testIO, 0, On},
		{"pio b", testIO, 1, Off},
		{"relay idle", testRelay, 5, Off},
		{"temperature", testTemp, 0, 21.5},
		{"humidity temperature", testHumid, HumidityTempChannel, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Read(ctx, tt.addr, tt.channel)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Read() = %v, want %v", got, tt.want)
			}
		})
	}

	if sink.succeeded != len(tests) {
		t.Errorf("succeeded = %d, want %d", sink.succeeded, len(tests))
	}
}

func TestDriverRetriesTransientIntegrityFailure(t *testing.T) {
	d, mem, sink := newTestDriver(t)
	mem.InjectFaults(testIO, ErrIntegrityMismatch, ErrIntegrityMismatch)

	v, err := d.Read(context.Background(), testIO, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if v != On {
		t.Errorf("Read() = %v, want On", v)
	}

	stats := d.Stats()
	if stats.Retries != 2 {
		t.Errorf("Retries = %d, want 2", stats.Retries)
	}
	if stats.Failures != 0 {
		t.Errorf("Failures = %d, want 0", stats.Failures)
	}
	if len(sink.failed) != 0 {
		t.Errorf("health failures = %d, want 0", len(sink.failed))
	}
}

func TestDriverExhaustedRetries(t *testing.T) {
	d, mem, sink := newTestDriver(t)
	mem.InjectFaults(testIO, ErrIntegrityMismatch, ErrIntegrityMismatch, ErrIntegrityMismatch)

	_, err := d.Read(context.Background(), testIO, 0)

	var berr *BusError
	if !errors.As(err, &berr) {
		t.Fatalf("Read() error = %v, want *BusError", err)
	}
	if berr.Kind != KindIntegrityMismatch {
		t.Errorf("Kind = %v, want %v", berr.Kind, KindIntegrityMismatch)
	}
	if berr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", berr.Attempts)
	}
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Error("errors.Is(err, ErrIntegrityMismatch) = false")
	}
	if len(sink.failed) != 1 {
		t.Fatalf("health failures = %d, want 1", len(sink.failed))
	}

	// Next transaction succeeds and reports recovery.
	if _, err := d.Read(context.Background(), testIO, 0); err != nil {
		t.Fatalf("Read() after recovery error = %v", err)
	}
	if sink.succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", sink.succeeded)
	}
}

func TestDriverCorruptFrameIsIntegrityMismatch(t *testing.T) {
	d, mem, _ := newTestDriver(t)
	mem.SetPayload(testIO, []byte{0xff})

	_, err := d.Read(context.Background(), testIO, 0)
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("Read() error = %v, want ErrIntegrityMismatch", err)
	}
	if got := mem.Transfers(); got != 3 {
		t.Errorf("Transfers() = %d, want 3", got)
	}
}

func TestDriverDeviceAbsentNotRetried(t *testing.T) {
	d, mem, sink := newTestDriver(t)
	mem.Detach(testTemp)

	_, err := d.Read(context.Background(), testTemp, 0)
	if !errors.Is(err, ErrDeviceAbsent) {
		t.Fatalf("Read() error = %v, want ErrDeviceAbsent", err)
	}
	if got := mem.Transfers(); got != 1 {
		t.Errorf("Transfers() = %d, want 1", got)
	}
	if len(sink.failed) != 1 || sink.failed[0].Kind != KindDeviceAbsent {
		t.Errorf("health failures = %+v, want one device_absent", sink.failed)
	}
}

func TestDriverTimeout(t *testing.T) {
	d, mem, _ := newTestDriver(t)
	mem.SetLatency(200 * time.Millisecond)

	_, err := d.Read(context.Background(), testTemp, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Read() error = %v, want ErrTimeout", err)
	}
}

func TestDriverCancelledContextSkipsHealthReport(t *testing.T) {
	d, mem, sink := newTestDriver(t)
	mem.SetLatency(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := d.Read(ctx, testTemp, 0)
	if err == nil {
		t.Fatal("Read() error = nil, want cancellation")
	}
	if len(sink.failed) != 0 {
		t.Errorf("health failures = %d, want 0", len(sink.failed))
	}
}

func TestDriverWriteRelay(t *testing.T) {
	d, mem, _ := newTestDriver(t)
	ctx := context.Background()

	if err := d.Write(ctx, testRelay, 2, On); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := mem.Payload(testRelay); got[0] != 0xfb {
		t.Errorf("relay state = %#02x, want 0xfb", got[0])
	}

	if err := d.Write(ctx, testRelay, 7, On); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := mem.Payload(testRelay); got[0] != 0x7b {
		t.Errorf("relay state = %#02x, want 0x7b", got[0])
	}

	v, err := d.Read(ctx, testRelay, 2)
	if err != nil || v != On {
		t.Errorf("Read() = %v, %v; want On", v, err)
	}
}

func TestDriverWriteRejectsInputBoards(t *testing.T) {
	d, _, _ := newTestDriver(t)

	if err := d.Write(context.Background(), testIO, 0, On); !errors.Is(err, ErrNotWritable) {
		t.Errorf("Write(digital-io) error = %v, want ErrNotWritable", err)
	}
	if err := d.Write(context.Background(), testRelay, 8, On); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Write(channel 8) error = %v, want ErrInvalidChannel", err)
	}
}
