package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

var (
	relayA = bus.Address{Family: bus.FamilyDS2408, Serial: 0xa}
	relayB = bus.Address{Family: bus.FamilyDS2408, Serial: 0xb}
)

// fakeBus records writes and tracks concurrent transactions per address.
type fakeBus struct {
	mu          sync.Mutex
	state       map[bus.Address]map[int]bus.Value
	inflight    map[bus.Address]int
	maxInflight map[bus.Address]int
	writes      int
	latency     time.Duration

	// stuck channels ignore writes a number of times.
	stuck    map[int]int
	writeErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		state:       make(map[bus.Address]map[int]bus.Value),
		inflight:    make(map[bus.Address]int),
		maxInflight: make(map[bus.Address]int),
		stuck:       make(map[int]int),
	}
}

func (f *fakeBus) enter(addr bus.Address) {
	f.mu.Lock()
	f.inflight[addr]++
	if f.inflight[addr] > f.maxInflight[addr] {
		f.maxInflight[addr] = f.inflight[addr]
	}
	f.mu.Unlock()
}

func (f *fakeBus) leave(addr bus.Address) {
	f.mu.Lock()
	f.inflight[addr]--
	f.mu.Unlock()
}

func (f *fakeBus) Write(ctx context.Context, addr bus.Address, ch int, v bus.Value) error {
	f.enter(addr)
	defer f.leave(addr)

	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return &bus.BusError{Kind: bus.KindTimeout, Addr: addr, Op: bus.OpWrite, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.stuck[ch] > 0 {
		f.stuck[ch]--
		return nil
	}
	if f.state[addr] == nil {
		f.state[addr] = make(map[int]bus.Value)
	}
	f.state[addr][ch] = v
	return nil
}

func (f *fakeBus) Read(_ context.Context, addr bus.Address, ch int) (bus.Value, error) {
	f.enter(addr)
	defer f.leave(addr)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[addr][ch], nil
}

func (f *fakeBus) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func relayDevice(id string, addr bus.Address, roles ...string) device.Device {
	d := device.Device{ID: id, Segment: "w1", Address: addr, Board: bus.BoardRelay}
	for i, r := range roles {
		d.Channels = append(d.Channels, device.Channel{Index: i, Role: r, Direction: device.DirectionOutput, Class: device.ClassDigital})
	}
	return d
}

type fixture struct {
	bus  *fakeBus
	reg  *device.Registry
	sub  *eventbus.Subscription
	disp *Dispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := device.NewRegistry()
	for _, d := range []device.Device{
		relayDevice("relays-a", relayA, "hall-light", "porch-light", "siren"),
		relayDevice("relays-b", relayB, "bath-fan"),
		{
			ID: "hall-io", Segment: "w1", Address: bus.Address{Family: bus.FamilyDS2413, Serial: 1}, Board: bus.BoardDigitalIO,
			Channels: []device.Channel{{Index: 0, Role: "hall-pir", Direction: device.DirectionInput, Class: device.ClassDigital}},
		},
	} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	b := eventbus.New()
	sub := b.Subscribe("test", 256, eventbus.KindActuationFailed, eventbus.KindActuationCompleted)
	fb := newFakeBus()
	f := &fixture{bus: fb, reg: reg, sub: sub, disp: New(fb, reg, b, cfg)}
	t.Cleanup(func() { _ = f.disp.Shutdown(context.Background()) })
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.disp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func (f *fixture) results() (completed, failed []eventbus.ActuationResult) {
	for {
		ev, ok := f.sub.TryNext()
		if !ok {
			return completed, failed
		}
		r := ev.Payload.(eventbus.ActuationResult)
		if ev.Kind == eventbus.KindActuationFailed {
			failed = append(failed, r)
		} else {
			completed = append(completed, r)
		}
	}
}

func cmd(role string, v float64, origin string) Command {
	return NewCommand(role, v, origin, "test", time.Now())
}

func TestWritesSerialisedPerDevice(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.bus.latency = time.Millisecond

	var wg sync.WaitGroup
	roles := []string{"hall-light", "porch-light", "siren", "bath-fan"}
	for i := 0; i < 8; i++ {
		for _, r := range roles {
			wg.Add(1)
			go func(role string, v float64) {
				defer wg.Done()
				if err := f.disp.Submit(cmd(role, v, "test")); err != nil {
					t.Errorf("Submit(%s) error = %v", role, err)
				}
			}(r, float64(i%2))
		}
	}
	wg.Wait()
	f.drain(t)

	for _, addr := range []bus.Address{relayA, relayB} {
		if got := f.bus.maxInflight[addr]; got != 1 {
			t.Errorf("max concurrent transactions on %s = %d, want 1", addr, got)
		}
	}
	completed, failed := f.results()
	if len(completed) != 32 || len(failed) != 0 {
		t.Errorf("completed = %d, failed = %d, want 32 and 0", len(completed), len(failed))
	}
}

func TestRenamedDeviceKeepsSingleWriter(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.bus.latency = 10 * time.Millisecond

	submit := func(n int) {
		for i := 0; i < n; i++ {
			for _, role := range []string{"hall-light", "porch-light"} {
				if err := f.disp.Submit(cmd(role, float64(i%2), "test")); err != nil {
					t.Fatalf("Submit(%s) error = %v", role, err)
				}
			}
		}
	}

	submit(3)
	_, _, err := f.reg.Reconcile([]device.Device{
		relayDevice("hall-relays", relayA, "hall-light", "porch-light", "siren"),
		relayDevice("relays-b", relayB, "bath-fan"),
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	submit(3)
	f.drain(t)

	if got := f.bus.maxInflight[relayA]; got != 1 {
		t.Errorf("max concurrent transactions on %s = %d, want 1", relayA, got)
	}
	completed, failed := f.results()
	if len(completed) != 12 || len(failed) != 0 {
		t.Fatalf("completed = %d, failed = %+v, want 12 and none", len(completed), failed)
	}
	for _, r := range completed[len(completed)-6:] {
		if r.DeviceID != "hall-relays" {
			t.Errorf("DeviceID after rename = %s, want hall-relays", r.DeviceID)
		}
	}
}

func TestMatchedReadBackNotRetried(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	if err := f.disp.Submit(cmd("hall-light", 1, "lighting")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	f.drain(t)

	if got := f.bus.writeCount(); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
	completed, failed := f.results()
	if len(failed) != 0 {
		t.Errorf("ActuationFailed events = %+v, want none", failed)
	}
	if len(completed) != 1 || completed[0].Attempts != 1 {
		t.Errorf("completed = %+v, want one result with 1 attempt", completed)
	}
}

func TestVerifyMismatch(t *testing.T) {
	tests := []struct {
		name         string
		stuck        int
		wantWrites   int
		wantFailed   bool
		wantAttempts int
	}{
		{"recovers on retry", 1, 2, false, 2},
		{"fails after one retry", 5, 2, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.bus.stuck[2] = tt.stuck

			if err := f.disp.Submit(cmd("siren", 1, "alarm")); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			f.drain(t)

			if got := f.bus.writeCount(); got != tt.wantWrites {
				t.Errorf("writes = %d, want %d", got, tt.wantWrites)
			}
			completed, failed := f.results()
			if tt.wantFailed {
				if len(failed) != 1 || failed[0].ErrorKind != "verify_mismatch" || failed[0].Attempts != tt.wantAttempts {
					t.Errorf("failed = %+v, want one verify_mismatch", failed)
				}
				return
			}
			if len(completed) != 1 || completed[0].Attempts != tt.wantAttempts {
				t.Errorf("completed = %+v, want attempts %d", completed, tt.wantAttempts)
			}
		})
	}
}

func TestWriteRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.bus.writeErr = &bus.BusError{Kind: bus.KindTimeout, Addr: relayA, Op: bus.OpWrite, Attempts: 3, Err: bus.ErrTimeout}

	if err := f.disp.Submit(cmd("hall-light", 1, "lighting")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	f.drain(t)

	if got := f.bus.writeCount(); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
	_, failed := f.results()
	if len(failed) != 1 || failed[0].ErrorKind != "write_rejected" {
		t.Errorf("failed = %+v, want one write_rejected", failed)
	}
}

func TestDegradedDeviceRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.reg.SetHealth(relayB, device.HealthDegraded, "test")

	err := f.disp.Submit(cmd("bath-fan", 1, "climate"))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrDeviceUnavailable", err)
	}
	f.drain(t)

	if got := f.bus.writeCount(); got != 0 {
		t.Errorf("writes = %d, want 0", got)
	}
	_, failed := f.results()
	if len(failed) != 1 || failed[0].ErrorKind != "device_unavailable" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	if err := f.disp.Submit(cmd("attic-light", 1, "x")); !errors.Is(err, device.ErrRoleNotFound) {
		t.Errorf("Submit(unknown) error = %v, want ErrRoleNotFound", err)
	}
	if err := f.disp.Submit(cmd("hall-pir", 1, "x")); !errors.Is(err, ErrNotOutput) {
		t.Errorf("Submit(input) error = %v, want ErrNotOutput", err)
	}
}

func TestDeadlineExceeded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	c := cmd("porch-light", 1, "lighting")
	c.Deadline = c.Issued.Add(-time.Second)

	if err := f.disp.Submit(c); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	f.drain(t)

	if got := f.bus.writeCount(); got != 0 {
		t.Errorf("writes = %d, want 0", got)
	}
	_, failed := f.results()
	if len(failed) != 1 || failed[0].ErrorKind != "deadline_exceeded" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.bus.latency = 50 * time.Millisecond

	// The first command occupies the worker; the rest queue behind it.
	for _, c := range []Command{
		cmd("hall-light", 1, "lighting"),
		cmd("siren", 1, "alarm"),
		cmd("porch-light", 1, "lighting"),
		cmd("siren", 0, "alarm"),
	} {
		if err := f.disp.Submit(c); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	if n := f.disp.CancelPending("alarm"); n != 2 {
		t.Errorf("CancelPending() = %d, want 2", n)
	}
	f.drain(t)

	completed, _ := f.results()
	if len(completed) != 2 {
		t.Fatalf("completed = %d, want 2", len(completed))
	}
	for _, r := range completed {
		if r.DeviceID != "relays-a" || r.Reason != "test" {
			t.Errorf("unexpected result %+v", r)
		}
	}
}

func TestShutdownGraceExpiry(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.bus.latency = time.Second

	for _, role := range []string{"hall-light", "porch-light"} {
		if err := f.disp.Submit(cmd(role, 1, "lighting")); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := f.disp.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want context.DeadlineExceeded", err)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("Shutdown() took %v, want in-flight write aborted", d)
	}
	if err := f.disp.Submit(cmd("hall-light", 0, "lighting")); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Shutdown error = %v, want ErrClosed", err)
	}
	if got := f.disp.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestBreakerOpensOnRepeatedMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerFailures = 2
	f := newFixture(t, cfg)
	f.bus.stuck[0] = 100

	for j := 0; j < 3; j++ {
		if err := f.disp.Submit(cmd("hall-light", 1, "lighting")); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	f.drain(t)

	// Two failed commands of two writes each; the third never reaches the bus.
	if got := f.bus.writeCount(); got != 4 {
		t.Errorf("writes = %d, want 4", got)
	}
	_, failed := f.results()
	if len(failed) != 3 || failed[2].ErrorKind != "device_unavailable" {
		t.Errorf("failed = %+v", failed)
	}
}
