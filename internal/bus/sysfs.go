package bus

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// DefaultSysfsRoot is where the Linux w1 subsystem exposes slave devices.
const DefaultSysfsRoot = "/sys/bus/w1/devices"

// sysfs attribute files used per board.
const (
	fileState    = "state"
	fileOutput   = "output"
	fileW1Slave  = "w1_slave"
	fileTemp     = "temperature"
	fileVDD      = "vdd"
	fileVAD      = "vad"
	filePermMode = 0o644
)

// SysfsTransport talks to one-wire devices through the kernel's w1 sysfs
// interface. File reads block for the duration of the bus conversion, so
// every transfer runs in its own goroutine and is abandoned when ctx ends.
type SysfsTransport struct {
	root string
}

// NewSysfsTransport creates a transport rooted at root (DefaultSysfsRoot
// when empty).
func NewSysfsTransport(root string) *SysfsTransport {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsTransport{root: root}
}

// Transfer implements Transport.
func (t *SysfsTransport) Transfer(ctx context.Context, req Request) (Frame, error) {
	type result struct {
		frame Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		f, err := t.transfer(req)
		done <- result{frame: f, err: err}
	}()

	select {
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: %s %s: %w", ErrTimeout, req.Op, req.Addr, ctx.Err())
	case r := <-done:
		return r.frame, r.err
	}
}

func (t *SysfsTransport) transfer(req Request) (Frame, error) {
	dir := filepath.Join(t.root, req.Addr.String())
	if _, err := os.Stat(dir); err != nil {
		return Frame{}, mapIOError(req.Addr, err)
	}

	if req.Op == OpWrite && BoardTypeOf(req.Addr.Family) != BoardRelay {
		return Frame{}, fmt.Errorf("%w: %s", ErrNotWritable, req.Addr)
	}

	frame := Frame{Addr: req.Addr, Op: req.Op}
	var err error

	switch BoardTypeOf(req.Addr.Family) {
	case BoardDigitalIO:
		frame.Check = CheckComplement
		frame.Payload, err = readFile(dir, fileState, 1)

	case BoardRelay:
		frame.Check = CheckDevice
		if req.Op == OpWrite {
			if err = os.WriteFile(filepath.Join(dir, fileOutput), req.Payload, filePermMode); err != nil {
				return Frame{}, mapIOError(req.Addr, err)
			}
		}
		frame.Payload, err = readFile(dir, fileState, 1)

	case BoardTemperature:
		frame.Check = CheckCRC8
		frame.Payload, err = t.readScratchpad(dir)

	case BoardHumidity:
		frame.Check = CheckDevice
		frame.Payload, err = t.readDS2438(dir)

	default:
		return Frame{}, fmt.Errorf("%w: family %#02x", ErrUnsupportedBoard, uint8(req.Addr.Family))
	}
	if err != nil {
		return Frame{}, mapIOError(req.Addr, err)
	}
	return frame, nil
}

// readScratchpad parses a DS18x20 w1_slave file:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func (t *SysfsTransport) readScratchpad(dir string) ([]byte, error) {
	f, err := os.Open(filepath.Join(dir, fileW1Slave))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty w1_slave", ErrIntegrityMismatch)
	}

	line := scanner.Text()
	bytesPart, crcPart, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("%w: malformed w1_slave line %q", ErrIntegrityMismatch, line)
	}
	if !strings.HasSuffix(strings.TrimSpace(crcPart), "YES") {
		return nil, fmt.Errorf("%w: kernel crc check failed: %s", ErrIntegrityMismatch, strings.TrimSpace(crcPart))
	}

	raw, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(bytesPart), " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: scratchpad hex: %w", ErrIntegrityMismatch, err)
	}
	return raw, nil
}

// readDS2438 packs the temperature, VDD and VAD attributes into the
// HumidityProbe register layout.
func (t *SysfsTransport) readDS2438(dir string) ([]byte, error) {
	payload := make([]byte, humidityPayloadSize)
	for i, name := range []string{fileTemp, fileVDD, fileVAD} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrIntegrityMismatch, name, err)
		}
		binary.BigEndian.PutUint16(payload[i*2:], uint16(int16(v)))
	}
	return payload, nil
}

func readFile(dir, name string, size int) ([]byte, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// mapIOError translates filesystem errors into bus sentinels. The w1 core
// reports CRC failures during a transfer as EIO.
func mapIOError(addr Address, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %w", ErrDeviceAbsent, addr, err)
	case errors.Is(err, syscall.EIO):
		return fmt.Errorf("%w: %s: %w", ErrIntegrityMismatch, addr, err)
	default:
		return err
	}
}
