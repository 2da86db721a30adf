package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/infrastructure/config"
	"github.com/nerrad567/wirehome/internal/infrastructure/influxdb"
)

// fakeServer answers /ping and records line protocol posted to /api/v2/write.
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	lines    []string
	failNext bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.failNext {
			fs.failNext = false
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`)) //nolint:errcheck // test server
			return
		}
		for _, l := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if l != "" {
				fs.lines = append(fs.lines, l)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) received() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "wirehome",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := influxdb.Connect(ctx, testConfig("http://127.0.0.1:1")); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteMeasurements(t *testing.T) {
	srv := newFakeServer(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WriteReading("bath", "bathroom-humidity", 71.5, ts)
	client.WriteOutput("relays", "bathroom-fan", true, "climate", ts)
	client.WriteHealth("relays", "degraded", ts)
	client.WriteActuation("relays", "bathroom-fan", "ok", 1, ts)
	client.WriteLevel("cesspool", 75, ts)
	client.Flush()

	lines := srv.received()
	wantPrefixes := []string{
		"channel_reading,device_id=bath,role=bathroom-humidity value=71.5",
		"channel_output,device_id=relays,origin=climate,role=bathroom-fan on=true",
		`device_health,device_id=relays healthy=false,status="degraded"`,
		"actuation,device_id=relays,outcome=ok,role=bathroom-fan attempts=1i",
		"level,name=cesspool percent=75",
	}
	if len(lines) != len(wantPrefixes) {
		t.Fatalf("received %d lines, want %d: %v", len(lines), len(wantPrefixes), lines)
	}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
}

func TestWriteErrorCallback(t *testing.T) {
	srv := newFakeServer(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	srv.mu.Lock()
	srv.failNext = true
	srv.mu.Unlock()

	client.WriteReading("bath", "bathroom-humidity", 1, time.Now())
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error callback not invoked")
	}
}

func TestClose(t *testing.T) {
	srv := newFakeServer(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after Close are dropped.
	client.WriteReading("bath", "bathroom-humidity", 1, time.Now())
	client.Flush()
	if n := len(srv.received()); n != 0 {
		t.Errorf("received %d lines after Close, want 0", n)
	}
}

func TestClose_Nil(t *testing.T) {
	var client influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client = %v", err)
	}
}
