package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/api"
	"github.com/nerrad567/wirehome/internal/automation"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/infrastructure/config"
)

const testConfig = `
site:
  id: test-home
  location: {latitude: 51.5072, longitude: -0.1275}
bus:
  backend: memory
segments:
  - {name: fast, interval: 50ms}
devices:
  - id: hall-io
    segment: fast
    address: 3a-000000000001
    channels:
      - {index: 0, role: hallway-pir, tags: [pir]}
      - {index: 1, role: front-door}
  - id: relays
    segment: fast
    address: 29-000000000002
    board: relay
    channels:
      - {index: 0, role: hallway-light, direction: output}
      - {index: 7, role: siren, direction: output}
automation:
  credentials: ["4711"]
  alarm:
    protected: [front-door]
    sirens: [siren]
  lighting:
    - {name: hall, triggers: [hallway-pir], outputs: [hallway-light]}
database:
  enabled: true
  path: DBPATH
api:
  jwt_secret: "test-secret-key-at-least-32-characters-long"
logging:
  level: error
  output: stderr
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	content = strings.ReplaceAll(content, "DBPATH", filepath.Join(dir, "wirehome.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("WIREHOME_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("WIREHOME_CONFIG", "/etc/wirehome.yaml")
	if got := getConfigPath(""); got != "/etc/wirehome.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
	if got := getConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want flag value", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_RuleWithUnknownRole(t *testing.T) {
	content := strings.Replace(testConfig, "outputs: [hallway-light]", "outputs: [attic-light]", 1)
	path := writeTestConfig(t, content)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if !errors.Is(err, automation.ErrInvalidConfig) {
		t.Errorf("run() error = %v, want %v", err, automation.ErrInvalidConfig)
	}
}

func TestReloadDevices(t *testing.T) {
	porch := "  - id: porch-io\n    segment: fast\n    address: 3a-000000000003\n    channels:\n      - {index: 0, role: porch-pir}\nautomation:"

	tests := []struct {
		name        string
		content     string
		wantErr     error
		wantDevices int
	}{
		{"adds device", strings.Replace(testConfig, "automation:", porch, 1), nil, 3},
		{"drops rule output", strings.Replace(testConfig, "      - {index: 0, role: hallway-light, direction: output}\n", "", 1), automation.ErrInvalidConfig, 2},
		{"duplicate role", strings.Replace(testConfig, "role: front-door", "role: hallway-pir", 1), device.ErrDuplicateRole, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeTestConfig(t, testConfig))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			devs, err := cfg.DeviceList()
			if err != nil {
				t.Fatalf("DeviceList() error = %v", err)
			}
			registry := device.NewRegistry()
			for _, d := range devs {
				if err := registry.Register(d); err != nil {
					t.Fatalf("Register(%s) error = %v", d.ID, err)
				}
			}

			attached := 0
			err = reloadDevices(writeTestConfig(t, tt.content), cfg.EngineSettings(), registry, func(d []device.Device) { attached = len(d) })
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("reloadDevices() error = %v, want %v", err, tt.wantErr)
			}
			if got := len(registry.Devices()); got != tt.wantDevices {
				t.Errorf("devices = %d, want %d", got, tt.wantDevices)
			}
			if tt.wantErr != nil {
				if attached != 0 {
					t.Errorf("attach called with %d devices on refused reload", attached)
				}
				if _, err := registry.LookupByRole("hallway-light"); err != nil {
					t.Errorf("LookupByRole(hallway-light) after refused reload error = %v", err)
				}
			}
		})
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	path := writeTestConfig(t, testConfig)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v, want clean shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

func TestExecute_Version(t *testing.T) {
	var out bytes.Buffer
	if err := execute(context.Background(), []string{"version"}, &out); err != nil {
		t.Fatalf("execute(version) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "wirehome ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecute_Credential(t *testing.T) {
	path := writeTestConfig(t, testConfig)
	ctx := context.Background()

	var out bytes.Buffer
	err := execute(ctx, []string{"credential", "add", "-config", path, "-kind", "rfid", "-label", "kitchen fob", "-secret", "04a2b3c4"}, &out)
	if err != nil {
		t.Fatalf("credential add error = %v", err)
	}
	if !strings.Contains(out.String(), "added rfid credential") {
		t.Errorf("add output = %q", out.String())
	}

	out.Reset()
	if err := execute(ctx, []string{"credential", "list", "-config", path}, &out); err != nil {
		t.Fatalf("credential list error = %v", err)
	}
	if !strings.Contains(out.String(), "kitchen fob") || strings.Contains(out.String(), "04a2b3c4") {
		t.Errorf("list output = %q, want label and no secret", out.String())
	}

	if err := execute(ctx, []string{"credential", "remove", "-config", path}, &out); err == nil {
		t.Error("credential remove without -id error = nil")
	}
	if err := execute(ctx, []string{"credential"}, &out); !errors.Is(err, errUsage) {
		t.Errorf("credential without action error = %v, want usage", err)
	}
}

func TestExecute_Token(t *testing.T) {
	path := writeTestConfig(t, testConfig)

	var out bytes.Buffer
	if err := execute(context.Background(), []string{"token", "-config", path, "-subject", "dashboard"}, &out); err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := api.ParseToken(strings.TrimSpace(out.String()), "test-secret-key-at-least-32-characters-long")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("subject = %q, want dashboard", claims.Subject)
	}

	noSecret := writeTestConfig(t, strings.Replace(testConfig, `jwt_secret: "test-secret-key-at-least-32-characters-long"`, `jwt_secret: ""`, 1))
	if err := execute(context.Background(), []string{"token", "-config", noSecret, "-subject", "x"}, &out); err == nil {
		t.Error("token without secret error = nil")
	}
}
