package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/infrastructure/config"
)

// testConfig returns a configuration for a local broker. Broker tests run
// only when WIREHOME_TEST_MQTT is set (host:port).
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "wirehome-test",
		},
		QoS:         1,
		TopicPrefix: "wirehome-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func brokerConfig(t *testing.T) config.MQTTConfig {
	t.Helper()
	addr := os.Getenv("WIREHOME_TEST_MQTT")
	if addr == "" {
		t.Skip("WIREHOME_TEST_MQTT not set")
	}
	cfg := testConfig()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("WIREHOME_TEST_MQTT = %q: %v", addr, err)
	}
	cfg.Broker.Host = host
	if cfg.Broker.Port, err = strconv.Atoi(port); err != nil {
		t.Fatalf("WIREHOME_TEST_MQTT port: %v", err)
	}
	cfg.Broker.ClientID = "wirehome-test-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	return cfg
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Status", topics.Status(), "home/status"},
		{"Event", topics.Event("state_changed", "hallway-pir"), "home/event/state_changed/hallway-pir"},
		{"State", topics.State("porch-light"), "home/state/porch-light"},
		{"Alarm", topics.Alarm(), "home/alarm"},
		{"Mode", topics.Mode(), "home/mode"},
		{"Health", topics.Health("relays"), "home/health/relays"},
		{"Level", topics.Level("cesspool"), "home/level/cesspool"},
		{"Arm", topics.Arm(), "home/command/arm"},
		{"Disarm", topics.Disarm(), "home/command/disarm"},
		{"Override", topics.Override("porch-light"), "home/command/override/porch-light"},
		{"TagScan", topics.TagScan("gate"), "home/rfid/gate"},
		{"AllCommands", topics.AllCommands(), "home/command/#"},
		{"AllTagScans", topics.AllTagScans(), "home/rfid/+"},
		{"AllEvents", topics.AllEvents(), "home/event/#"},
		{"default prefix", Topics{}.Alarm(), "wirehome/alarm"},
		{"trailing slash", Topics{Prefix: "home/"}.Mode(), "home/mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_Tail(t *testing.T) {
	topics := Topics{Prefix: "home"}

	tests := []struct {
		topic string
		want  []string
	}{
		{"home/command/override/porch", []string{"command", "override", "porch"}},
		{"home/rfid/gate", []string{"rfid", "gate"}},
		{"other/command/arm", nil},
		{"home/", nil},
		{"homer/command/arm", nil},
	}

	for _, tt := range tests {
		if got := topics.Tail(tt.topic); !slices.Equal(got, tt.want) {
			t.Errorf("Tail(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "u", Password: "p"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "wirehome-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Errorf("credentials not set")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil with tls enabled")
	}
	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "wirehome-test/status" {
		t.Errorf("will = (%v, %v, %q), want retained on wirehome-test/status",
			opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}

	var will StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if will.Status != StatusOffline || will.Reason != "unexpected_disconnect" {
		t.Errorf("will = %+v", will)
	}
}

func TestDisconnectedClientRejects(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish large", c.Publish("t", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"subscribe empty", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 3, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, noop), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
		{"publish json unencodable", c.PublishJSON("t", func() {}, false), ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func TestDispatchRecoversAndLogs(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	want := []string{"mqtt handler panic recovered", "mqtt handler returned error"}
	if !slices.Equal(logger.msgs, want) {
		t.Errorf("logged %v, want %v", logger.msgs, want)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := Connect(ctx, cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBroker_PublishSubscribeRoundtrip(t *testing.T) {
	cfg := brokerConfig(t)

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	received := make(chan []string, 1)
	topics := client.Topics()
	err = client.Subscribe(topics.AllCommands(), 1, func(topic string, _ []byte) error {
		received <- topics.Tail(topic)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	if err := client.PublishJSON(topics.Override("porch-light"), map[string]float64{"value": 1}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if !slices.Equal(got, []string{"command", "override", "porch-light"}) {
			t.Errorf("received tail %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topics.AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
