package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homismart-go/internal/infrastructure/config"
)

// testConfig returns a configuration for a broker on 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: fmt.Sprintf("homismart-test-%d", time.Now().UnixNano()),
		},
		QoS:         1,
		TopicPrefix: "homismart-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test unless a broker accepts connections on
// 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker reachable: %v", err)
	}
	conn.Close()
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// =============================================================================
// Topics
// =============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics("/home/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"prefix", topics.Prefix(), "home"},
		{"status", topics.Status(), "home/status"},
		{"session", topics.Session(), "home/session"},
		{"device state", topics.DeviceState("d1"), "home/device/d1/state"},
		{"hub state", topics.HubState("h1"), "home/hub/h1/state"},
		{"device set", topics.DeviceSet("d1"), "home/device/d1/set"},
		{"all sets", topics.AllDeviceSets(), "home/device/+/set"},
		{"default prefix", NewTopics("").Status(), "homismart/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestTopics_ParseDeviceSet(t *testing.T) {
	topics := NewTopics("homismart")

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"homismart/device/d1/set", "d1", true},
		{"homismart/device/12345/set", "12345", true},
		{"homismart/device//set", "", false},
		{"homismart/device/d1/state", "", false},
		{"homismart/device/a/b/set", "", false},
		{"other/device/d1/set", "", false},
	}
	for _, tt := range tests {
		id, ok := topics.ParseDeviceSet(tt.topic)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ParseDeviceSet(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

// =============================================================================
// Options and payloads
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "pw"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "bridge" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below TLS 1.2")
	}
	if !opts.AutoReconnect || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("reconnect = %v/%v", opts.AutoReconnect, opts.MaxReconnectInterval)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("hs"), "bridge-1")

	if !opts.WillEnabled || opts.WillTopic != "hs/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "bridge-1" || p.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestStatusPayloads(t *testing.T) {
	var online statusPayload
	if err := json.Unmarshal([]byte(buildOnlinePayload("c1")), &online); err != nil {
		t.Fatalf("online payload: %v", err)
	}
	if online.Status != "online" || online.Reason != "" || online.Timestamp == "" {
		t.Errorf("online payload = %+v", online)
	}

	var offline statusPayload
	if err := json.Unmarshal([]byte(buildOfflinePayload("c1", "graceful_shutdown")), &offline); err != nil {
		t.Fatalf("offline payload: %v", err)
	}
	if offline.Status != "offline" || offline.Reason != "graceful_shutdown" {
		t.Errorf("offline payload = %+v", offline)
	}
}

// =============================================================================
// Unconnected client behaviour
// =============================================================================

func TestUnconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("t", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"subscribe empty topic", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 3, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, noop), ErrNotConnected},
		{"unsubscribe empty topic", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.wantErr)
		}
	}

	if c.SubscriptionCount() != 0 || c.HasSubscription("t") {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestDispatch_RecoversPanicsAndLogsErrors(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	var called bool
	c.dispatch(func(topic string, payload []byte) error {
		called = topic == "t" && string(payload) == "x"
		return nil
	}, "t", []byte("x"))

	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("errors=%v warns=%v, want one of each", logger.errors, logger.warns)
	}
	if !called {
		t.Error("handler not called with topic and payload")
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping connect timeout test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	// ConnectRetry keeps paho retrying, so the failure surfaces as a timeout.
	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestBroker_ConnectAndClose(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestBroker_PublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := client.Topics()
	got := make(chan string, 1)
	err = client.Subscribe(topics.AllDeviceSets(), 1, func(topic string, payload []byte) error {
		id, _ := topics.ParseDeviceSet(topic)
		got <- id + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllDeviceSets()) {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topics.DeviceSet("d1"), []byte("ON"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != "d1=ON" {
			t.Errorf("received %q, want d1=ON", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := client.Unsubscribe(topics.AllDeviceSets()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestBroker_RetainedStateAndClear(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := client.Topics().DeviceState("retained-test")
	if err := client.PublishRetained(topic, []byte(`{"on":true}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	got := make(chan string, 1)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		got <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != `{"on":true}` {
			t.Errorf("retained payload = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained message not delivered")
	}

	if err := client.ClearRetained(topic); err != nil {
		t.Errorf("ClearRetained() error = %v", err)
	}
}
