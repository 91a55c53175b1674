package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homismart-go/internal/auth"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/transport/transporttest"
)

const (
	loginOK     = `0003{"result":true,"username":"user@example.com"}`
	loginDenied = `0003{"result":false,"message":"bad password"}`
	deviceList  = `0005{"hubs":[{"id":"h1","name":"Hall Hub","online":true}],` +
		`"devices":[{"id":"d1","name":"Lamp","type":1,"on":false,"online":true},` +
		`{"id":"d2","name":"Curtain","type":4,"online":true}]}`
)

var testCreds = auth.Credentials{Username: "user@example.com", Password: "secret"}

// fastPolicy keeps reconnect delays short enough for tests.
var fastPolicy = ReconnectPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 1.5}

// scripted makes a fake answer the login frame with loginReply and the list
// request with deviceList.
func scripted(loginReply string) func(n int, f *transporttest.Fake) {
	return func(_ int, f *transporttest.Fake) {
		f.OnSend = func(f *transporttest.Fake, frame []byte) {
			switch {
			case strings.HasPrefix(string(frame), "0002"):
				f.Push(loginReply)
			case strings.HasPrefix(string(frame), "0004"):
				f.Push(deviceList)
			}
		}
	}
}

// recorder captures every event the bus publishes.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func record(bus *event.Bus) *recorder {
	r := &recorder{}
	bus.SubscribeMany(event.Names, func(ev event.Event) error {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		return nil
	})
	return r
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) named(name event.Name) []event.Event {
	var out []event.Event
	for _, ev := range r.all() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// transitions returns "from->to" for every state change, in order.
func (r *recorder) transitions() []string {
	var out []string
	for _, ev := range r.named(event.SessionStateChanged) {
		sc := ev.Payload.(event.StateChange)
		out = append(out, sc.From+"->"+sc.To)
	}
	return out
}

// waitFor polls until at least n events called name were recorded.
func (r *recorder) waitFor(t *testing.T, name event.Name, n int) []event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := r.named(name)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events, got %d", n, name, len(got))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// mockMetrics counts calls.
type mockMetrics struct {
	mu        sync.Mutex
	states    []string
	received  int
	malformed int
	sent      map[string]int
	rejected  map[string]int
	reconnect int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{sent: map[string]int{}, rejected: map[string]int{}}
}

func (m *mockMetrics) StateChanged(from, to string) {
	m.mu.Lock()
	m.states = append(m.states, from+"->"+to)
	m.mu.Unlock()
}
func (m *mockMetrics) FrameReceived()  { m.mu.Lock(); m.received++; m.mu.Unlock() }
func (m *mockMetrics) FrameMalformed() { m.mu.Lock(); m.malformed++; m.mu.Unlock() }
func (m *mockMetrics) CommandSent(c string) {
	m.mu.Lock()
	m.sent[c]++
	m.mu.Unlock()
}
func (m *mockMetrics) CommandRejected(r string) {
	m.mu.Lock()
	m.rejected[r]++
	m.mu.Unlock()
}
func (m *mockMetrics) ReconnectAttempt() { m.mu.Lock(); m.reconnect++; m.mu.Unlock() }

func (m *mockMetrics) reconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnect
}

func (m *mockMetrics) malformedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.malformed
}

// gatedMetrics blocks the first announcement of Authenticated until
// release is closed.
type gatedMetrics struct {
	*mockMetrics
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedMetrics() *gatedMetrics {
	return &gatedMetrics{
		mockMetrics: newMockMetrics(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedMetrics) StateChanged(from, to string) {
	g.mockMetrics.StateChanged(from, to)
	if to == Authenticated.String() {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
}

func (m *mockMetrics) stateChanges() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.states...)
}

// harness wires a session to a scripted dialer.
type harness struct {
	s       *Session
	dialer  *transporttest.Dialer
	events  *recorder
	metrics *mockMetrics
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, policy ReconnectPolicy, setup func(n int, f *transporttest.Fake)) *harness {
	t.Helper()
	d := transporttest.NewDialer(setup)
	m := newMockMetrics()
	s, err := New(Options{
		Credentials:  testCreds,
		Transport:    d.Factory(),
		Reconnect:    policy,
		LoginTimeout: time.Second,
		Metrics:      m,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{s: s, dialer: d, events: record(s.Bus()), metrics: m}
}

// start runs Connect in the background and stops the session at cleanup.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.s.Connect(ctx) }()

	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = h.s.Disconnect(stopCtx)
		cancel()
	})
}

// result waits for Connect to return.
func (h *harness) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
		return nil
	}
}

// authenticated starts the session and waits for the device list.
func (h *harness) authenticated(t *testing.T) {
	t.Helper()
	h.start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.WaitAuthenticated(ctx); err != nil {
		t.Fatalf("WaitAuthenticated() error = %v", err)
	}
	h.events.waitFor(t, event.DeviceListPopulated, 1)
}
