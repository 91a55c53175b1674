package session

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/homismart-go/internal/auth"
	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/transport"
	"github.com/nerrad567/homismart-go/internal/transport/transporttest"
)

func TestNew_Validation(t *testing.T) {
	d := transporttest.NewDialer(nil)
	tests := []struct {
		name string
		opts Options
	}{
		{"missing username", Options{Credentials: auth.Credentials{Password: "pw"}, Transport: d.Factory()}},
		{"missing password", Options{Credentials: auth.Credentials{Username: "u"}, Transport: d.Factory()}},
		{"missing transport", Options{Credentials: testCreds}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("New() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestSession_ConnectAuthenticatesAndPopulates(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	if !h.s.IsLoggedIn() || !h.s.IsConnected() {
		t.Errorf("IsLoggedIn/IsConnected = %v/%v, want true/true", h.s.IsLoggedIn(), h.s.IsConnected())
	}
	if got := h.s.Username(); got != "user@example.com" {
		t.Errorf("Username() = %q", got)
	}

	wantTransitions := []string{
		"disconnected->connecting",
		"connecting->connected_unauthenticated",
		"connected_unauthenticated->authenticated",
	}
	if got := h.events.transitions(); !reflect.DeepEqual(got, wantTransitions) {
		t.Errorf("transitions = %v, want %v", got, wantTransitions)
	}

	var order []event.Name
	for _, ev := range h.events.all() {
		if ev.Name != event.SessionStateChanged {
			order = append(order, ev.Name)
		}
	}
	wantOrder := []event.Name{
		event.SessionAuthenticated,
		event.NewHubAdded,
		event.NewDeviceAdded,
		event.NewDeviceAdded,
		event.DeviceListPopulated,
	}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("event order = %v, want %v", order, wantOrder)
	}

	summary := h.events.named(event.DeviceListPopulated)[0].Payload.(event.ListSummary)
	if summary != (event.ListSummary{Devices: 2, Hubs: 1}) {
		t.Errorf("ListSummary = %+v, want 2 devices and 1 hub", summary)
	}

	if got := len(h.s.Devices()); got != 2 {
		t.Errorf("len(Devices()) = %d, want 2", got)
	}
	if got := len(h.s.Hubs()); got != 1 {
		t.Errorf("len(Hubs()) = %d, want 1", got)
	}

	sent := h.dialer.Get(1).Sent()
	if len(sent) != 2 || string(sent[1]) != "0004{}" {
		t.Errorf("Sent() = %q, want login then list request", sent)
	}
}

func TestSession_StateUpdateIsVisible(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	lamp, ok := h.s.Device("d1")
	if !ok {
		t.Fatal("Device(d1) not found")
	}
	if lamp.IsOn() {
		t.Fatal("lamp should start off")
	}

	h.dialer.Get(1).Push(`0009{"id":"d1","on":true}`)
	updates := h.events.waitFor(t, event.DeviceUpdated, 1)

	snap := updates[0].Payload.(device.Snapshot)
	if snap.ID != "d1" || !snap.IsOn() {
		t.Errorf("device_updated payload = %+v, want d1 on", snap)
	}
	if !lamp.IsOn() {
		t.Error("handle obtained before the update should observe the new state")
	}
	again, _ := h.s.Device("d1")
	if again != lamp {
		t.Error("Device() returned a different handle for the same id")
	}
}

func TestSession_ReconnectPreservesIdentity(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	before, _ := h.s.Device("d1")

	h.dialer.Get(1).Drop(transport.ErrConnectionLost)
	h.events.waitFor(t, event.SessionAuthenticated, 2)
	h.events.waitFor(t, event.DeviceListPopulated, 2)

	after, ok := h.s.Device("d1")
	if !ok || after != before {
		t.Error("reconnect replaced the device handle")
	}
	if h.dialer.Count() != 2 {
		t.Errorf("dialer.Count() = %d, want 2", h.dialer.Count())
	}

	got := h.events.transitions()
	want := []string{
		"disconnected->connecting",
		"connecting->connected_unauthenticated",
		"connected_unauthenticated->authenticated",
		"authenticated->reconnecting",
		"reconnecting->connecting",
		"connecting->connected_unauthenticated",
		"connected_unauthenticated->authenticated",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	// Entries seen again are updates, not additions.
	if n := len(h.events.named(event.NewDeviceAdded)); n != 2 {
		t.Errorf("new_device_added count = %d, want 2", n)
	}

	errs := h.events.named(event.SessionError)
	if len(errs) != 1 || errs[0].Payload.(event.ErrorInfo).Class != "connection_lost" {
		t.Errorf("session_error events = %+v, want one connection_lost", errs)
	}
	if got := h.metrics.reconnectCount(); got != 1 {
		t.Errorf("ReconnectAttempt count = %d, want 1", got)
	}
}

func TestSession_DisconnectDuringBackoff(t *testing.T) {
	slow := ReconnectPolicy{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	h := newHarness(t, slow, func(_ int, f *transporttest.Fake) {
		f.FailConnect(transport.ErrConnectionFailed)
	})
	h.start(t)
	// disconnected->connecting, connecting->reconnecting
	h.events.waitFor(t, event.SessionStateChanged, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := h.result(t); err != nil {
		t.Errorf("Connect() error = %v, want nil after Disconnect", err)
	}

	if h.s.State() != Stopped {
		t.Errorf("State() = %s, want stopped", h.s.State())
	}
	if h.dialer.Count() != 1 {
		t.Errorf("dialer.Count() = %d, want no attempt after Disconnect", h.dialer.Count())
	}

	got := h.events.transitions()
	if last := got[len(got)-1]; last != "reconnecting->stopped" {
		t.Errorf("last transition = %q, want reconnecting->stopped", last)
	}
	for _, tr := range got {
		if strings.HasPrefix(tr, "stopped->") {
			t.Errorf("transition out of stopped: %s", tr)
		}
	}
	if n := len(h.events.named(event.SessionStopped)); n != 1 {
		t.Errorf("session_stopped count = %d, want 1", n)
	}
}

func TestSession_AuthenticationFailureIsTerminal(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginDenied))
	h.start(t)

	err := h.result(t)
	if !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("Connect() error = %v, want ErrAuthenticationFailed", err)
	}
	if h.s.State() != Disconnected {
		t.Errorf("State() = %s, want disconnected", h.s.State())
	}
	if h.dialer.Count() != 1 {
		t.Errorf("dialer.Count() = %d, want a single attempt", h.dialer.Count())
	}

	failed := h.events.named(event.ConnectionFailed)
	if len(failed) != 1 || failed[0].Payload.(event.Failure).Reason != event.ReasonAuthentication {
		t.Errorf("connection_failed events = %+v", failed)
	}
	if !errors.Is(h.s.Err(), auth.ErrAuthenticationFailed) {
		t.Errorf("Err() = %v", h.s.Err())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.s.WaitAuthenticated(ctx); !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Errorf("WaitAuthenticated() error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestSession_RetriesExhausted(t *testing.T) {
	policy := fastPolicy
	policy.MaxAttempts = 3
	h := newHarness(t, policy, func(_ int, f *transporttest.Fake) {
		f.FailConnect(transport.ErrConnectionFailed)
	})
	h.start(t)

	err := h.result(t)
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, transport.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrRetriesExhausted wrapping ErrConnectionFailed", err)
	}
	if h.dialer.Count() != 3 {
		t.Errorf("dialer.Count() = %d, want 3", h.dialer.Count())
	}
	if h.s.State() != Stopped {
		t.Errorf("State() = %s, want stopped", h.s.State())
	}

	failed := h.events.named(event.ConnectionFailed)
	if len(failed) != 1 || failed[0].Payload.(event.Failure).Reason != event.ReasonRetriesExhausted {
		t.Errorf("connection_failed events = %+v", failed)
	}
	if n := len(h.events.named(event.SessionError)); n != 3 {
		t.Errorf("session_error count = %d, want 3", n)
	}
	if err := h.s.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Connect() after exhaustion = %v, want ErrStopped", err)
	}
}

func TestSession_HandshakeFailureIsRetried(t *testing.T) {
	h := newHarness(t, fastPolicy, func(n int, f *transporttest.Fake) {
		if n == 1 {
			// First attempt: the server hangs up before answering the login.
			f.OnSend = func(f *transporttest.Fake, _ []byte) {
				f.Drop(transport.ErrConnectionLost)
			}
			return
		}
		scripted(loginOK)(n, f)
	})
	h.authenticated(t)

	errs := h.events.named(event.SessionError)
	if len(errs) != 1 || errs[0].Payload.(event.ErrorInfo).Class != "handshake_failed" {
		t.Errorf("session_error events = %+v, want one handshake_failed", errs)
	}
}

func TestSession_DisconnectClearsRegistry(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := h.result(t); err != nil {
		t.Errorf("Connect() error = %v", err)
	}

	if h.s.State() != Stopped {
		t.Errorf("State() = %s, want stopped", h.s.State())
	}
	if n := len(h.s.Devices()) + len(h.s.Hubs()); n != 0 {
		t.Errorf("registry holds %d entries after Disconnect", n)
	}
	if !h.dialer.Get(1).Closed() {
		t.Error("transport not closed")
	}
	if err := h.s.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
	if n := len(h.events.named(event.SessionStopped)); n != 1 {
		t.Errorf("session_stopped count = %d, want 1", n)
	}
	if err := h.s.Connect(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("Connect() after Disconnect = %v, want ErrStopped", err)
	}
	if err := h.s.WaitAuthenticated(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("WaitAuthenticated() after Disconnect = %v, want ErrStopped", err)
	}
}

func TestSession_ContextCancelStops(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	h.cancel()
	if err := h.result(t); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
	if h.s.State() != Stopped {
		t.Errorf("State() = %s, want stopped", h.s.State())
	}
	if n := len(h.events.named(event.SessionStopped)); n != 1 {
		t.Errorf("session_stopped count = %d, want 1", n)
	}
	if len(h.s.Devices()) != 0 {
		t.Error("registry not cleared")
	}
}

func TestSession_ConnectTwice(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	if err := h.s.Connect(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestSession_DisconnectBeforeConnect(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))

	if err := h.s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if h.s.State() != Stopped {
		t.Errorf("State() = %s, want stopped", h.s.State())
	}
	if err := h.s.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Connect() error = %v, want ErrStopped", err)
	}
	if h.dialer.Count() != 0 {
		t.Errorf("dialer.Count() = %d, want 0", h.dialer.Count())
	}
}

func TestSession_WaitAuthenticatedHonoursContext(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.s.WaitAuthenticated(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitAuthenticated() error = %v, want DeadlineExceeded", err)
	}
}

func TestSession_RemovalAndFindByName(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	if snap, ok := h.s.FindDeviceByName("lamp"); !ok || snap.ID != "d1" {
		t.Errorf("FindDeviceByName(lamp) = %+v, %v", snap, ok)
	}

	h.dialer.Get(1).Push(`0013{"id":"d1"}`)
	removed := h.events.waitFor(t, event.DeviceRemoved, 1)
	if removed[0].Payload.(device.Snapshot).ID != "d1" {
		t.Errorf("device_removed payload = %+v", removed[0].Payload)
	}
	if _, ok := h.s.Device("d1"); ok {
		t.Error("d1 still present after removal")
	}
}

func TestSession_BadFramesDoNotEndSession(t *testing.T) {
	h := newHarness(t, fastPolicy, scripted(loginOK))
	h.authenticated(t)

	f := h.dialer.Get(1)
	f.Push(`garbage`)
	f.Push(`0009{"name":"no id"}`)
	f.Push(`9999{"code":"E42","message":"quota exceeded"}`)
	f.Push(`0009{"id":"d1","on":true}`)

	h.events.waitFor(t, event.DeviceUpdated, 1)

	errs := h.events.named(event.SessionError)
	want := event.ErrorInfo{Type: "server", Class: "E42", Message: "quota exceeded"}
	if len(errs) != 1 || errs[0].Payload.(event.ErrorInfo) != want {
		t.Errorf("session_error events = %+v, want %+v", errs, want)
	}
	if got := h.metrics.malformedCount(); got != 2 {
		t.Errorf("FrameMalformed count = %d, want 2", got)
	}
	if !h.s.IsLoggedIn() {
		t.Error("session should still be authenticated")
	}
}

func TestSession_SwitchLifecycle(t *testing.T) {
	setup := func(_ int, f *transporttest.Fake) {
		f.OnSend = func(f *transporttest.Fake, frame []byte) {
			switch {
			case strings.HasPrefix(string(frame), "0002"):
				f.Push(loginOK)
			case strings.HasPrefix(string(frame), "0004"):
				f.Push(`0005{"devices":[],"hubs":[]}`)
			}
		}
	}
	h := newHarness(t, fastPolicy, setup)
	h.authenticated(t)
	f := h.dialer.Get(1)

	f.Push(`0009{"id":"dev-1","type":"switchable","name":"Office Light","online":true,"on":true}`)
	h.events.waitFor(t, event.NewDeviceAdded, 1)

	if err := h.s.TurnOff(context.Background(), "dev-1"); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	sent := f.Sent()
	if got, want := string(sent[len(sent)-1]), `0006{"id":"dev-1","command":"turn_off"}`; got != want {
		t.Errorf("last frame = %s, want %s", got, want)
	}

	f.Push(`0009{"id":"dev-1","on":false}`)
	h.events.waitFor(t, event.DeviceUpdated, 1)

	devices := h.s.Devices()
	if len(devices) != 1 {
		t.Fatalf("Devices() len = %d, want 1", len(devices))
	}
	if devices[0].Name != "Office Light" || devices[0].IsOn() {
		t.Errorf("device = %+v, want Office Light switched off", devices[0])
	}
}

func TestSession_DisconnectDuringHandshake(t *testing.T) {
	// The fake never answers the login frame.
	h := newHarness(t, fastPolicy, func(int, *transporttest.Fake) {})
	h.start(t)
	// disconnected->connecting, connecting->connected_unauthenticated
	h.events.waitFor(t, event.SessionStateChanged, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := h.result(t); err != nil {
		t.Errorf("Connect() error = %v, want nil after Disconnect", err)
	}

	if h.s.State() != Stopped {
		t.Errorf("State() = %s, want stopped", h.s.State())
	}
	if h.dialer.Count() != 1 {
		t.Errorf("dialer.Count() = %d, want 1", h.dialer.Count())
	}
	if !h.dialer.Get(1).Closed() {
		t.Error("transport not closed after Disconnect")
	}
	got := h.events.transitions()
	if last := got[len(got)-1]; last != "connected_unauthenticated->stopped" {
		t.Errorf("last transition = %q, want connected_unauthenticated->stopped", last)
	}
}

func TestSession_StateAnnouncementsStayOrdered(t *testing.T) {
	gm := newGatedMetrics()
	d := transporttest.NewDialer(scripted(loginOK))
	s, err := New(Options{
		Credentials:  testCreds,
		Transport:    d.Factory(),
		Reconnect:    fastPolicy,
		LoginTimeout: time.Second,
		Metrics:      gm,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := record(s.Bus())

	connected := make(chan error, 1)
	go func() { connected <- s.Connect(context.Background()) }()

	select {
	case <-gm.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("authenticated state never announced")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- s.Disconnect(ctx)
	}()
	// Let Disconnect race the announcement still in flight.
	time.Sleep(20 * time.Millisecond)
	close(gm.release)

	for _, ch := range []chan error{stopped, connected} {
		select {
		case err := <-ch:
			if err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("session did not stop")
		}
	}

	got := rec.transitions()
	for i := 1; i < len(got); i++ {
		prevTo := got[i-1][strings.Index(got[i-1], "->")+2:]
		from := got[i][:strings.Index(got[i], "->")]
		if from != prevTo {
			t.Errorf("transition %d = %s does not follow %s", i, got[i], got[i-1])
		}
	}
	if last := got[len(got)-1]; last != "authenticated->stopped" {
		t.Errorf("last transition = %q, want authenticated->stopped", last)
	}
	states := gm.stateChanges()
	if last := states[len(states)-1]; last != "authenticated->stopped" {
		t.Errorf("last metrics state change = %q, want authenticated->stopped", last)
	}

	authAt, stopAt := -1, -1
	for i, ev := range rec.all() {
		switch ev.Name {
		case event.SessionAuthenticated:
			authAt = i
		case event.SessionStopped:
			stopAt = i
		}
	}
	if stopAt < 0 {
		t.Fatal("session_stopped not published")
	}
	if authAt > stopAt {
		t.Errorf("session_authenticated published after session_stopped")
	}
}
