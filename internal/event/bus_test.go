package event

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingLogger captures warn/error calls.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func TestBus_RegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int

	for i := 1; i <= 3; i++ {
		bus.Subscribe(DeviceUpdated, func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	bus.Publish(DeviceUpdated, "dev-1")
	bus.Publish(DeviceUpdated, "dev-1")

	want := []int{1, 2, 3, 1, 2, 3}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("delivery order = %v, want %v", order, want)
	}
}

func TestBus_OnlyMatchingName(t *testing.T) {
	bus := NewBus()
	var got []Name

	bus.Subscribe(NewDeviceAdded, func(e Event) error {
		got = append(got, e.Name)
		return nil
	})

	bus.Publish(DeviceUpdated, nil)
	bus.Publish(NewDeviceAdded, nil)

	if len(got) != 1 || got[0] != NewDeviceAdded {
		t.Errorf("received %v, want [%s]", got, NewDeviceAdded)
	}
}

func TestBus_PayloadAndTimestamp(t *testing.T) {
	bus := NewBus()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	var got Event
	bus.Subscribe(SessionAuthenticated, func(e Event) error {
		got = e
		return nil
	})

	bus.Publish(SessionAuthenticated, "user@example.com")

	if got.Payload != "user@example.com" {
		t.Errorf("Payload = %v, want user@example.com", got.Payload)
	}
	if !got.At.Equal(fixed) {
		t.Errorf("At = %v, want %v", got.At, fixed)
	}
}

func TestBus_ErrorAndPanicDoNotStopDelivery(t *testing.T) {
	bus := NewBus()
	logger := &recordingLogger{}
	bus.SetLogger(logger)

	var reached bool
	bus.Subscribe(DeviceUpdated, func(Event) error { return errors.New("boom") })
	bus.Subscribe(DeviceUpdated, func(Event) error { panic("handler bug") })
	bus.Subscribe(DeviceUpdated, func(Event) error {
		reached = true
		return nil
	})

	bus.Publish(DeviceUpdated, nil)

	if !reached {
		t.Error("third handler was not called after error and panic")
	}
	if len(logger.warns) != 1 {
		t.Errorf("warn count = %d, want 1", len(logger.warns))
	}
	if len(logger.errs) != 1 {
		t.Errorf("error count = %d, want 1", len(logger.errs))
	}
}

func TestSubscription_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0

	sub := bus.SubscribeMany([]Name{DeviceUpdated, HubUpdated}, func(Event) error {
		calls++
		return nil
	})
	bus.Publish(DeviceUpdated, nil)
	bus.Publish(HubUpdated, nil)

	sub.Unsubscribe()
	sub.Unsubscribe()

	bus.Publish(DeviceUpdated, nil)
	bus.Publish(HubUpdated, nil)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if n := bus.Count(DeviceUpdated); n != 0 {
		t.Errorf("Count(DeviceUpdated) = %d, want 0", n)
	}
}

func TestSubscription_UnsubscribeKeepsOthersInOrder(t *testing.T) {
	bus := NewBus()
	var order []string

	add := func(tag string) *Subscription {
		return bus.Subscribe(DeviceUpdated, func(Event) error {
			order = append(order, tag)
			return nil
		})
	}
	add("a")
	b := add("b")
	add("c")

	b.Unsubscribe()
	bus.Publish(DeviceUpdated, nil)

	if fmt.Sprint(order) != "[a c]" {
		t.Errorf("order = %v, want [a c]", order)
	}
}

func TestBus_SubscribeFromHandler(t *testing.T) {
	bus := NewBus()
	inner := 0

	bus.Subscribe(DeviceUpdated, func(Event) error {
		bus.Subscribe(DeviceUpdated, func(Event) error {
			inner++
			return nil
		})
		return nil
	})

	// The handler added during the first publish only sees the second.
	bus.Publish(DeviceUpdated, nil)
	if inner != 0 {
		t.Fatalf("inner = %d after first publish, want 0", inner)
	}
	bus.Publish(DeviceUpdated, nil)
	if inner != 1 {
		t.Errorf("inner = %d after second publish, want 1", inner)
	}
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe(DeviceUpdated, func(Event) error {
				mu.Lock()
				total++
				mu.Unlock()
				return nil
			})
			for j := 0; j < 50; j++ {
				bus.Publish(DeviceUpdated, j)
			}
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if bus.Count(DeviceUpdated) != 0 {
		t.Errorf("Count() = %d, want 0 after all unsubscribed", bus.Count(DeviceUpdated))
	}
	if total == 0 {
		t.Error("no deliveries observed")
	}
}
