package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/event"
	mqttclient "github.com/nerrad567/homismart-go/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one session command triggered from MQTT.
	commandTimeout = 5 * time.Second

	// queueSize is the number of pending publications before updates are dropped.
	queueSize = 256
)

// Client is the MQTT surface the bridge needs. *mqttclient.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Session is the part of session.Session the bridge uses.
type Session interface {
	Subscribe(names []event.Name, handler event.Handler) *event.Subscription
	Devices() []device.Snapshot
	Hubs() []device.Snapshot
	TurnOn(ctx context.Context, id string) error
	TurnOff(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) error
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Client  Client
	Session Session
	Topics  mqttclient.Topics
	QoS     byte
	Logger  Logger
}

// publication is one queued message.
type publication struct {
	topic   string
	payload []byte
}

// Stats are bridge counters.
type Stats struct {
	Published      uint64 `json:"published"`
	PublishErrors  uint64 `json:"publish_errors"`
	Dropped        uint64 `json:"dropped"`
	CommandsOK     uint64 `json:"commands_ok"`
	CommandsFailed uint64 `json:"commands_failed"`
}

// Bridge mirrors session events to MQTT and MQTT commands to the session.
// All methods are safe for concurrent use.
type Bridge struct {
	client  Client
	session Session
	topics  mqttclient.Topics
	qos     byte
	logger  Logger

	queue chan publication
	sub   *event.Subscription

	started   atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once

	published      atomic.Uint64
	publishErrors  atomic.Uint64
	dropped        atomic.Uint64
	commandsOK     atomic.Uint64
	commandsFailed atomic.Uint64
}

// bridgedEvents are the bus events the bridge mirrors.
var bridgedEvents = []event.Name{
	event.NewDeviceAdded, event.DeviceUpdated, event.DeviceRemoved,
	event.NewHubAdded, event.HubUpdated, event.HubRemoved,
	event.SessionStateChanged, event.ConnectionFailed, event.SessionStopped,
}

// NewBridge creates a stopped bridge.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidOptions)
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidOptions)
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidOptions, opts.QoS)
	}
	if opts.Topics.Prefix() == "" {
		opts.Topics = mqttclient.NewTopics("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:    opts.Client,
		session:   opts.Session,
		topics:    opts.Topics,
		qos:       opts.QoS,
		logger:    logger,
		queue:     make(chan publication, queueSize),
		ctx:       ctx,
		ctxCancel: cancel,
		done:      make(chan struct{}),
	}, nil
}

// Start subscribes to command topics and session events, then publishes
// the current registry contents.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrBridgeStopped
	default:
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := b.client.Subscribe(b.topics.AllDeviceSets(), b.qos, b.handleSet); err != nil {
		b.started.Store(false)
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", b.topics.AllDeviceSets())

	b.wg.Add(1)
	go b.publishLoop()

	b.sub = b.session.Subscribe(bridgedEvents, b.handleEvent)

	hubs, devices := b.session.Hubs(), b.session.Devices()
	for _, s := range hubs {
		b.enqueueState(s)
	}
	for _, s := range devices {
		b.enqueueState(s)
	}

	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix(), "devices", len(devices), "hubs", len(hubs))
	return nil
}

// Stop unsubscribes, drains queued publications and waits for the worker.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.sub != nil {
			b.sub.Unsubscribe()
		}
		if b.started.Load() && b.client.IsConnected() {
			if err := b.client.Unsubscribe(b.topics.AllDeviceSets()); err != nil {
				b.logger.Warn("unsubscribing from commands", "error", err)
			}
		}
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.logger.Info("mqtt bridge stopped")
	})
}

// GetStats returns bridge counters.
func (b *Bridge) GetStats() Stats {
	return Stats{
		Published:      b.published.Load(),
		PublishErrors:  b.publishErrors.Load(),
		Dropped:        b.dropped.Load(),
		CommandsOK:     b.commandsOK.Load(),
		CommandsFailed: b.commandsFailed.Load(),
	}
}

// handleEvent runs on the session goroutine and only enqueues.
func (b *Bridge) handleEvent(ev event.Event) error {
	switch ev.Name {
	case event.NewDeviceAdded, event.DeviceUpdated, event.NewHubAdded, event.HubUpdated:
		snap, ok := ev.Payload.(device.Snapshot)
		if !ok {
			return fmt.Errorf("unexpected %s payload %T", ev.Name, ev.Payload)
		}
		b.enqueueState(snap)

	case event.DeviceRemoved, event.HubRemoved:
		snap, ok := ev.Payload.(device.Snapshot)
		if !ok {
			return fmt.Errorf("unexpected %s payload %T", ev.Name, ev.Payload)
		}
		b.enqueue(b.stateTopic(snap), nil)

	case event.SessionStateChanged:
		if sc, ok := ev.Payload.(event.StateChange); ok {
			b.enqueueSession(SessionMessage{State: sc.To}, ev.At)
		}

	case event.ConnectionFailed:
		if f, ok := ev.Payload.(event.Failure); ok {
			b.enqueueSession(SessionMessage{State: "failed", Reason: f.Reason, Error: f.Error}, ev.At)
		}

	case event.SessionStopped:
		b.enqueueSession(SessionMessage{State: "stopped"}, ev.At)
	}
	return nil
}

// handleSet turns a set message into a session command.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	id, ok := b.topics.ParseDeviceSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	action, err := ParseAction(payload)
	if err != nil {
		b.commandsFailed.Add(1)
		return fmt.Errorf("device %s: %w", id, err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch action {
	case ActionOn:
		err = b.session.TurnOn(ctx, id)
	case ActionOff:
		err = b.session.TurnOff(ctx, id)
	case ActionToggle:
		err = b.session.Toggle(ctx, id)
	}
	if err != nil {
		b.commandsFailed.Add(1)
		return fmt.Errorf("device %s %s: %w", id, action, err)
	}

	b.commandsOK.Add(1)
	b.logger.Debug("mqtt command forwarded", "id", id, "action", string(action))
	return nil
}

func (b *Bridge) stateTopic(s device.Snapshot) string {
	if s.Kind == device.KindHub {
		return b.topics.HubState(s.ID)
	}
	return b.topics.DeviceState(s.ID)
}

func (b *Bridge) enqueueState(s device.Snapshot) {
	payload, err := json.Marshal(NewStateMessage(s))
	if err != nil {
		b.logger.Error("encoding state", "id", s.ID, "error", err)
		return
	}
	b.enqueue(b.stateTopic(s), payload)
}

func (b *Bridge) enqueueSession(msg SessionMessage, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	msg.Timestamp = at.UTC().Format(time.RFC3339)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encoding session state", "error", err)
		return
	}
	b.enqueue(b.topics.Session(), payload)
}

// enqueue never blocks; a full queue drops the update.
func (b *Bridge) enqueue(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- publication{topic: topic, payload: payload}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("mqtt publish queue full, dropping update", "topic", topic)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case p := <-b.queue:
			b.publish(p)
		case <-b.done:
			// Drain what is already queued so final states reach the broker.
			for {
				select {
				case p := <-b.queue:
					b.publish(p)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(p publication) {
	if err := b.client.Publish(p.topic, p.payload, b.qos, true); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("mqtt publish failed", "topic", p.topic, "error", err)
		return
	}
	b.published.Add(1)
}
