// Homismart client.
//
// Connects to the Homismart cloud service, keeps the session alive and
// prints the account's hubs and devices. It can switch one device by name,
// watch events for a while, or run as a daemon that serves the local API
// and mirrors devices to an MQTT broker.
//
//	homismart                                  list hubs and devices, then exit
//	homismart -device "Office Light" -action off
//	homismart -monitor 5m                      log events for five minutes
//
// Credentials come from HOMISMART_USERNAME and HOMISMART_PASSWORD, a .env
// file, or config.yaml.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/homismart-go/internal/api"
	"github.com/nerrad567/homismart-go/internal/auth"
	mqttbridge "github.com/nerrad567/homismart-go/internal/bridges/mqtt"
	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/infrastructure/config"
	"github.com/nerrad567/homismart-go/internal/infrastructure/logging"
	"github.com/nerrad567/homismart-go/internal/infrastructure/metrics"
	"github.com/nerrad567/homismart-go/internal/infrastructure/mqtt"
	"github.com/nerrad567/homismart-go/internal/session"
	"github.com/nerrad567/homismart-go/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when it exists and neither -config nor
	// HOMISMART_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// deviceListTimeout bounds the wait for the first device list after login.
	deviceListTimeout = 30 * time.Second

	commandTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second

	// defaultTokenTTL applies to -issue-token when -token-ttl is not given.
	defaultTokenTTL = 30 * 24 * time.Hour
)

// Device actions accepted by -action.
const (
	actionOn     = "on"
	actionOff    = "off"
	actionToggle = "toggle"
)

// options are the parsed command line flags.
type options struct {
	configPath string
	deviceName string
	action     string
	monitor    time.Duration
	version    bool
	issueToken string
	tokenTTL   time.Duration
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.version {
		fmt.Printf("homismart %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options and checks flag combinations.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("homismart", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to config.yaml (default $HOMISMART_CONFIG or "+defaultConfigPath+")")
	fs.StringVar(&opts.deviceName, "device", "", "name of a switchable device to act on")
	fs.StringVar(&opts.action, "action", "", "action for -device: on, off or toggle (default toggle)")
	fs.DurationVar(&opts.monitor, "monitor", 0, "keep running and log events for this long")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API bearer token for this subject and exit")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", 0, "lifetime of -issue-token tokens (default 720h)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.action = strings.ToLower(strings.TrimSpace(opts.action))
	switch {
	case opts.action != "" && opts.deviceName == "":
		return options{}, fmt.Errorf("-action requires -device")
	case opts.deviceName != "" && opts.action == "":
		opts.action = actionToggle
	}
	switch opts.action {
	case "", actionOn, actionOff, actionToggle:
	default:
		return options{}, fmt.Errorf("unknown action %q (want on, off or toggle)", opts.action)
	}
	if opts.monitor < 0 {
		return options{}, fmt.Errorf("-monitor must not be negative")
	}
	if opts.tokenTTL < 0 {
		return options{}, fmt.Errorf("-token-ttl must not be negative")
	}
	if opts.issueToken != "" && (opts.deviceName != "" || opts.monitor > 0) {
		return options{}, fmt.Errorf("-issue-token cannot be combined with -device or -monitor")
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, opts options, stdout io.Writer) error {
	log := logging.Default()
	log.Info("starting homismart client",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	if opts.issueToken != "" {
		return printToken(stdout, cfg.API.TokenSecret, opts.issueToken, opts.tokenTTL)
	}

	m := metrics.New()
	sess, err := newSession(cfg, event.NewBus(), log, m)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	listed := make(chan struct{})
	var listedOnce sync.Once
	sess.Subscribe(event.Names, func(ev event.Event) error {
		m.EventPublished(string(ev.Name))
		logEvent(log, ev)
		if ev.Name == event.DeviceListPopulated {
			listedOnce.Do(func() { close(listed) })
		}
		return nil
	})

	// Daemon components start before the session so they see every event.
	if cfg.MQTT.Enabled {
		stop, mqttErr := startMQTTBridge(ctx, cfg, sess, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer stop()
	}
	if cfg.API.Enabled {
		stop, apiErr := startAPI(ctx, cfg, sess, log, m)
		if apiErr != nil {
			return apiErr
		}
		defer stop()
	}

	connErr := make(chan error, 1)
	defer func() {
		log.Info("disconnecting session")
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sess.Disconnect(dctx); err != nil {
			log.Error("error disconnecting session", "error", err)
		}
	}()
	go func() { connErr <- sess.Connect(ctx) }()

	loginCtx, cancelLogin := context.WithTimeout(ctx, cfg.GetLoginTimeout())
	err = sess.WaitAuthenticated(loginCtx)
	cancelLogin()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("waiting for login: %w", err)
	}
	log.Info("logged in", "username", sess.Username())

	select {
	case <-listed:
	case <-time.After(deviceListTimeout):
		log.Warn("device list not received", "timeout", deviceListTimeout)
	case <-ctx.Done():
		return nil
	}

	printInventory(stdout, sess.Hubs(), sess.Devices())

	if opts.deviceName != "" {
		if err := applyAction(ctx, sess, opts.deviceName, opts.action, log); err != nil {
			return err
		}
	}

	daemon := cfg.API.Enabled || cfg.MQTT.Enabled
	if !daemon && opts.monitor == 0 {
		return nil
	}

	var deadline <-chan time.Time
	if opts.monitor > 0 {
		log.Info("monitoring events", "duration", opts.monitor)
		timer := time.NewTimer(opts.monitor)
		defer timer.Stop()
		deadline = timer.C
	} else {
		log.Info("running until interrupted")
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-deadline:
		log.Info("monitoring finished")
	case err := <-connErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session ended: %w", err)
		}
	}
	return nil
}

// getConfigPath picks the configuration file: the flag, then
// HOMISMART_CONFIG, then defaultConfigPath if present. An empty result
// means defaults plus environment only.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("HOMISMART_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// newSession builds a session from configuration.
func newSession(cfg *config.Config, bus *event.Bus, log *logging.Logger, m *metrics.Metrics) (*session.Session, error) {
	ws := cfg.Homismart.WebSocket
	factory := transport.WebSocketFactory(transport.WebSocketConfig{
		URL:              cfg.Homismart.URL,
		HandshakeTimeout: config.Seconds(ws.HandshakeTimeout),
		PingInterval:     config.Seconds(ws.PingInterval),
		PongTimeout:      config.Seconds(ws.PongTimeout),
		MaxMessageSize:   ws.MaxMessageSize,
	}, log)

	rc := cfg.Homismart.Reconnect
	return session.New(session.Options{
		Credentials: auth.Credentials{
			Username: cfg.Homismart.Username,
			Password: cfg.Homismart.Password,
		},
		Transport: factory,
		Reconnect: session.ReconnectPolicy{
			InitialDelay: config.Seconds(rc.InitialDelay),
			MaxDelay:     config.Seconds(rc.MaxDelay),
			Multiplier:   rc.Multiplier,
			Jitter:       session.DefaultReconnectPolicy().Jitter,
			MaxAttempts:  rc.MaxAttempts,
		},
		LoginTimeout: cfg.GetLoginTimeout(),
		Bus:          bus,
		Logger:       log,
		Metrics:      m,
	})
}

// startMQTTBridge connects to the broker and starts mirroring. The
// returned func stops the bridge and closes the client.
func startMQTTBridge(ctx context.Context, cfg *config.Config, sess *session.Session, log *logging.Logger) (func(), error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := mqttbridge.NewBridge(mqttbridge.Options{
		Client:  client,
		Session: sess,
		Topics:  client.Topics(),
		QoS:     client.QoS(),
		Logger:  log,
	})
	if err == nil {
		err = bridge.Start(ctx)
	}
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started", "prefix", client.Topics().Prefix())

	return func() {
		log.Info("stopping MQTT bridge", "stats", bridge.GetStats())
		bridge.Stop()
		if err := client.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}, nil
}

// startAPI starts the local HTTP API. The returned func shuts it down.
func startAPI(ctx context.Context, cfg *config.Config, sess *session.Session, log *logging.Logger, m *metrics.Metrics) (func(), error) {
	srv, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.Homismart.WebSocket,
		Logger:  log,
		Session: sess,
		Metrics: m,
		Version: version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return func() {
		if err := srv.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}, nil
}

// commander is the part of the session applyAction needs.
type commander interface {
	FindDeviceByName(name string) (device.Snapshot, bool)
	TurnOn(ctx context.Context, id string) error
	TurnOff(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) error
}

// applyAction switches the named device.
func applyAction(ctx context.Context, sess commander, name, action string, log *logging.Logger) error {
	snap, ok := sess.FindDeviceByName(name)
	if !ok {
		return fmt.Errorf("device %q not found", name)
	}
	if !snap.IsSwitchable() {
		return fmt.Errorf("device %q (%s) is not switchable", name, snap.TypeName)
	}
	if !snap.Online {
		log.Warn("device is offline, not sending command", "device", name, "id", snap.ID, "action", action)
		return fmt.Errorf("device %q is offline", name)
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch action {
	case actionOn:
		err = sess.TurnOn(cctx, snap.ID)
	case actionOff:
		err = sess.TurnOff(cctx, snap.ID)
	default:
		err = sess.Toggle(cctx, snap.ID)
	}
	if err != nil {
		return fmt.Errorf("%s %q: %w", action, name, err)
	}
	log.Info("command sent", "device", name, "id", snap.ID, "action", action, "was_on", snap.IsOn())
	return nil
}

// printToken signs a bearer token for the local API and writes it to w.
func printToken(w io.Writer, secret, subject string, ttl time.Duration) error {
	if secret == "" {
		return fmt.Errorf("api.token_secret is not set (set HOMISMART_API_TOKEN_SECRET)")
	}
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	token, err := api.IssueToken(secret, subject, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

// printInventory writes hubs and devices as aligned columns.
func printInventory(w io.Writer, hubs, devices []device.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Hubs (%d)\n", len(hubs))
	for _, h := range hubs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", h.ID, h.Name, onlineLabel(h.Online))
	}
	fmt.Fprintf(tw, "Devices (%d)\n", len(devices))
	for _, d := range devices {
		power := "-"
		if d.IsSwitchable() {
			power = "off"
			if d.IsOn() {
				power = "on"
			}
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.TypeName, onlineLabel(d.Online), power)
	}
	//nolint:errcheck // Best-effort console output
	tw.Flush()
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// logEvent writes one bus event to the log. Device churn goes to debug.
func logEvent(log *logging.Logger, ev event.Event) {
	switch p := ev.Payload.(type) {
	case device.Snapshot:
		log.Debug("event", "event", string(ev.Name), "id", p.ID, "name", p.Name, "online", p.Online, "on", p.IsOn())
	case event.StateChange:
		log.Info("event", "event", string(ev.Name), "from", p.From, "to", p.To)
	case event.ErrorInfo:
		log.Warn("event", "event", string(ev.Name), "type", p.Type, "class", p.Class, "message", p.Message)
	case event.Failure:
		log.Error("event", "event", string(ev.Name), "reason", p.Reason, "error", p.Error)
	case event.ListSummary:
		log.Info("event", "event", string(ev.Name), "devices", p.Devices, "hubs", p.Hubs)
	default:
		log.Info("event", "event", string(ev.Name), "payload", p)
	}
}
