package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket defaults.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultMaxMessageSize   = 1 << 20

	// receiveBufferSize is how many inbound frames may queue before the
	// read pump blocks.
	receiveBufferSize = 64

	tlsMinVersion = tls.VersionTLS12
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64

	// TLSConfig overrides the client TLS settings. MinVersion is raised to
	// TLS 1.2 if set lower.
	TLSConfig *tls.Config
}

func (c *WebSocketConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
}

// WebSocket is a Transport over gorilla/websocket.
//
// One read pump goroutine feeds Receive and one ping loop keeps the
// connection alive. Writes from Send and the ping loop are serialised
// because gorilla connections allow a single concurrent writer.
type WebSocket struct {
	cfg WebSocketConfig

	conn    *websocket.Conn
	connMu  sync.Mutex
	writeMu sync.Mutex
	started bool

	frames     chan []byte
	framesOnce sync.Once
	done       *closeOnce
	wg         sync.WaitGroup

	connected atomic.Bool

	errMu sync.Mutex
	err   error

	logger Logger

	framesRx atomic.Uint64
	framesTx atomic.Uint64
}

// NewWebSocket creates an unconnected WebSocket transport.
func NewWebSocket(cfg WebSocketConfig, logger Logger) *WebSocket {
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}
	return &WebSocket{
		cfg:    cfg,
		frames: make(chan []byte, receiveBufferSize),
		done:   newCloseOnce(),
		logger: logger,
	}
}

// WebSocketFactory returns a Factory producing transports with cfg.
func WebSocketFactory(cfg WebSocketConfig, logger Logger) Factory {
	return func() Transport {
		return NewWebSocket(cfg, logger)
	}
}

// Connect dials the service and starts the read pump and ping loop.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.connMu.Lock()
	if w.done.isClosed() {
		w.connMu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.connMu.Unlock()
		return ErrAlreadyConnected
	}
	w.connMu.Unlock()

	tlsCfg := &tls.Config{MinVersion: tlsMinVersion}
	if w.cfg.TLSConfig != nil {
		tlsCfg = w.cfg.TLSConfig.Clone()
		if tlsCfg.MinVersion < tlsMinVersion {
			tlsCfg.MinVersion = tlsMinVersion
		}
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
	}

	conn, resp, err := dialer.DialContext(ctx, w.cfg.URL, w.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %s: HTTP %d: %w", ErrConnectionFailed, w.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, w.cfg.URL, err)
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.done.isClosed() {
		conn.Close()
		return ErrClosed
	}

	conn.SetReadLimit(w.cfg.MaxMessageSize)
	readWait := w.cfg.PingInterval + w.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	w.conn = conn
	w.started = true
	w.connected.Store(true)

	w.wg.Add(2)
	go w.readPump()
	go w.pingLoop()

	w.logger.Debug("websocket connected", "url", w.cfg.URL)
	return nil
}

// readPump forwards inbound messages to the frames channel until the
// connection ends. It is the only goroutine that closes frames once started.
func (w *WebSocket) readPump() {
	defer w.wg.Done()
	defer w.closeFrames()
	defer w.connected.Store(false)

	readWait := w.cfg.PingInterval + w.cfg.PongTimeout
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.recordReadError(err)
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		w.conn.SetReadDeadline(time.Now().Add(readWait))
		w.framesRx.Add(1)

		select {
		case w.frames <- msg:
		case <-w.done.Done():
			return
		}
	}
}

func (w *WebSocket) recordReadError(err error) {
	if w.done.isClosed() {
		w.logger.Debug("websocket closed locally")
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		w.logger.Warn("websocket read error", "error", err)
	} else {
		w.logger.Debug("websocket closed by peer", "error", err)
	}
	w.setErr(fmt.Errorf("%w: %w", ErrConnectionLost, err))

	// Stop the ping loop and release the socket.
	w.done.Close()
	w.conn.Close()
}

// pingLoop sends protocol pings so dead peers trip the read deadline.
func (w *WebSocket) pingLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done.Done():
			return
		case <-ticker.C:
			w.writeMu.Lock()
			//nolint:errcheck // Best-effort deadline; ping error caught below
			w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Debug("websocket ping failed", "error", err)
				w.conn.Close()
				return
			}
		}
	}
}

// Send writes one text frame. A write failure closes the connection so the
// read pump reports the loss.
func (w *WebSocket) Send(ctx context.Context, frame []byte) error {
	if !w.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(w.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	w.conn.SetWriteDeadline(deadline)
	err := w.conn.WriteMessage(websocket.TextMessage, frame)
	w.writeMu.Unlock()

	if err != nil {
		w.conn.Close()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	w.framesTx.Add(1)
	return nil
}

// Receive returns the inbound frame stream.
func (w *WebSocket) Receive() <-chan []byte {
	return w.frames
}

// Err returns why the Receive channel closed.
func (w *WebSocket) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *WebSocket) setErr(err error) {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

func (w *WebSocket) closeFrames() {
	w.framesOnce.Do(func() { close(w.frames) })
}

// Close sends a close frame, closes the socket and waits for the pumps.
func (w *WebSocket) Close() error {
	w.done.Close()
	w.connected.Store(false)

	w.connMu.Lock()
	conn, started := w.conn, w.started
	w.connMu.Unlock()

	if !started {
		w.closeFrames()
		return nil
	}

	w.writeMu.Lock()
	//nolint:errcheck // Best-effort close handshake
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()

	err := conn.Close()
	w.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Stats reports frame counters.
type Stats struct {
	FramesRx  uint64
	FramesTx  uint64
	Connected bool
}

// Stats returns current counters.
func (w *WebSocket) Stats() Stats {
	return Stats{
		FramesRx:  w.framesRx.Load(),
		FramesTx:  w.framesTx.Load(),
		Connected: w.connected.Load(),
	}
}
