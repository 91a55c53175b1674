package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homismart-go/internal/protocol"
	"github.com/nerrad567/homismart-go/internal/transport"
)

// defaultLoginTimeout bounds the wait for a login result.
const defaultLoginTimeout = 15 * time.Second

// Logger is the logging surface the controller uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Controller performs the login handshake.
type Controller struct {
	creds   Credentials
	timeout time.Duration
	logger  Logger
}

// NewController creates a Controller. A zero timeout selects the default.
func NewController(creds Credentials, timeout time.Duration, logger Logger) *Controller {
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{creds: creds, timeout: timeout, logger: logger}
}

// Result is the outcome of a successful login.
type Result struct {
	// Username is the identity the service confirmed.
	Username string

	// Pending holds frames that arrived before the login result. They
	// belong to the session and must be routed in order.
	Pending [][]byte
}

// Login sends the login frame on tr and reads frames until the login
// result arrives.
func (c *Controller) Login(ctx context.Context, tr transport.Transport) (Result, error) {
	frame, err := protocol.EncodeLogin(c.creds.Username, c.creds.Password)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := tr.Send(ctx, frame); err != nil {
		return Result{}, fmt.Errorf("%w: sending login: %w", ErrHandshakeFailed, err)
	}
	c.logger.Debug("login sent", "credentials", c.creds)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var pending [][]byte
	for {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %w", ErrHandshakeFailed, ctx.Err())

		case <-timer.C:
			return Result{}, fmt.Errorf("%w: no login result within %v", ErrHandshakeFailed, c.timeout)

		case raw, ok := <-tr.Receive():
			if !ok {
				cause := tr.Err()
				if cause == nil {
					cause = transport.ErrConnectionLost
				}
				return Result{}, fmt.Errorf("%w: connection ended during login: %w", ErrHandshakeFailed, cause)
			}

			msg, err := protocol.Decode(raw)
			if err != nil {
				if errors.Is(err, protocol.ErrMalformedFrame) {
					c.logger.Warn("skipping malformed frame during login", "error", err)
					continue
				}
				// Decodable but unusable (no id); the router will log it.
				pending = append(pending, raw)
				continue
			}
			if msg.Kind != protocol.KindAuthResult {
				pending = append(pending, raw)
				continue
			}

			res := msg.AuthResult()
			if !res.OK {
				reason := res.Message
				if reason == "" {
					reason = "credentials rejected"
				}
				return Result{}, fmt.Errorf("%w: %s", ErrAuthenticationFailed, reason)
			}

			username := res.Username
			if username == "" {
				username = c.creds.Username
			}
			return Result{Username: username, Pending: pending}, nil
		}
	}
}
