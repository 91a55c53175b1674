package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/homismart-go/internal/auth"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/protocol"
	"github.com/nerrad567/homismart-go/internal/transport"
)

// run is the connection manager loop. Each iteration is one attempt:
// connect, log in, then route frames until the connection ends.
func (s *Session) run(ctx context.Context) error {
	b := s.policy.newBackOff()
	failures := 0

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return s.interrupted(ctx)
		}
		if attempt > 1 {
			s.metrics.ReconnectAttempt()
		}
		if err := s.transition(Connecting); err != nil {
			return s.loopExit(err)
		}

		attemptID := uuid.NewString()
		s.logger.Info("connecting", "attempt", attempt, "attempt_id", attemptID)

		authenticated, err := s.attempt(ctx, attemptID)

		if ctx.Err() != nil {
			return s.interrupted(ctx)
		}
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return s.fail(Disconnected, event.ReasonAuthentication, err)
		}

		s.reportError(err)

		if authenticated {
			b.Reset()
			failures = 0
		} else {
			failures++
			if s.policy.MaxAttempts > 0 && failures >= s.policy.MaxAttempts {
				return s.fail(Stopped, event.ReasonRetriesExhausted,
					fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err))
			}
		}

		if err := s.transition(Reconnecting); err != nil {
			return s.loopExit(err)
		}

		delay := b.NextBackOff()
		s.logger.Warn("connection ended, reconnecting",
			"error", err,
			"delay", delay,
			"consecutive_failures", failures,
			"attempt_id", attemptID,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.interrupted(ctx)
		case <-timer.C:
		}
	}
}

// attempt runs one connection from dial to disconnect. authenticated
// reports whether the connection reached Authenticated before it ended.
func (s *Session) attempt(ctx context.Context, attemptID string) (authenticated bool, err error) {
	tr := s.factory()

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		_ = tr.Close()
		return false, ErrStopped
	}
	s.tr = tr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.tr == tr {
			s.tr = nil
		}
		s.mu.Unlock()
		if cerr := tr.Close(); cerr != nil {
			s.logger.Debug("closing transport", "error", cerr, "attempt_id", attemptID)
		}
	}()

	if err := tr.Connect(ctx); err != nil {
		return false, err
	}
	if err := s.transition(ConnectedUnauthenticated); err != nil {
		return false, err
	}

	res, err := s.login.Login(ctx, tr)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.username = res.Username
	s.mu.Unlock()

	if err := s.transition(Authenticated); err != nil {
		return false, err
	}
	if !s.publishIn(Authenticated, event.SessionAuthenticated, res.Username) {
		return false, ErrStopped
	}
	s.logger.Info("session authenticated", "username", res.Username, "attempt_id", attemptID)

	for _, raw := range res.Pending {
		s.router.route(raw)
	}

	if frame, err := protocol.EncodeListDevices(); err == nil {
		if err := tr.Send(ctx, frame); err != nil {
			s.logger.Warn("requesting device list", "error", err, "attempt_id", attemptID)
		}
	}

	frames := tr.Receive()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				cause := tr.Err()
				if cause == nil {
					cause = transport.ErrConnectionLost
				}
				return true, cause
			}
			s.router.route(raw)
		}
	}
}

// interrupted handles the loop context ending. After Disconnect the
// teardown is Disconnect's job; otherwise the caller's context ended the
// session and the loop tears down itself.
func (s *Session) interrupted(ctx context.Context) error {
	first, _ := s.shutdown()
	if !first {
		return nil
	}
	s.teardown()
	return ctx.Err()
}

func (s *Session) loopExit(err error) error {
	if errors.Is(err, ErrStopped) {
		return nil
	}
	s.logger.Error("connection manager stopped", "error", err)
	return err
}

// fail records a terminal failure, moves to the given state and publishes
// connection_failed. The registry keeps its last known contents.
func (s *Session) fail(to State, reason string, err error) error {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()

	if terr := s.transition(to); terr != nil && !errors.Is(terr, ErrStopped) {
		s.logger.Error("recording connection failure", "error", terr)
	}
	s.logger.Error("connection failed", "reason", reason, "error", err)
	s.bus.Publish(event.ConnectionFailed, event.Failure{Reason: reason, Error: err.Error()})
	return err
}

// reportError publishes a recoverable connection error.
func (s *Session) reportError(err error) {
	if err == nil {
		return
	}
	s.bus.Publish(event.SessionError, event.ErrorInfo{
		Type:    "connection",
		Class:   errorClass(err),
		Message: err.Error(),
	})
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, auth.ErrHandshakeFailed):
		return "handshake_failed"
	case errors.Is(err, transport.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, transport.ErrConnectionFailed):
		return "connection_failed"
	default:
		return "transport_error"
	}
}
