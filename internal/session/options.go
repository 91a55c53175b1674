package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/homismart-go/internal/auth"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/transport"
)

// Logger defines the logging interface used by the session.
// Compatible with logging.Logger.
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

// Metrics receives session counters. *metrics.Metrics satisfies it.
type Metrics interface {
	StateChanged(from, to string)
	FrameReceived()
	FrameMalformed()
	CommandSent(command string)
	CommandRejected(reason string)
	ReconnectAttempt()
}

type noopMetrics struct{}

func (noopMetrics) StateChanged(string, string) {}
func (noopMetrics) FrameReceived()              {}
func (noopMetrics) FrameMalformed()             {}
func (noopMetrics) CommandSent(string)          {}
func (noopMetrics) CommandRejected(string)      {}
func (noopMetrics) ReconnectAttempt()           {}

// ReconnectPolicy controls the delay between connection attempts.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the randomisation factor applied to each delay (0 disables).
	Jitter float64
	// MaxAttempts caps consecutive failed attempts. 0 means unlimited.
	// The count resets whenever a connection reaches Authenticated.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   1.5,
		Jitter:       0.1,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	d := DefaultReconnectPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// newBackOff builds an exponential backoff that never gives up on its own;
// MaxAttempts is enforced by the manager.
func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Options configures a Session.
type Options struct {
	Credentials auth.Credentials

	// Transport builds one transport per connection attempt.
	Transport transport.Factory

	Reconnect ReconnectPolicy

	// LoginTimeout bounds the wait for a login result on each attempt.
	LoginTimeout time.Duration

	// Bus is the event bus to publish on. A new one is created if nil.
	Bus *event.Bus

	Logger  Logger
	Metrics Metrics
}
