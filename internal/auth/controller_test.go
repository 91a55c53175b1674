package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/homismart-go/internal/transport"
	"github.com/nerrad567/homismart-go/internal/transport/transporttest"
)

func connectedFake(t *testing.T, reply func(f *transporttest.Fake)) *transporttest.Fake {
	t.Helper()
	f := transporttest.New()
	f.OnSend = func(f *transporttest.Fake, frame []byte) {
		if strings.HasPrefix(string(frame), "0002") && reply != nil {
			reply(f)
		}
	}
	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return f
}

func TestController_LoginSuccess(t *testing.T) {
	f := connectedFake(t, func(f *transporttest.Fake) {
		f.Push(`0011{"id":"h1","name":"Hub"}`)
		f.Push(`not a frame`)
		f.Push(`0003{"result":true,"username":"confirmed@example.com"}`)
	})

	c := NewController(Credentials{Username: "user@example.com", Password: "pw"}, time.Second, nil)
	res, err := c.Login(context.Background(), f)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if res.Username != "confirmed@example.com" {
		t.Errorf("Username = %q, want %q", res.Username, "confirmed@example.com")
	}
	if len(res.Pending) != 1 || !strings.HasPrefix(string(res.Pending[0]), "0011") {
		t.Errorf("Pending = %q, want the hub frame only", res.Pending)
	}

	sent := f.Sent()
	if len(sent) != 1 || string(sent[0]) != `0002{"username":"user@example.com","password":"pw"}` {
		t.Errorf("Sent() = %q, want one login frame", sent)
	}
}

func TestController_UsernameFallsBackToCredentials(t *testing.T) {
	f := connectedFake(t, func(f *transporttest.Fake) {
		f.Push(`0003{"result":true}`)
	})

	res, err := NewController(Credentials{Username: "u", Password: "p"}, time.Second, nil).Login(context.Background(), f)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Username != "u" {
		t.Errorf("Username = %q, want u", res.Username)
	}
}

func TestController_LoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) *transporttest.Fake
		timeout time.Duration
		wantErr error
	}{
		{
			name: "rejected",
			setup: func(t *testing.T) *transporttest.Fake {
				return connectedFake(t, func(f *transporttest.Fake) {
					f.Push(`0003{"result":false,"message":"wrong password"}`)
				})
			},
			wantErr: ErrAuthenticationFailed,
		},
		{
			name: "connection dropped",
			setup: func(t *testing.T) *transporttest.Fake {
				return connectedFake(t, func(f *transporttest.Fake) {
					f.Drop(nil)
				})
			},
			wantErr: ErrHandshakeFailed,
		},
		{
			name: "timeout",
			setup: func(t *testing.T) *transporttest.Fake {
				return connectedFake(t, nil)
			},
			timeout: 20 * time.Millisecond,
			wantErr: ErrHandshakeFailed,
		},
		{
			name: "send fails",
			setup: func(*testing.T) *transporttest.Fake {
				return transporttest.New()
			},
			wantErr: ErrHandshakeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			c := NewController(Credentials{Username: "u", Password: "p"}, timeout, nil)

			_, err := c.Login(context.Background(), tt.setup(t))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Login() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestController_DropReportsCause(t *testing.T) {
	f := connectedFake(t, func(f *transporttest.Fake) {
		f.Drop(transport.ErrConnectionLost)
	})

	_, err := NewController(Credentials{Username: "u", Password: "p"}, time.Second, nil).Login(context.Background(), f)
	if !errors.Is(err, transport.ErrConnectionLost) {
		t.Errorf("Login() error = %v, want it to wrap %v", err, transport.ErrConnectionLost)
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Error("connection loss classified as authentication failure")
	}
}

func TestController_ContextCancelled(t *testing.T) {
	f := connectedFake(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewController(Credentials{Username: "u", Password: "p"}, time.Minute, nil).Login(ctx, f)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Login() error = %v, want %v", err, context.Canceled)
	}
}

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"valid", Credentials{Username: "u", Password: "p"}, false},
		{"blank username", Credentials{Username: "  ", Password: "p"}, true},
		{"empty password", Credentials{Username: "u"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredentials_LogValueHidesPassword(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("login", "credentials", Credentials{Username: "user@example.com", Password: "s3cret"})

	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Errorf("log output contains password: %s", out)
	}
	if !strings.Contains(out, "user@example.com") {
		t.Errorf("log output missing username: %s", out)
	}
}
