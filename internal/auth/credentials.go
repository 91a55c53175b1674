package auth

import (
	"log/slog"
	"strings"
)

// Credentials identify the account used for the session. They are fixed
// for the lifetime of a session.
type Credentials struct {
	Username string
	Password string
}

// Validate checks that both fields are present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// LogValue implements slog.LogValuer so the password never reaches a log.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username))
}

// String returns the username only.
func (c Credentials) String() string {
	return c.Username
}
