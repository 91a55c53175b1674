package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrAuthenticationFailed is returned when the service rejects the
	// credentials. Retrying with the same credentials will not help.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrHandshakeFailed is returned when the login exchange could not be
	// completed: send failure, connection loss or timeout.
	ErrHandshakeFailed = errors.New("auth: handshake failed")

	// ErrInvalidCredentials is returned when the username or password is empty.
	ErrInvalidCredentials = errors.New("auth: username and password are required")
)
