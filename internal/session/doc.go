// Package session maintains the authenticated, long-lived connection to the
// Homismart service.
//
// A Session composes the transport, the login handshake, the device
// registry, the event bus and the command dispatcher. Connect runs the
// connection manager on the calling goroutine: it opens a transport, logs
// in, requests the device list, then routes every inbound frame into the
// registry until the connection ends, reconnecting with exponential backoff.
//
// State follows an explicit transition table (see State). Stopped is
// terminal. Rejected credentials end the loop without retrying; network
// failures are retried within the reconnect policy.
//
// Typical use:
//
//	s, err := session.New(session.Options{Credentials: creds, Transport: factory})
//	s.RegisterEventListener(event.DeviceUpdated, onUpdate)
//	go s.Connect(ctx)
//	if err := s.WaitAuthenticated(waitCtx); err != nil { ... }
//	err = s.TurnOff(ctx, "dev-1")
//	s.Disconnect(ctx)
package session
