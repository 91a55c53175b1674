// Package device holds the live registry of devices and hubs.
//
// The registry is the single source of truth for device state. Entries are
// created the first time the service mentions an identifier and updated in
// place afterwards: Get always returns the same *Device handle for an
// identifier, and every read through a handle or a listing returns a
// Snapshot copied under lock, so callers never observe a half-applied
// message.
//
// Capabilities are a tagged variant. Capability names the variant and only
// switchable devices carry a SwitchState. Unknown type codes are kept as
// generic devices so newer device types still show up.
package device
