// Package protocol encodes and decodes Homismart wire frames.
//
// A frame is a four digit ASCII code followed by a JSON object:
//
//	0009{"id":"dev-1","name":"Office Light","type":2,"online":true,"on":true}
//
// Inbound frames decode to a Message carrying a Kind discriminator, the
// device or hub identifier and the raw field map. Nothing here knows about
// devices beyond that; interpreting fields is the registry's job.
package protocol
