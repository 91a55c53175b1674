// Package api implements the local HTTP API and WebSocket event relay for
// the Homismart client.
//
// It exposes the session's registry read-only, accepts device commands,
// relays bus events to WebSocket clients and serves Prometheus metrics:
//
//	GET  /api/v1/health
//	GET  /api/v1/devices              ?capability=switchable&online=true
//	GET  /api/v1/devices/stats
//	GET  /api/v1/devices/{id}
//	POST /api/v1/devices/{id}/commands {"command":"turn_on","params":{}}
//	GET  /api/v1/hubs
//	GET  /api/v1/ws
//	GET  /metrics
//
// Commands are accepted with 202 once the frame is written; the state
// change arrives later as a device_updated event.
//
// With api.token_secret set, the commands and ws routes require an HS256
// bearer token (Authorization header, or ?token= on the websocket
// upgrade). Read-only routes stay open. Without a secret nothing is
// checked, so keep the listener on loopback.
package api
