// Package server is the connection gateway of the jam session service.
//
// A single Hub goroutine owns every WebSocket connection. Clients read frames
// on their own goroutines and hand them to the hub, which decodes each frame
// into a typed request and applies it to the room registry, the listener
// channels or the signaling relay before looking at the next one. Outbound
// events go through bounded per-client queues drained by a write pump; a
// client that cannot keep up is evicted and treated as disconnected.
//
// HTTP wiring lives in handlers.go, routes.go and server.go: "/" is a health
// check, "/ws" upgrades to WebSocket and "/rooms" returns the room directory.
package server
