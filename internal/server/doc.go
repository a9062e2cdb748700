// Package server implements the signaling and room-state coordinator for the
// secure voice app: an in-memory registry of connections and rooms, the
// join/leave protocol, directed relay of WebRTC negotiation messages, and
// chat/presence fan-out over WebSocket transport.
//
// All room and registry state is owned by a single hub goroutine; clients
// feed decoded frames into the hub over channels and receive outbound events
// through per-connection buffered send channels. The implementation is
// organized into specialized files for configuration, the hub loop, the room
// store, clients, routing, and HTTP handlers.
package server
