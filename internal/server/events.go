// Package server defines the wire protocol shared by the coordinator and its
// clients: the event envelope, the closed set of inbound event kinds, and the
// outbound payload shapes.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"time"
)

// Error taxonomy for room and registry operations. All of these are
// recoverable and are reported only to the originating connection.
var (
	ErrInvalidName      = errors.New("display name must be 1-16 characters")
	ErrRoomExists       = errors.New("room already exists")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrNotCreator       = errors.New("only the room creator can delete it")
	ErrMalformedRequest = errors.New("malformed request")
)

// Inbound event names. This is a closed enum: the hub dispatches on exactly
// these values and nothing is registered dynamically per connection.
const (
	EventGetRooms     = "get-rooms"
	EventCreateRoom   = "create-room"
	EventDeleteRoom   = "delete-room"
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventSetName      = "set-name"
	EventGetUsers     = "get-users"
	EventSignal       = "signal"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventChatMessage  = "chat-message"

	// Screen-share presence changes are both inbound and fanned back out to
	// room members under the same names.
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStopped = "screen-share-stopped"
)

// Outbound event names.
const (
	EventRoomList           = "room-list"
	EventRoomCreated        = "roomCreated"
	EventRoomCreatedSuccess = "room-created-success"
	EventRoomExists         = "roomExists"
	EventRoomNotFound       = "roomNotFound"
	EventRoomFull           = "roomFull"
	EventJoinedRoom         = "joinedRoom"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventNameChanged        = "name-changed"
	EventLeftRoom           = "left-room"
	EventRoomDeleted        = "room-deleted"
	EventRoomAdded          = "room-created"
	EventRoomRemoved        = "room-removed"
	EventRoomUpdated        = "room-updated"
	EventUserList           = "user-list"
	EventError              = "error"
)

// Envelope is the framing shared by every inbound and outbound message.
// Data carries the event-specific payload and is left opaque until the event
// name has been dispatched.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is an immutable chat entry. FromName is resolved when the
// message is sent; later renames do not rewrite history.
type ChatMessage struct {
	FromID   string    `json:"fromId"`
	FromName string    `json:"fromName"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// RoomSummary is one entry of a room-list snapshot.
type RoomSummary struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	Creator   string    `json:"creator,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Inbound payloads.

type roomRequest struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

type setNameRequest struct {
	Name string `json:"name"`
}

type signalRequest struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

type chatRequest struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type screenShareRequest struct {
	Username string `json:"username,omitempty"`
}

// Outbound payloads.

type memberInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type joinedRoomEvent struct {
	Room    string            `json:"room"`
	Others  []memberInfo      `json:"others"`
	History []ChatMessage     `json:"history"`
	Names   map[string]string `json:"names"`
}

// nameChangedEvent uses a pointer so that presence removal can be signalled
// with an explicit null name.
type nameChangedEvent struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
}

type userListEvent struct {
	Room  string            `json:"room"`
	Users map[string]string `json:"users"`
}

type signalEvent struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type screenShareEvent struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type roomEvent struct {
	ID      string `json:"id"`
	Members int    `json:"members,omitempty"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// encodeEvent marshals an event name and payload into a wire frame. The
// payload types are all defined in this package, so a marshal failure
// indicates a programming error and is logged rather than surfaced.
func encodeEvent(event string, data any) []byte {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			log.Printf("Error encoding %q event payload: %v", event, err)
			return nil
		}
		raw = encoded
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		log.Printf("Error encoding %q event frame: %v", event, err)
		return nil
	}
	return frame
}
