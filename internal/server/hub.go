// Package server coordinates connection registration, room membership,
// signaling relay, and chat fan-out for the voice app via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

// inboundFrame carries one raw frame from a client's read pump into the hub
// loop together with its originating connection.
type inboundFrame struct {
	client *Client
	data   []byte
}

// Hub owns the connection registry and the room store. All mutations happen
// on the single goroutine running Run, so no lock guards either structure;
// clients communicate with the hub exclusively through its channels.
type Hub struct {
	registry *Registry
	rooms    *RoomStore

	pushRoomList bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub configured from the active configuration. The
// returned Hub is ready to manage connections once Run is started.
func NewHub() *Hub {
	cfg := currentConfig()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:     NewRegistry(cfg.MaxNameLength),
		rooms:        NewRoomStore(cfg.RoomPolicy, cfg.RoomCapacity, cfg.HistoryLimit),
		pushRoomList: cfg.RoomListPush,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundFrame),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, handling client registration,
// teardown, and inbound event dispatch. This method should be called in a
// separate goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}

			client.closed = false
			h.registry.Add(client)
			log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, h.registry.Len())

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case frame := <-h.inbound:
			h.dispatch(frame.client, frame.data)
		}
	}
}

// handleDisconnect tears a connection down: it is removed from the registry,
// every joined room processes a leave with its own broadcasts, and the send
// channel is closed. Repeated teardown of the same connection is a no-op.
func (h *Hub) handleDisconnect(client *Client) {
	if _, ok := h.registry.Remove(client.id); !ok {
		return
	}

	joined := make([]string, 0, len(client.rooms))
	for roomID := range client.rooms {
		joined = append(joined, roomID)
	}
	for _, roomID := range joined {
		h.leaveRoom(client, roomID, false)
	}

	client.closed = true
	close(client.send)
	log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, h.registry.Len())
}

// dispatch classifies one inbound frame and routes it to the matching
// handler. The event set is closed; nothing is registered per connection.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Invalid frame from %s: %v", c.addr, err)
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	switch env.Event {
	case EventGetRooms:
		h.handleGetRooms(c)
	case EventCreateRoom:
		h.handleCreateRoom(c, env.Data)
	case EventDeleteRoom:
		h.handleDeleteRoom(c, env.Data)
	case EventJoinRoom:
		h.handleJoinRoom(c, env.Data)
	case EventLeaveRoom:
		h.handleLeaveRoom(c, env.Data)
	case EventSetName:
		h.handleSetName(c, env.Data)
	case EventGetUsers:
		h.handleGetUsers(c, env.Data)
	case EventSignal, EventOffer, EventAnswer, EventICECandidate:
		h.handleSignal(c, env.Event, env.Data)
	case EventChatMessage:
		h.handleChat(c, env.Data)
	case EventScreenShareStarted, EventScreenShareStopped:
		h.handleScreenShare(c, env.Event, env.Data)
	default:
		log.Printf("Unknown event %q from %s", env.Event, c.addr)
		h.sendError(c, "unknown event: "+env.Event)
	}
}

func (h *Hub) handleGetRooms(c *Client) {
	h.sendEvent(c, EventRoomList, h.rooms.List())
}

func (h *Hub) handleCreateRoom(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Room == "" {
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	h.applySetName(c, req.Name, false)
	creator := c.name
	if creator == "" {
		creator = c.id
	}

	if _, err := h.rooms.Create(req.Room, creator); err != nil {
		h.sendEvent(c, EventRoomExists, roomEvent{ID: req.Room})
		return
	}

	log.Printf("Room %q created by %s", req.Room, c.id)
	if h.rooms.Policy() == PolicyOwned {
		h.sendEvent(c, EventRoomCreatedSuccess, roomEvent{ID: req.Room})
	} else {
		h.sendEvent(c, EventRoomCreated, roomEvent{ID: req.Room})
	}
	h.pushAll(EventRoomAdded, roomEvent{ID: req.Room})
}

func (h *Hub) handleDeleteRoom(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Room == "" {
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	if h.rooms.Policy() != PolicyOwned {
		h.sendError(c, "room deletion is not supported")
		return
	}

	requester := strings.TrimSpace(req.Name)
	if requester == "" {
		requester = c.name
	}
	if requester == "" {
		requester = c.id
	}

	members, err := h.rooms.Delete(req.Room, requester)
	switch {
	case err == ErrRoomNotFound:
		h.sendEvent(c, EventRoomNotFound, roomEvent{ID: req.Room})
		return
	case err != nil:
		h.sendError(c, err.Error())
		return
	}

	for _, id := range members {
		member, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		delete(member.rooms, req.Room)
		h.sendEvent(member, EventRoomDeleted, roomEvent{ID: req.Room})
	}

	log.Printf("Room %q deleted by %s", req.Room, requester)
	h.pushAll(EventRoomRemoved, roomEvent{ID: req.Room})
}

func (h *Hub) handleJoinRoom(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Room == "" {
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	h.applySetName(c, req.Name, false)
	joinerName := c.name
	if joinerName == "" {
		joinerName = c.id
	}

	room, created, err := h.rooms.Join(req.Room, c.id, joinerName)
	switch err {
	case nil:
	case ErrRoomNotFound:
		h.sendEvent(c, EventRoomNotFound, roomEvent{ID: req.Room})
		return
	case ErrRoomFull:
		h.sendEvent(c, EventRoomFull, roomEvent{ID: req.Room})
		return
	default:
		h.sendError(c, err.Error())
		return
	}

	c.rooms[req.Room] = struct{}{}

	members := room.Members()
	others := make([]memberInfo, 0, len(members)-1)
	for _, id := range members {
		if id == c.id {
			continue
		}
		others = append(others, memberInfo{ID: id, Name: h.registry.Name(id)})
	}

	h.sendEvent(c, EventJoinedRoom, joinedRoomEvent{
		Room:    req.Room,
		Others:  others,
		History: room.History(),
		Names:   h.registry.Names(members),
	})
	h.broadcastRoom(req.Room, c.id, EventUserJoined, memberInfo{ID: c.id, Name: c.name})

	log.Printf("Client %s joined room %q (%d members)", c.id, req.Room, room.MemberCount())
	if created {
		h.pushAll(EventRoomAdded, roomEvent{ID: req.Room})
	}
	h.pushAll(EventRoomUpdated, roomEvent{ID: req.Room, Members: room.MemberCount()})
}

func (h *Hub) handleLeaveRoom(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Room == "" {
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	h.leaveRoom(c, req.Room, true)
}

// leaveRoom removes a connection from one room and fires the resulting
// broadcasts. A connection that is not a member produces no broadcast.
func (h *Hub) leaveRoom(c *Client, roomID string, notifySelf bool) {
	delete(c.rooms, roomID)

	removed, deleted := h.rooms.Leave(roomID, c.id)
	if !removed {
		return
	}

	h.broadcastRoom(roomID, "", EventUserLeft, memberInfo{ID: c.id, Name: c.name})
	h.broadcastRoom(roomID, "", EventNameChanged, nameChangedEvent{ID: c.id, Name: nil})

	if notifySelf {
		h.sendEvent(c, EventLeftRoom, roomEvent{ID: roomID})
	}

	if deleted {
		log.Printf("Room %q deleted (empty)", roomID)
		h.pushAll(EventRoomRemoved, roomEvent{ID: roomID})
	} else {
		h.pushAll(EventRoomUpdated, roomEvent{ID: roomID, Members: len(h.rooms.Members(roomID))})
	}
}

func (h *Hub) handleSetName(c *Client, data json.RawMessage) {
	var req setNameRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	h.applySetName(c, req.Name, true)
}

// applySetName stores a display name on the connection and sends the
// presence update to every room it occupies. An empty raw name is ignored so
// join and create can carry an optional name; an invalid one is reported to
// the sender and the prior name retained.
func (h *Hub) applySetName(c *Client, rawName string, ack bool) {
	if strings.TrimSpace(rawName) == "" && !ack {
		return
	}

	name, err := h.registry.SetName(c.id, rawName)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	for roomID := range c.rooms {
		h.broadcastRoom(roomID, c.id, EventNameChanged, nameChangedEvent{ID: c.id, Name: &name})
	}
	if ack {
		h.sendEvent(c, EventNameChanged, nameChangedEvent{ID: c.id, Name: &name})
	}
}

func (h *Hub) handleGetUsers(c *Client, data json.RawMessage) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Room == "" {
		h.sendError(c, ErrMalformedRequest.Error())
		return
	}

	h.sendEvent(c, EventUserList, userListEvent{
		Room:  req.Room,
		Users: h.registry.Names(h.rooms.Members(req.Room)),
	})
}

// handleSignal forwards a negotiation message to its target verbatim with
// the sender identifier stamped on. A malformed request or a dead target is
// dropped silently; the relay has no reliable-delivery obligation.
func (h *Hub) handleSignal(c *Client, kind string, data json.RawMessage) {
	var req signalRequest
	if err := json.Unmarshal(data, &req); err != nil || req.To == "" {
		return
	}

	target, ok := h.registry.Get(req.To)
	if !ok {
		log.Printf("Dropping %s from %s: target %s not connected", kind, c.id, req.To)
		return
	}

	h.sendEvent(target, kind, signalEvent{From: c.id, Payload: req.Payload})
}

// handleChat appends a chat message to the room history and fans it out to
// every member, sender included. Empty or malformed requests, unknown rooms,
// and senders outside the room are all no-ops.
func (h *Hub) handleChat(c *Client, data json.RawMessage) {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.Text == "" {
		return
	}

	room, ok := h.rooms.Get(req.RoomID)
	if !ok || !room.Has(c.id) {
		return
	}

	fromName := c.name
	if fromName == "" {
		fromName = c.id
	}

	msg := ChatMessage{
		FromID:   c.id,
		FromName: fromName,
		Text:     req.Text,
		SentAt:   time.Now(),
	}
	if !h.rooms.Append(req.RoomID, msg) {
		return
	}

	h.broadcastRoom(req.RoomID, "", EventChatMessage, msg)
}

// handleScreenShare fans a screen-share presence change out to every room the
// sender occupies, excluding the sender. No media flows through this path; a
// malformed frame is dropped like the other fire-and-forget paths. A stop
// notice usually carries no payload at all.
func (h *Hub) handleScreenShare(c *Client, kind string, data json.RawMessage) {
	var req screenShareRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
	}

	name := strings.TrimSpace(req.Username)
	if name == "" {
		name = c.name
	}
	if name == "" {
		name = c.id
	}

	for roomID := range c.rooms {
		h.broadcastRoom(roomID, c.id, kind, screenShareEvent{ID: c.id, Username: name})
	}
}

func (h *Hub) sendEvent(c *Client, event string, data any) {
	frame := encodeEvent(event, data)
	if frame == nil {
		return
	}
	h.safeSend(c, frame)
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendEvent(c, EventError, errorEvent{Message: message})
}

// broadcastRoom sends one event to every current member of a room except
// exceptID. The member set is snapshotted at dispatch.
func (h *Hub) broadcastRoom(roomID, exceptID, event string, data any) {
	members := h.rooms.Members(roomID)
	if len(members) == 0 {
		return
	}

	frame := encodeEvent(event, data)
	if frame == nil {
		return
	}

	for _, id := range members {
		if id == exceptID {
			continue
		}
		if member, ok := h.registry.Get(id); ok {
			h.safeSend(member, frame)
		}
	}
}

// broadcastAll sends one event to every registered connection.
func (h *Hub) broadcastAll(event string, data any) {
	frame := encodeEvent(event, data)
	if frame == nil {
		return
	}
	for _, client := range h.registry.All() {
		h.safeSend(client, frame)
	}
}

// pushAll broadcasts a room-list change signal to all connections under the
// broad variant; under the lazy variant clients re-pull instead.
func (h *Hub) pushAll(event string, data any) {
	if !h.pushRoomList {
		return
	}
	h.broadcastAll(event, data)
}

// safeSend enqueues a frame on the client's buffered channel without ever
// blocking the hub loop. A full buffer or a torn-down client drops the frame.
func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	if _, ok := h.registry.Get(client.id); !ok || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		log.Printf("Dropping frame for %s: send buffer full", client.addr)
		return false
	}
}

// shutdownClients gracefully closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	clients := h.registry.All()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete. It returns after all client connections are closed and
// goroutines have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
