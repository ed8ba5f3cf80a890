package server

import (
	"errors"

	"github.com/Tyrowin/jamsession/internal/room"
)

// dispatch decodes one inbound frame and routes it. It runs on the hub
// goroutine only.
func (h *Hub) dispatch(c *Client, raw []byte) {
	if c == nil || !h.isRegistered(c) {
		return
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		h.rejectMalformed(c, "", err)
		return
	}
	req, err := parseRequest(env)
	if err != nil {
		h.rejectMalformed(c, env.Event, err)
		return
	}

	c.logger.Debug("event received", "event", req.event())

	switch r := req.(type) {
	case createRoomRequest:
		h.createRoom(c, r.roomID)
	case joinRequest:
		h.joinRoom(c, r.roomID)
	case exitRoomRequest:
		h.exitRoom(c, r)
	case directRequest:
		h.relayDirect(c, r)
	case roomRelayRequest:
		h.relayToRoom(c, r)
	case roomsInfoRequest:
		h.sendDirectory(c, r.target)
	case addListenerRequest:
		h.addListener(c, r.roomID)
	case selectInstrumentRequest:
		h.selectInstrument(c, r)
	case requestPeerInfoRequest:
		h.requestPeerInfo(c, r)
	}
}

type malformedPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

func (h *Hub) rejectMalformed(c *Client, event string, err error) {
	c.logger.Warn("rejecting inbound message", "event", event, "err", err)
	h.emit(c, evMalformed, malformedPayload{Event: event, Error: err.Error()})
}

func (h *Hub) createRoom(c *Client, roomID string) {
	snap, err := h.registry.Create(roomID)
	if err != nil {
		c.logger.Info("room create refused", "room", roomID, "err", err)
		h.emit(c, evRoomNameTaken, nil)
		return
	}

	c.logger.Info("room created", "room", roomID)
	h.emit(c, evRoomCreated, roomID)
	h.publishDirectory(snap.Directory)
}

func (h *Hub) joinRoom(c *Client, roomID string) {
	snap, err := h.registry.Join(roomID, c.id)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		h.emit(c, evInvalidRoom, nil)
		return
	case errors.Is(err, room.ErrRoomFull):
		h.emit(c, evFull, roomID)
		return
	case errors.Is(err, room.ErrAlreadyInRoom):
		h.emit(c, evAlreadyInRoom, snap.RoomID)
		return
	case err != nil:
		c.logger.Error("join failed", "room", roomID, "err", err)
		return
	}

	c.logger.Info("joined room", "room", roomID, "members", len(snap.Members))
	h.emit(c, evJoined, snap.Members)
	for _, m := range snap.Members {
		if m.PeerID == c.id {
			continue
		}
		h.emitTo(m.PeerID, evNewPeer, nil)
	}
	h.publishDirectory(snap.Directory)
}

// exitRoom honours an explicit exit only for the sender's own membership.
func (h *Hub) exitRoom(c *Client, r exitRoomRequest) {
	if r.ID != c.id {
		c.logger.Warn("exit room for another connection refused", "room", r.Room, "peer", r.ID)
		h.emit(c, evPeerNotFound, r.ID)
		return
	}

	snap, err := h.registry.Leave(r.Room, r.ID)
	if err != nil {
		c.logger.Debug("exit room ignored", "room", r.Room, "err", err)
		h.emit(c, evPeerNotFound, r.ID)
		return
	}

	c.logger.Info("left room", "room", r.Room, "reaped", snap.Removed)
	h.afterLeave(r.ID, snap)
}

// handleDisconnect runs once per connection, after it has left the client map.
// Membership is looked up at this point rather than tracked per join.
func (h *Hub) handleDisconnect(c *Client) {
	if n := h.listeners.Drop(c.id); n > 0 {
		c.logger.Debug("dropped listener subscriptions", "channels", n)
	}

	snap, ok := h.registry.LeaveCurrent(c.id)
	if !ok {
		return
	}
	c.logger.Info("left room on disconnect", "room", snap.RoomID, "reaped", snap.Removed)
	h.afterLeave(c.id, snap)
}

// afterLeave fans out the consequences of a member leaving: remaining members
// drop the peer, every client sees the new directory, and the room's
// listeners get the new member list.
func (h *Hub) afterLeave(peerID string, snap room.Snapshot) {
	for _, m := range snap.Members {
		h.emitTo(m.PeerID, evRemoveConnection, peerID)
	}
	h.publishDirectory(snap.Directory)
	h.publishToListeners(snap.RoomID, snap.Members)
}

func (h *Hub) selectInstrument(c *Client, r selectInstrumentRequest) {
	snap, err := h.registry.SelectInstrument(r.roomID, r.peerID, r.instrument)
	if err != nil {
		c.logger.Debug("instrument change ignored", "room", r.roomID, "peer", r.peerID, "err", err)
		h.emit(c, evPeerNotFound, r.peerID)
		return
	}

	c.logger.Info("instrument selected", "room", r.roomID, "peer", r.peerID, "instrument", r.instrument)
	h.publishToListeners(r.roomID, snap.Members)
	h.publishDirectory(snap.Directory)
}

func (h *Hub) addListener(c *Client, roomID string) {
	channel := h.listeners.Subscribe(roomID, c.id)
	c.logger.Info("listening to room", "room", roomID, "channel", channel)
}

func (h *Hub) publishToListeners(roomID string, members []room.Member) {
	subscribers := h.listeners.Subscribers(roomID)
	if len(subscribers) == 0 {
		return
	}
	frame, err := encodeEvent(evReceivePeerInfo, members)
	if err != nil {
		h.logger.Error("encoding member list", "room", roomID, "err", err)
		return
	}
	for _, id := range subscribers {
		if target := h.lookup(id); target != nil {
			h.safeSend(target, frame)
		}
	}
}

// emit queues one event for c.
func (h *Hub) emit(c *Client, event string, data any) bool {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("encoding event", "event", event, "err", err)
		return false
	}
	return h.safeSend(c, frame)
}

// emitTo queues one event for the connection with the given id. Unknown ids
// are dropped.
func (h *Hub) emitTo(id, event string, data any) bool {
	target := h.lookup(id)
	if target == nil {
		h.logger.Debug("dropping event for unknown connection", "event", event, "target", id)
		return false
	}
	return h.emit(target, event, data)
}
