package server

// relayDirect forwards a signaling payload verbatim to exactly one
// connection. Unknown targets are dropped.
func (h *Hub) relayDirect(c *Client, r directRequest) {
	target := h.lookup(r.target)
	if target == nil {
		c.logger.Debug("relay target not found", "event", r.name, "target", r.target)
		return
	}
	if !h.emit(target, r.name, r.raw) {
		c.logger.Debug("relay delivery failed", "event", r.name, "target", r.target)
	}
}

// relayToRoom forwards a payload verbatim to every member of the room except
// the sender. The registry is only read.
func (h *Hub) relayToRoom(c *Client, r roomRelayRequest) {
	members, ok := h.registry.Members(r.roomID)
	if !ok {
		c.logger.Debug("relay room not found", "event", r.name, "room", r.roomID)
		return
	}

	frame, err := encodeEvent(r.name, r.raw)
	if err != nil {
		c.logger.Warn("encoding relay payload", "event", r.name, "err", err)
		return
	}

	sent := 0
	for _, m := range members {
		if m.PeerID == c.id {
			continue
		}
		if target := h.lookup(m.PeerID); target != nil && h.safeSend(target, frame) {
			sent++
		}
	}
	c.logger.Debug("relayed to room", "event", r.name, "room", r.roomID, "recipients", sent)
}

// requestPeerInfo answers with the room's member list, addressed to socketID.
// Unknown rooms are dropped like any other unresolvable relay input.
func (h *Hub) requestPeerInfo(c *Client, r requestPeerInfoRequest) {
	members, ok := h.registry.Members(r.RoomID)
	if !ok {
		c.logger.Debug("peer info room not found", "room", r.RoomID, "target", r.SocketID)
		return
	}
	h.emitTo(r.SocketID, evReceivePeerInfo, members)
}
