package server

import "github.com/Tyrowin/jamsession/internal/room"

// publishDirectory sends the directory snapshot taken by a registry mutation
// to every connected client.
func (h *Hub) publishDirectory(directory []room.Summary) {
	frame, err := encodeEvent(evGiveRoomsInfo, directory)
	if err != nil {
		h.logger.Error("encoding directory", "err", err)
		return
	}

	clients := h.snapshotClients()
	for _, client := range clients {
		h.safeSend(client, frame)
	}
	h.logger.Debug("directory published", "rooms", len(directory), "clients", len(clients))
}

// sendDirectory answers an on-demand directory request, addressed to targetID.
func (h *Hub) sendDirectory(c *Client, targetID string) {
	if !h.emitTo(targetID, evGiveRoomsInfo, h.registry.Directory()) {
		c.logger.Debug("rooms info target not found", "target", targetID)
	}
}
