package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEvent     = errors.New("unknown event")
)

// Inbound event names.
const (
	evCreateRoom       = "create room"
	evJoin             = "join"
	evExitRoom         = "exit room"
	evOffer            = "offer"
	evAnswer           = "answer"
	evPeerInfo         = "peer info"
	evAskForPeerInfo   = "ask for peer info"
	evGivePeerInfo     = "give peer info"
	evGetRoomsInfo     = "get rooms info"
	evAddAsListener    = "add as listener"
	evSelectInstrument = "select instrument"
	evRequestPeerInfo  = "request peer info"
	evInstrumentSelect = "instrument select"
)

// Outbound event names. offer, answer, peer info and ask for peer info are
// relayed under their inbound names.
const (
	evConnected        = "connected"
	evRoomCreated      = "room created"
	evRoomNameTaken    = "room name taken"
	evJoined           = "joined"
	evNewPeer          = "new peer"
	evInvalidRoom      = "invalid room"
	evFull             = "full"
	evAlreadyInRoom    = "already in room"
	evRemoveConnection = "remove connection"
	evReceivePeerInfo  = "receive peer info"
	evGiveRoomsInfo    = "give rooms info"
	evPeerNotFound     = "peer not found"
	evMalformed        = "malformed payload"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// request is one decoded inbound message.
type request interface {
	event() string
}

type createRoomRequest struct{ roomID string }

type joinRequest struct{ roomID string }

type exitRoomRequest struct {
	Room string `json:"room"`
	ID   string `json:"id"`
}

// directRequest is forwarded verbatim to a single connection.
type directRequest struct {
	name   string
	target string
	raw    json.RawMessage
}

// roomRelayRequest is forwarded verbatim to every member of a room but the sender.
type roomRelayRequest struct {
	name   string
	roomID string
	raw    json.RawMessage
}

type roomsInfoRequest struct{ target string }

type addListenerRequest struct{ roomID string }

type selectInstrumentRequest struct {
	name       string
	roomID     string
	peerID     string
	instrument string
}

type requestPeerInfoRequest struct {
	RoomID   string `json:"roomId"`
	SocketID string `json:"socketId"`
}

func (createRoomRequest) event() string { return evCreateRoom }
func (joinRequest) event() string { return evJoin }
func (exitRoomRequest) event() string { return evExitRoom }
func (r directRequest) event() string { return r.name }
func (r roomRelayRequest) event() string { return r.name }
func (roomsInfoRequest) event() string { return evGetRoomsInfo }
func (addListenerRequest) event() string { return evAddAsListener }
func (r selectInstrumentRequest) event() string { return r.name }
func (requestPeerInfoRequest) event() string { return evRequestPeerInfo }

// decodeEnvelope parses one frame. Unknown top-level fields and trailing data
// are rejected.
func decodeEnvelope(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformedPayload)
	}
	if strings.TrimSpace(env.Event) == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}
	return env, nil
}

// parseRequest maps an envelope onto its request variant.
func parseRequest(env Envelope) (request, error) {
	switch env.Event {
	case evCreateRoom:
		id, err := stringPayload(env.Data, "room id")
		return createRoomRequest{roomID: id}, err

	case evJoin:
		id, err := stringPayload(env.Data, "room id")
		return joinRequest{roomID: id}, err

	case evExitRoom:
		var req exitRoomRequest
		if err := objectPayload(env.Data, &req); err != nil {
			return nil, err
		}
		return req, requireFields(map[string]string{"room": req.Room, "id": req.ID})

	case evOffer, evAnswer:
		return parseDirect(env, env.Event, "to")

	case evGivePeerInfo:
		return parseDirect(env, evPeerInfo, "sendTo")

	case evPeerInfo, evAskForPeerInfo:
		var fields struct {
			RoomID string `json:"roomId"`
		}
		if err := objectPayload(env.Data, &fields); err != nil {
			return nil, err
		}
		if err := requireFields(map[string]string{"roomId": fields.RoomID}); err != nil {
			return nil, err
		}
		return roomRelayRequest{name: env.Event, roomID: fields.RoomID, raw: env.Data}, nil

	case evGetRoomsInfo:
		id, err := stringPayload(env.Data, "connection id")
		return roomsInfoRequest{target: id}, err

	case evAddAsListener:
		id, err := stringPayload(env.Data, "room id")
		return addListenerRequest{roomID: id}, err

	case evSelectInstrument:
		var fields struct {
			RoomID     string `json:"roomId"`
			ID         string `json:"id"`
			Instrument string `json:"instrument"`
		}
		if err := objectPayload(env.Data, &fields); err != nil {
			return nil, err
		}
		req := selectInstrumentRequest{name: env.Event, roomID: fields.RoomID, peerID: fields.ID, instrument: fields.Instrument}
		return req, requireFields(map[string]string{"roomId": fields.RoomID, "id": fields.ID, "instrument": fields.Instrument})

	case evInstrumentSelect:
		var fields struct {
			RoomID     string `json:"roomId"`
			PeerID     string `json:"peerId"`
			Instrument string `json:"instrument"`
		}
		if err := objectPayload(env.Data, &fields); err != nil {
			return nil, err
		}
		req := selectInstrumentRequest{name: env.Event, roomID: fields.RoomID, peerID: fields.PeerID, instrument: fields.Instrument}
		return req, requireFields(map[string]string{"roomId": fields.RoomID, "peerId": fields.PeerID, "instrument": fields.Instrument})

	case evRequestPeerInfo:
		var req requestPeerInfoRequest
		if err := objectPayload(env.Data, &req); err != nil {
			return nil, err
		}
		return req, requireFields(map[string]string{"roomId": req.RoomID, "socketId": req.SocketID})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func parseDirect(env Envelope, outbound, targetField string) (request, error) {
	var fields map[string]json.RawMessage
	if err := objectPayload(env.Data, &fields); err != nil {
		return nil, err
	}
	target, err := stringPayload(fields[targetField], targetField)
	if err != nil {
		return nil, err
	}
	return directRequest{name: outbound, target: target, raw: env.Data}, nil
}

func stringPayload(data json.RawMessage, what string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, what)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedPayload, what)
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedPayload, what)
	}
	return s, nil
}

func objectPayload(data json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload must be an object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(missing, ", "))
}

// encodeEvent renders an outbound frame. A nil data omits the payload; a
// json.RawMessage is embedded verbatim.
func encodeEvent(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		switch d := data.(type) {
		case json.RawMessage:
			env.Data = d
		default:
			b, err := json.Marshal(d)
			if err != nil {
				return nil, err
			}
			env.Data = b
		}
	}
	return json.Marshal(env)
}
