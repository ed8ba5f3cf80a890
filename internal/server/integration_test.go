package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/jamsession/internal/config"
	"github.com/Tyrowin/jamsession/internal/logging"
	"github.com/Tyrowin/jamsession/internal/room"
)

const testOrigin = "http://localhost:8080"

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()

	cfg := config.Default()
	hub := newTestHub(t, HubOptions{})
	handler := NewHandler(hub, cfg.WebSocket, logging.Discard())

	srv := httptest.NewServer(SetupRoutes(handler))
	t.Cleanup(srv.Close)
	return srv, hub
}

type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dialPeer(t *testing.T, srv *httptest.Server) *wsPeer {
	t.Helper()

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := &wsPeer{t: t, conn: conn}
	var connected connectedPayload
	require.NoError(t, json.Unmarshal(p.expect(evConnected).Data, &connected))
	p.id = connected.ID
	return p
}

func (p *wsPeer) send(event string, data any) {
	p.t.Helper()
	frame, err := encodeEvent(event, data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

func (p *wsPeer) expect(event string) Envelope {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := p.conn.ReadMessage()
	require.NoError(p.t, err)

	var env Envelope
	require.NoError(p.t, json.Unmarshal(frame, &env))
	require.Equal(p.t, event, env.Event, "payload: %s", env.Data)
	return env
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestWebSocketRejectsPost(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/ws", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t)

	headers := http.Header{}
	headers.Set("Origin", "https://evil.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEndToEndJamSession(t *testing.T) {
	srv, hub := newTestServer(t)

	a := dialPeer(t, srv)
	b := dialPeer(t, srv)
	l := dialPeer(t, srv)

	a.send(evCreateRoom, "jam1")
	assert.Equal(t, "jam1", decodeData[string](t, a.expect(evRoomCreated)))
	for _, p := range []*wsPeer{a, b, l} {
		p.expect(evGiveRoomsInfo)
	}

	a.send(evJoin, "jam1")
	members := decodeData[[]room.Member](t, a.expect(evJoined))
	assert.Equal(t, []room.Member{{PeerID: a.id, Instrument: "piano"}}, members)
	for _, p := range []*wsPeer{a, b, l} {
		p.expect(evGiveRoomsInfo)
	}

	b.send(evJoin, "jam1")
	members = decodeData[[]room.Member](t, b.expect(evJoined))
	assert.Equal(t, []room.Member{{PeerID: a.id, Instrument: "piano"}, {PeerID: b.id, Instrument: "piano"}}, members)
	a.expect(evNewPeer)
	for _, p := range []*wsPeer{a, b, l} {
		p.expect(evGiveRoomsInfo)
	}

	b.send(evOffer, map[string]string{"to": a.id, "sdp": "v=0"})
	assert.Equal(t, "v=0", decodeData[map[string]string](t, a.expect(evOffer))["sdp"])
	a.send(evAnswer, map[string]string{"to": b.id, "sdp": "v=0 answer"})
	assert.Equal(t, "v=0 answer", decodeData[map[string]string](t, b.expect(evAnswer))["sdp"])

	l.send(evAddAsListener, "jam1")
	// frames from one connection are handled in order, so the reply proves
	// the subscription is in place
	l.send(evGetRoomsInfo, l.id)
	l.expect(evGiveRoomsInfo)

	b.send(evSelectInstrument, map[string]string{"roomId": "jam1", "id": b.id, "instrument": "drums"})
	members = decodeData[[]room.Member](t, l.expect(evReceivePeerInfo))
	assert.Equal(t, []room.Member{{PeerID: a.id, Instrument: "piano"}, {PeerID: b.id, Instrument: "drums"}}, members)
	for _, p := range []*wsPeer{a, b, l} {
		p.expect(evGiveRoomsInfo)
	}

	require.NoError(t, a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.conn.Close()

	assert.Equal(t, a.id, decodeData[string](t, b.expect(evRemoveConnection)))
	dir := decodeData[[]room.Summary](t, b.expect(evGiveRoomsInfo))
	assert.Equal(t, []room.Summary{{RoomName: "jam1", NumPeople: 1, Instruments: []string{"drums"}}}, dir)

	resp, err := http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var listed []room.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Equal(t, dir, listed)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownServerClosesConnections(t *testing.T) {
	cfg := config.Default()
	hub := NewHub(HubOptions{Logger: logging.Discard()})
	go hub.Run()

	handler := NewHandler(hub, cfg.WebSocket, logging.Discard())
	srv := httptest.NewServer(SetupRoutes(handler))
	defer srv.Close()

	p := dialPeer(t, srv)

	httpServer := CreateServer(":0", SetupRoutes(handler))
	require.NoError(t, ShutdownServer(httpServer, hub, 2*time.Second, logging.Discard()))

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := p.conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

// lockedBuffer collects log output written from server goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		out = append(out, entry)
	}
	return out
}

func hasAccessLog(entries []map[string]any, path string, status float64) bool {
	for _, e := range entries {
		if e["msg"] == "http request" && e["path"] == path && e["status"] == status {
			return true
		}
	}
	return false
}

func TestAccessLog(t *testing.T) {
	logs := &lockedBuffer{}
	logger := logging.New(logs, "info", "json")

	cfg := config.Default()
	hub := newTestHub(t, HubOptions{})
	srv := httptest.NewServer(SetupRoutes(NewHandler(hub, cfg.WebSocket, logger)))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/ws", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	_ = resp.Body.Close()

	// the upgrade goes through the middleware and must still hijack
	p := dialPeer(t, srv)
	assert.NotEmpty(t, p.id)

	assert.Eventually(t, func() bool {
		entries := logs.entries(t)
		return hasAccessLog(entries, "/rooms", http.StatusOK) &&
			hasAccessLog(entries, "/ws", http.StatusMethodNotAllowed) &&
			hasAccessLog(entries, "/ws", http.StatusSwitchingProtocols)
	}, 2*time.Second, 10*time.Millisecond)
}
