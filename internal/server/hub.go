package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Tyrowin/jamsession/internal/logging"
	"github.com/Tyrowin/jamsession/internal/room"
)

type inboundMessage struct {
	client *Client
	raw    []byte
}

// HubOptions wires the hub to its collaborators. Nil fields get fresh defaults.
type HubOptions struct {
	Registry   *room.Registry
	Listeners  *room.Listeners
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

// Hub owns every connection. All inbound events are handled one at a time on
// the Run goroutine, so each registry mutation and the broadcasts it triggers
// complete before the next event is looked at.
type Hub struct {
	clients    map[string]*Client
	inbound    chan inboundMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// evicted holds clients whose queue overflowed during the current event.
	// Only touched from Run.
	evicted []*Client

	registry   *room.Registry
	listeners  *room.Listeners
	iceServers []webrtc.ICEServer
	logger     *slog.Logger
}

// NewHub creates a Hub ready to Run.
func NewHub(opts HubOptions) *Hub {
	if opts.Registry == nil {
		opts.Registry = room.NewRegistry(room.Options{})
	}
	if opts.Listeners == nil {
		opts.Listeners = room.NewListeners()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.ICEServers == nil {
		opts.ICEServers = []webrtc.ICEServer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		inbound:    make(chan inboundMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		registry:   opts.Registry,
		listeners:  opts.Listeners,
		iceServers: opts.ICEServers,
		logger:     opts.Logger.With("component", "hub"),
	}
}

// Registry returns the room registry the hub mutates.
func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new client to the hub. It returns false once the hub has
// shut down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// deliver queues an inbound frame from c for dispatch.
func (h *Hub) deliver(c *Client, raw []byte) bool {
	select {
	case h.inbound <- inboundMessage{client: c, raw: raw}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// disconnect reports that c's transport is gone. Safe to call more than once.
func (h *Hub) disconnect(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			h.registry.Reset()
			h.listeners.Reset()
			return

		case client := <-h.register:
			h.accept(client)

		case client := <-h.unregister:
			h.removeClient(client, "disconnected")

		case msg := <-h.inbound:
			h.dispatch(msg.client, msg.raw)
		}

		h.flushEvictions()
	}
}

type connectedPayload struct {
	ID         string             `json:"id"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// accept registers c, issues its id to the peer and starts its pumps.
func (h *Hub) accept(client *Client) {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	count := len(h.clients)
	h.mutex.Unlock()
	client.logger.Info("client registered", "clients", count)

	h.emit(client, evConnected, connectedPayload{ID: client.id, ICEServers: h.iceServers})

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient forgets c and runs disconnect handling exactly once per
// connection, whatever the cause.
func (h *Hub) removeClient(c *Client, reason string) {
	h.mutex.Lock()
	if current, ok := h.clients[c.id]; !ok || current != c {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, c.id)
	c.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	close(c.send)
	c.logger.Info("client unregistered", "reason", reason, "clients", count)

	h.handleDisconnect(c)
}

func (h *Hub) isRegistered(c *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	current, ok := h.clients[c.id]
	return ok && current == c && !c.closed
}

func (h *Hub) lookup(id string) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[id]
}

func (h *Hub) snapshotClients() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// safeSend queues frame for c without blocking. A full queue marks c for
// eviction once the current event has been fully handled.
func (h *Hub) safeSend(c *Client, frame []byte) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.clients[c.id]; !ok || current != c || c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.closed = true
		h.evicted = append(h.evicted, c)
		return false
	}
}

func (h *Hub) flushEvictions() {
	for len(h.evicted) > 0 {
		c := h.evicted[0]
		h.evicted = h.evicted[1:]
		c.logger.Warn("send queue full; evicting slow client")
		h.removeClient(c, "send queue full")
	}
}

// shutdownClients closes every connection and drops them from the hub.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
		close(client.send)
		delete(h.clients, id)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			client.closeConnection()
		}
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown stops Run, closes all connections and waits for the client
// goroutines, giving up after timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
