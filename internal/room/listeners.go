package room

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

type listenerChannel struct {
	id          string
	subscribers map[string]struct{}
}

// Listeners tracks the broadcast-only groups that passive observers join to
// follow a room's member snapshots. A channel is allocated lazily on the first
// subscription for a room id and is never reallocated afterwards.
type Listeners struct {
	mu       sync.RWMutex
	channels map[string]*listenerChannel
}

// NewListeners creates an empty listener manager.
func NewListeners() *Listeners {
	return &Listeners{
		channels: make(map[string]*listenerChannel),
	}
}

// Subscribe adds connID to the room's listener channel and returns the
// channel id.
func (l *Listeners) Subscribe(roomID, connID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.channels[roomID]
	if !ok {
		ch = &listenerChannel{
			id:          uuid.NewString(),
			subscribers: make(map[string]struct{}),
		}
		l.channels[roomID] = ch
	}
	ch.subscribers[connID] = struct{}{}
	return ch.id
}

// ChannelID returns the id allocated for roomID, if any.
func (l *Listeners) ChannelID(roomID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ch, ok := l.channels[roomID]
	if !ok {
		return "", false
	}
	return ch.id, true
}

// Subscribers returns the connection ids listening to roomID, sorted.
func (l *Listeners) Subscribers(roomID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ch, ok := l.channels[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ch.subscribers))
	for id := range ch.subscribers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Drop removes connID from every listener channel and reports how many it
// left. Channels stay allocated even when they become empty.
func (l *Listeners) Drop(connID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, ch := range l.channels {
		if _, ok := ch.subscribers[connID]; ok {
			delete(ch.subscribers, connID)
			n++
		}
	}
	return n
}

// Reset forgets every channel.
func (l *Listeners) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels = make(map[string]*listenerChannel)
}
