package realtime

import (
	"log"
	"sync"
	"time"
)

// Sender is the write side of a live duplex connection. The registry owns no
// transport; adapters hand it whatever can deliver a JSON frame.
type Sender interface {
	WriteJSON(v any) error
}

// Connection is a live duplex connection tracked by the registry.
type Connection struct {
	ID          string
	sender      Sender
	UserID      string
	channels    map[string]struct{}
	ConnectedAt time.Time
}

// Registry tracks open duplex connections, their channel memberships and a
// per-user index. One Registry exists per process, constructed at startup.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	channels map[string]map[string]struct{} // channel → connection ids
	users    map[string]map[string]struct{} // user id → connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		channels: make(map[string]map[string]struct{}),
		users:    make(map[string]map[string]struct{}),
	}
}

// Add registers a new connection. userID may be empty for anonymous callers.
func (r *Registry) Add(id string, sender Sender, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[id] = &Connection{
		ID:          id,
		sender:      sender,
		UserID:      userID,
		channels:    make(map[string]struct{}),
		ConnectedAt: time.Now().UTC(),
	}
	if userID != "" {
		m, ok := r.users[userID]
		if !ok {
			m = make(map[string]struct{})
			r.users[userID] = m
		}
		m[id] = struct{}{}
	}
}

// Remove deregisters a connection, leaving every channel it belonged to.
// Unknown ids are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	conn, ok := r.conns[id]
	if !ok {
		return
	}
	for channel := range conn.channels {
		r.leaveLocked(id, channel)
	}
	if conn.UserID != "" {
		if m, ok := r.users[conn.UserID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(r.users, conn.UserID)
			}
		}
	}
	delete(r.conns, id)
}

// Has reports whether a connection is still registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// Join adds a connection to a channel. Unknown connections are a no-op.
func (r *Registry) Join(id, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return
	}
	conn.channels[channel] = struct{}{}
	m, ok := r.channels[channel]
	if !ok {
		m = make(map[string]struct{})
		r.channels[channel] = m
	}
	m[id] = struct{}{}
}

// Leave removes a connection from a channel. The channel entry is deleted
// when its last member leaves.
func (r *Registry) Leave(id, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		delete(conn.channels, channel)
	}
	r.leaveLocked(id, channel)
}

func (r *Registry) leaveLocked(id, channel string) {
	m, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(r.channels, channel)
	}
}

// Broadcast sends a message to every member of a channel. A connection whose
// send fails is treated as dead and removed; delivery to the remaining
// members continues. Returns the number of successful sends.
func (r *Registry) Broadcast(channel string, message any) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for id := range r.channels[channel] {
		conn, ok := r.conns[id]
		if !ok {
			continue
		}
		if err := conn.sender.WriteJSON(message); err != nil {
			log.Printf("realtime: dropping dead connection %s: %v", id, err)
			r.removeLocked(id)
			continue
		}
		sent++
	}
	return sent
}

// SendToConnection sends a message to one connection. A failed send removes it.
func (r *Registry) SendToConnection(id string, message any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	if err := conn.sender.WriteJSON(message); err != nil {
		log.Printf("realtime: dropping dead connection %s: %v", id, err)
		r.removeLocked(id)
		return false
	}
	return true
}

// SendToUser sends a message to every connection of a user.
func (r *Registry) SendToUser(userID string, message any) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for id := range r.users[userID] {
		conn, ok := r.conns[id]
		if !ok {
			continue
		}
		if err := conn.sender.WriteJSON(message); err != nil {
			log.Printf("realtime: dropping dead connection %s: %v", id, err)
			r.removeLocked(id)
			continue
		}
		sent++
	}
	return sent
}

// Stats describes the registry's current shape.
type Stats struct {
	Connections int            `json:"connections"`
	Channels    int            `json:"channels"`
	Users       int            `json:"users"`
	PerChannel  map[string]int `json:"per_channel"`
}

// GetStats returns a snapshot of connection and channel counts.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	per := make(map[string]int, len(r.channels))
	for ch, members := range r.channels {
		per[ch] = len(members)
	}
	return Stats{
		Connections: len(r.conns),
		Channels:    len(r.channels),
		Users:       len(r.users),
		PerChannel:  per,
	}
}
