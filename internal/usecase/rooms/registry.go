// Package rooms indexes transport endpoints by the (channel, id) rooms they
// subscribed to and fans messages out to room members.
package rooms

import (
	"log/slog"
	"sync"

	"antai/internal/domain"
)

// Endpoint is one connected transport (a browser tab).
type Endpoint interface {
	Send(msg any) error
	IsOpen() bool
}

// Key builds the room key for a channel and entity id.
func Key(channel domain.Channel, id string) string {
	return string(channel) + ":" + id
}

var _ domain.Broadcaster = (*Registry)(nil)

// Registry is a bidirectional index: room key → endpoints and
// endpoint → room keys. Both sides are updated under one lock.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[Endpoint]struct{}
	member map[Endpoint]map[string]struct{}
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]map[Endpoint]struct{}),
		member: make(map[Endpoint]map[string]struct{}),
		logger: logger,
	}
}

// Subscribe adds ep to the room, creating the room on first use.
func (r *Registry) Subscribe(ep Endpoint, channel domain.Channel, id string) {
	key := Key(channel, id)

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[key]
	if !ok {
		set = make(map[Endpoint]struct{})
		r.rooms[key] = set
	}
	set[ep] = struct{}{}

	keys, ok := r.member[ep]
	if !ok {
		keys = make(map[string]struct{})
		r.member[ep] = keys
	}
	keys[key] = struct{}{}
}

// Unsubscribe removes ep from the room. Empty rooms are deleted.
func (r *Registry) Unsubscribe(ep Endpoint, channel domain.Channel, id string) {
	key := Key(channel, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(ep, key)
}

// RemoveEndpoint drops ep from every room it joined.
func (r *Registry) RemoveEndpoint(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.member[ep] {
		r.leaveLocked(ep, key)
	}
	delete(r.member, ep)
}

func (r *Registry) leaveLocked(ep Endpoint, key string) {
	if set, ok := r.rooms[key]; ok {
		delete(set, ep)
		if len(set) == 0 {
			delete(r.rooms, key)
		}
	}
	if keys, ok := r.member[ep]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.member, ep)
		}
	}
}

// Broadcast sends msg to every open endpoint in the room.
func (r *Registry) Broadcast(channel domain.Channel, id string, msg any) {
	r.mu.RLock()
	set := r.rooms[Key(channel, id)]
	targets := make([]Endpoint, 0, len(set))
	for ep := range set {
		targets = append(targets, ep)
	}
	r.mu.RUnlock()

	r.deliver(targets, msg)
}

// BroadcastToAll sends msg once to every endpoint that is in at least one room.
func (r *Registry) BroadcastToAll(msg any) {
	r.mu.RLock()
	targets := make([]Endpoint, 0, len(r.member))
	for ep := range r.member {
		targets = append(targets, ep)
	}
	r.mu.RUnlock()

	r.deliver(targets, msg)
}

func (r *Registry) deliver(targets []Endpoint, msg any) {
	for _, ep := range targets {
		if !ep.IsOpen() {
			continue
		}
		if err := ep.Send(msg); err != nil {
			r.logger.Debug("broadcast send failed", "error", err)
		}
	}
}

// Members returns the endpoints currently in the room.
func (r *Registry) Members(channel domain.Channel, id string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[Key(channel, id)]
	out := make([]Endpoint, 0, len(set))
	for ep := range set {
		out = append(out, ep)
	}
	return out
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
