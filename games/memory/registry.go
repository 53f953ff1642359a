/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"sync"
	"time"
)

// Registry owns every active room plus a reverse lookup from
// connection id to room id, so disconnects and leaves resolve in O(1).
// Rooms live for as long as they have players; the last leave destroys
// the room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	conns map[string]string // connection id -> room id
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[string]string),
	}
}

// Create inserts a new room with the merged default+supplied config.
// If the id already exists the call is a no-op and the existing room
// is returned.
func (reg *Registry) Create(id string, cfg Config, now time.Time) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room
	}

	room := newRoom(id, cfg, now)
	reg.rooms[id] = room
	return room
}

// Get looks up a room by id.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[id]
	return room, ok
}

// RoomFor resolves a connection id to its room.
func (reg *Registry) RoomFor(connID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	roomID, ok := reg.conns[connID]
	if !ok {
		return nil, false
	}
	room, ok := reg.rooms[roomID]
	return room, ok
}

// Join appends the player to the room in seating order, seeds their
// score, and records the reverse lookup.
func (reg *Registry) Join(roomID string, player Player) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if len(room.Players) >= room.Config.MaxPlayers {
		return nil, ErrRoomFull
	}

	room.Players = append(room.Players, player)
	room.Scores[player.ID] = 0
	reg.conns[player.ID] = roomID

	return room, nil
}

// Leave removes the player outright and clears the reverse lookup.
// When the last player leaves, the room is destroyed; any resolution
// still scheduled against it becomes a no-op because lookups fail.
// Idempotent if the player is already gone. Reports whether the room
// was destroyed.
func (reg *Registry) Leave(roomID, connID string) (destroyed bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.conns, connID)

	room, ok := reg.rooms[roomID]
	if !ok {
		return false
	}

	if i := room.playerIndex(connID); i >= 0 {
		room.removeAt(i)
	}

	if len(room.Players) == 0 {
		delete(reg.rooms, roomID)
		return true
	}
	return false
}

// Drop clears the reverse lookup for a connection that went away
// without leaving. The player entry stays in the room so a pause can
// await their return.
func (reg *Registry) Drop(connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.conns, connID)
}

// Destroy removes a room and every reverse lookup pointing at it.
// Used when the last live connection drops without an explicit leave.
func (reg *Registry) Destroy(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	if !ok {
		return
	}
	for _, p := range room.Players {
		delete(reg.conns, p.ID)
	}
	delete(reg.rooms, id)
}

// Reap removes rooms idle since cutoff and returns them so the caller
// can close their clients.
func (reg *Registry) Reap(cutoff time.Time) []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var reaped []*Room
	for id, room := range reg.rooms {
		if !room.IdleSince(cutoff) {
			continue
		}
		for _, p := range room.Players {
			delete(reg.conns, p.ID)
		}
		delete(reg.rooms, id)
		reaped = append(reaped, room)
	}
	return reaped
}

// Len reports the number of active rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.rooms)
}
