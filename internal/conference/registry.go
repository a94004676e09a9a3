package conference

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

// Registry maps live room ids to rooms. Room ids are client chosen and
// globally unique while the room is alive.
//
// Observer events: "roomcreated" (roomId), "roomclosed" (roomId).
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	observer IEventEmitter
	logger   logr.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		observer: NewEventEmitter(),
		logger:   logger.New("Registry"),
	}
}

func (reg *Registry) Observer() IEventEmitter {
	return reg.observer
}

// Create constructs a room on the given worker. Creating an id that is
// already alive fails with ErrRoomExists and leaves the existing room
// untouched.
func (reg *Registry) Create(roomId string, worker sfu.Worker, messenger Messenger) (*Room, error) {
	reg.mu.Lock()
	if _, ok := reg.rooms[roomId]; ok {
		reg.mu.Unlock()
		return nil, ErrRoomExists
	}

	room := NewRoom(roomId, worker, messenger)
	reg.rooms[roomId] = room
	reg.mu.Unlock()

	reg.logger.Info("room created", "roomId", roomId)
	reg.observer.SafeEmit("roomcreated", roomId)

	return room, nil
}

// Get returns the live room with the given id.
func (reg *Registry) Get(roomId string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[roomId]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Remove deletes and closes the room. Removing an unknown id is a
// no-op.
func (reg *Registry) Remove(roomId string) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomId]
	delete(reg.rooms, roomId)
	reg.mu.Unlock()

	if !ok {
		return
	}

	room.Close()
	reg.logger.Info("room removed", "roomId", roomId)
	reg.observer.SafeEmit("roomclosed", roomId)
}

// RemoveIfEmpty deletes and closes the room only if it has no peers.
// The emptiness check runs under the registry lock, so a join racing
// the last leave either lands before the check and keeps the room
// alive, or finds the room gone and fails with ErrRoomNotFound.
func (reg *Registry) RemoveIfEmpty(roomId string) bool {
	reg.mu.Lock()
	room, ok := reg.rooms[roomId]
	if !ok || !room.Empty() {
		reg.mu.Unlock()
		return false
	}
	delete(reg.rooms, roomId)
	reg.mu.Unlock()

	room.Close()
	reg.logger.Info("empty room removed", "roomId", roomId)
	reg.observer.SafeEmit("roomclosed", roomId)

	return true
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.rooms)
}

// CloseAll closes every live room. Used on shutdown.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}
