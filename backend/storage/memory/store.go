package memory

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrEmptyRoom        = errors.New("room id is empty")
	ErrIdentityConflict = errors.New("connection already announced a different identity")
)

type membership struct {
	identity string
	rooms    map[string]struct{}
}

// MemStore is the connection registry: it tracks which rooms every live
// connection has joined. Nothing here outlives the process.
type MemStore struct {
	mx    *sync.RWMutex
	rooms map[string]map[string]struct{}
	conns map[string]*membership
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:    &sync.RWMutex{},
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]*membership),
	}
}

func (ms *MemStore) Join(connID, roomID string) error {
	if roomID == "" {
		return ErrEmptyRoom
	}
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.join(connID, roomID)
	return nil
}

// Announce binds connection to a user identity and joins its personal
// room. Repeating the same identity is a no-op, switching to another
// one is refused.
func (ms *MemStore) Announce(connID, userID string) error {
	if userID == "" {
		return ErrEmptyRoom
	}
	ms.mx.Lock()
	defer ms.mx.Unlock()

	m := ms.membership(connID)
	if m.identity != "" && m.identity != userID {
		return ErrIdentityConflict
	}
	m.identity = userID
	ms.join(connID, userID)
	return nil
}

func (ms *MemStore) Leave(connID, roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	// identity stays bound even if personal room is left
	if m, ok := ms.conns[connID]; ok {
		delete(m.rooms, roomID)
	}
	ms.leave(connID, roomID)
}

// LeaveAll drops every membership of connection and returns released rooms.
func (ms *MemStore) LeaveAll(connID string) []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	m, ok := ms.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		ms.leave(connID, roomID)
		rooms = append(rooms, roomID)
	}
	delete(ms.conns, connID)
	sort.Strings(rooms)
	return rooms
}

// MembersOf returns a snapshot of connections currently in room.
func (ms *MemStore) MembersOf(roomID string) []string {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	return sortedKeys(ms.rooms[roomID])
}

func (ms *MemStore) roomsOf(connID string) []string {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	m, ok := ms.conns[connID]
	if !ok {
		return nil
	}
	return sortedKeys(m.rooms)
}

// Identity returns the user identity announced by connection.
func (ms *MemStore) Identity(connID string) (string, bool) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	m, ok := ms.conns[connID]
	if !ok || m.identity == "" {
		return "", false
	}
	return m.identity, true
}

func (ms *MemStore) membership(connID string) *membership {
	m, ok := ms.conns[connID]
	if !ok {
		m = &membership{rooms: make(map[string]struct{})}
		ms.conns[connID] = m
	}
	return m
}

func (ms *MemStore) join(connID, roomID string) {
	ms.membership(connID).rooms[roomID] = struct{}{}

	room, ok := ms.rooms[roomID]
	if !ok {
		room = make(map[string]struct{})
		ms.rooms[roomID] = room
	}
	room[connID] = struct{}{}
}

func (ms *MemStore) leave(connID, roomID string) {
	room, ok := ms.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(ms.rooms, roomID)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
