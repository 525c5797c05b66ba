package session

import (
	"sort"
	"sync"

	"github.com/arzzra/jingle/pkg/jingle"
	"mellium.im/xmpp/jid"
)

// Registry реестр сессий и комнат процесса. Принадлежит приложению и
// передается в Router явно.
type Registry struct {
	mu      sync.RWMutex
	singles map[string]*Single
	rooms   map[string]*Room
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		singles: make(map[string]*Single),
		rooms:   make(map[string]*Room),
	}
}

// AddSingle регистрирует сессию по sid
func (r *Registry) AddSingle(s *Single) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.singles[s.SID()] = s
}

// Single возвращает сессию по sid
func (r *Registry) Single(sid string) (*Single, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.singles[sid]
	return s, ok
}

// RemoveSingle удаляет сессию
func (r *Registry) RemoveSingle(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.singles, sid)
}

// Singles возвращает все сессии, отсортированные по sid
func (r *Registry) Singles() []*Single {
	r.mu.RLock()
	out := make([]*Single, 0, len(r.singles))
	for _, s := range r.singles {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SID() < out[j].SID() })
	return out
}

// FindInitiating возвращает исходящую сессию к peer ожидающую ответа на
// session-initiate
func (r *Registry) FindInitiating(peer jid.JID) (*Single, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.singles {
		if s.Role() == jingle.CreatorInitiator && s.Status() == jingle.StatusInitiating && s.Peer().Equal(peer) {
			return s, true
		}
	}
	return nil, false
}

// AddRoom регистрирует комнату по bare JID
func (r *Registry) AddRoom(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.JID().String()] = room
}

// Room возвращает комнату по bare JID
func (r *Registry) Room(bare string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[bare]
	return room, ok
}

// RemoveRoom удаляет комнату
func (r *Registry) RemoveRoom(bare string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, bare)
}

// Rooms возвращает все комнаты, отсортированные по JID
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JID().String() < out[j].JID().String() })
	return out
}
