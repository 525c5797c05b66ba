// Package candidates буферизует локальные и удаленные ICE кандидаты сессии
// между их появлением и отправкой (применением).
package candidates

import (
	"sync"

	"github.com/arzzra/jingle/pkg/jingle"
)

// Manager хранит кандидаты одной сессии.
//
// Локальные кандидаты попадают в постоянный набор (для полного описания
// контентов) и во временную очередь для следующей пачки transport-info.
// Удаленные кандидаты ждут в очереди пока медиа движок не будет готов их
// принять. Методы безопасны для конкурентного вызова: медиа движки
// сообщают о кандидатах из собственных горутин.
type Manager struct {
	mu sync.Mutex

	local       map[string][]jingle.Candidate
	localQueue  map[string][]jingle.Candidate
	localKeys   map[string]map[string]struct{}
	localOrder  []string
	remote      map[string][]jingle.Candidate
	remoteQueue map[string][]jingle.Candidate
	remoteKeys  map[string]map[string]struct{}
}

// NewManager создает пустой менеджер кандидатов
func NewManager() *Manager {
	m := &Manager{}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.local = make(map[string][]jingle.Candidate)
	m.localQueue = make(map[string][]jingle.Candidate)
	m.localKeys = make(map[string]map[string]struct{})
	m.localOrder = nil
	m.remote = make(map[string][]jingle.Candidate)
	m.remoteQueue = make(map[string][]jingle.Candidate)
	m.remoteKeys = make(map[string]map[string]struct{})
}

// AddLocal добавляет локальный кандидат контента name.
// Возвращает false для дубликата.
func (m *Manager) AddLocal(name string, c jingle.Candidate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !remember(m.localKeys, name, c) {
		return false
	}
	if _, ok := m.local[name]; !ok {
		m.localOrder = append(m.localOrder, name)
	}
	m.local[name] = append(m.local[name], c)
	m.localQueue[name] = append(m.localQueue[name], c)
	return true
}

// DrainLocal атомарно забирает очередь локальных кандидатов
func (m *Manager) DrainLocal() map[string][]jingle.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.localQueue
	m.localQueue = make(map[string][]jingle.Candidate)
	return out
}

// PendingLocal возвращает число локальных кандидатов ожидающих отправки
func (m *Manager) PendingLocal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return count(m.localQueue)
}

// Local возвращает копию постоянного набора локальных кандидатов контента
func (m *Manager) Local(name string) []jingle.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jingle.Candidate(nil), m.local[name]...)
}

// LocalNames возвращает имена контентов с локальными кандидатами в порядке
// появления первого кандидата
func (m *Manager) LocalNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.localOrder...)
}

// AddRemote ставит удаленный кандидат в очередь применения.
// Возвращает false для дубликата.
func (m *Manager) AddRemote(name string, c jingle.Candidate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !remember(m.remoteKeys, name, c) {
		return false
	}
	m.remote[name] = append(m.remote[name], c)
	m.remoteQueue[name] = append(m.remoteQueue[name], c)
	return true
}

// DrainRemote атомарно забирает очередь удаленных кандидатов
func (m *Manager) DrainRemote() map[string][]jingle.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.remoteQueue
	m.remoteQueue = make(map[string][]jingle.Candidate)
	return out
}

// Remote возвращает копию всех полученных удаленных кандидатов контента
func (m *Manager) Remote(name string) []jingle.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jingle.Candidate(nil), m.remote[name]...)
}

// Reset очищает все наборы и очереди
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func remember(keys map[string]map[string]struct{}, name string, c jingle.Candidate) bool {
	set, ok := keys[name]
	if !ok {
		set = make(map[string]struct{})
		keys[name] = set
	}
	key := c.Key()
	if _, dup := set[key]; dup {
		return false
	}
	set[key] = struct{}{}
	return true
}

func count(m map[string][]jingle.Candidate) int {
	n := 0
	for _, list := range m {
		n += len(list)
	}
	return n
}
