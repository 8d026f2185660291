package store

import "sync"

// LockListener observes lock-state transitions of databases held by a
// Manager. Called with the database and its new locked state.
type LockListener func(db Database, locked bool)

// Manager holds the set of open credential databases, the active-database
// reference every matching call reads, and lock-state subscriptions.
type Manager struct {
	mu        sync.RWMutex
	open      []Database
	active    Database
	listeners []LockListener
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add registers an open database. The first database added becomes active.
func (m *Manager) Add(db Database) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = append(m.open, db)
	if m.active == nil {
		m.active = db
	}
}

// Active returns the currently active database, or nil when none is open.
func (m *Manager) Active() Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SetActive switches the active database and notifies listeners with the
// new database's lock state, so in-flight confirmation dialogs can cancel.
func (m *Manager) SetActive(db Database) {
	m.mu.Lock()
	m.active = db
	listeners := append([]LockListener(nil), m.listeners...)
	m.mu.Unlock()

	if db == nil {
		return
	}
	for _, fn := range listeners {
		fn(db, db.IsLocked())
	}
}

// Open returns all open databases.
func (m *Manager) Open() []Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Database(nil), m.open...)
}

// Subscribe registers a listener for lock-state transitions.
func (m *Manager) Subscribe(fn LockListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// LockDatabase locks db and broadcasts the transition.
func (m *Manager) LockDatabase(db Database) {
	if db == nil || !db.Lock() {
		return
	}
	m.broadcast(db, true)
}

// UnlockDatabase unlocks db and broadcasts the transition.
func (m *Manager) UnlockDatabase(db Database) {
	if db == nil || !db.Unlock() {
		return
	}
	m.broadcast(db, false)
}

func (m *Manager) broadcast(db Database, locked bool) {
	m.mu.RLock()
	listeners := append([]LockListener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(db, locked)
	}
}
