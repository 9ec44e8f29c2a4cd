package auth

import "sync"

// MockStore is an in-memory SessionStore with error injection for tests
type MockStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

func NewMockStore() *MockStore {
	return &MockStore{sessions: make(map[string]*Session)}
}

func (m *MockStore) Store(session *Session) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session == nil || session.Identity == "" {
		return ErrInvalidSession
	}
	cp := *session
	m.sessions[session.Identity] = &cp
	return nil
}

func (m *MockStore) Retrieve(identity string) (*Session, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if identity == "" {
		return nil, ErrInvalidSession
	}
	s, ok := m.sessions[identity]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) List() ([]*Session, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) Delete(identity string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[identity]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, identity)
	return nil
}

func (m *MockStore) Exists(identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[identity]
	return ok
}

// Count returns the number of stored sessions
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// NewMockManager creates a Manager over a single MockStore
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return &Manager{stores: []SessionStore{store}}, store
}

// NewManagerWithStores creates a Manager over the given stores, tried in order
func NewManagerWithStores(stores ...SessionStore) *Manager {
	return &Manager{stores: stores}
}
