package game

import "sync"

// Repository holds live match state keyed by match id. The in-memory
// implementation below backs tests and the single-binary deployment; the
// durable implementation lives in internal/store.
type Repository interface {
	Get(id string) (*Match, error)
	Put(m *Match) error
	Delete(id string) error
	// FindByExternalRef resolves the match a human session is bound to.
	FindByExternalRef(ref string) (*Match, error)
}

type MemoryRepository struct {
	mu      sync.RWMutex
	matches map[string]*Match
	byRef   map[string]string // external ref -> match id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		matches: make(map[string]*Match),
		byRef:   make(map[string]string),
	}
}

func (r *MemoryRepository) Get(id string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.matches[id]
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

func (r *MemoryRepository) Put(m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches[m.ID] = m
	for ref, id := range r.byRef {
		if id == m.ID {
			delete(r.byRef, ref)
		}
	}
	for _, p := range m.Participants {
		if p.Kind == KindHuman && p.ExternalRef != "" {
			r.byRef[p.ExternalRef] = m.ID
		}
	}
	return nil
}

func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, id)
	for ref, mid := range r.byRef {
		if mid == id {
			delete(r.byRef, ref)
		}
	}
	return nil
}

func (r *MemoryRepository) FindByExternalRef(ref string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[ref]
	if !ok {
		return nil, ErrMatchNotFound
	}
	m := r.matches[id]
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}
