package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for operations on a session that is not open.
var ErrNotFound = errors.New("session not found")

// Repository is the concurrency-safe registry of open sessions. It only
// tracks sessions; closing them is the caller's job.
type Repository interface {
	// Put stores s and returns the session it replaced, if any.
	Put(s *Session) (replaced *Session)

	// Get returns the open session for id.
	Get(id ID) (*Session, bool)

	// Delete removes and returns the session for id.
	Delete(id ID) (*Session, bool)

	// List returns all open sessions ordered by id.
	List() []*Session

	// ActiveCount returns the number of open sessions. Used for metrics.
	ActiveCount() int
}

// InMemoryRepository is a Repository on top of a Store.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository returns a repository backed by an InMemoryStore.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore returns a repository that uses store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Put implements Repository.Put.
func (r *InMemoryRepository) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, _ := r.store.Get(s.ID)
	r.store.Set(s)
	if old == s {
		return nil
	}
	return old
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Get(id)
}

// Delete implements Repository.Delete.
func (r *InMemoryRepository) Delete(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.Get(id)
	if !ok {
		return nil, false
	}
	r.store.Delete(id)
	return s, true
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.List()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.store.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// ActiveCount implements Repository.ActiveCount.
func (r *InMemoryRepository) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.List())
}
