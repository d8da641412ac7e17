package session

// Store is the storage abstraction for open sessions. Implementations need
// not be safe for concurrent use; the Repository serializes access.
type Store interface {
	Get(id ID) (*Session, bool)
	Set(s *Session)
	Delete(id ID)
	List() []ID
}

// InMemoryStore is a map-backed Store.
type InMemoryStore struct {
	sessions map[ID]*Session
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[ID]*Session)}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id ID) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(sess *Session) {
	s.sessions[sess.ID] = sess
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(id ID) {
	delete(s.sessions, id)
}

// List implements Store.List.
func (s *InMemoryStore) List() []ID {
	ids := make([]ID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
