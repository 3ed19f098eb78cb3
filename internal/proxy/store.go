package proxy

// Store is the persistence abstraction for session state.
// The Registry uses Store for all reads and writes and layers its own locking
// on top; implementations need not be concurrency-safe on their own.
type Store interface {
	Get(id StreamID) (*StreamSession, bool)
	Put(s *StreamSession)
	Delete(id StreamID)
	List() []*StreamSession
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[StreamID]*StreamSession
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[StreamID]*StreamSession),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id StreamID) (*StreamSession, bool) {
	ss, ok := s.sessions[id]
	return ss, ok
}

// Put implements Store.Put.
func (s *InMemoryStore) Put(ss *StreamSession) {
	s.sessions[ss.ID] = ss
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(id StreamID) {
	delete(s.sessions, id)
}

// List implements Store.List.
func (s *InMemoryStore) List() []*StreamSession {
	out := make([]*StreamSession, 0, len(s.sessions))
	for _, ss := range s.sessions {
		out = append(out, ss)
	}
	return out
}
