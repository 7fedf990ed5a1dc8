package session

import "sync"

// Store is the session-state port. Implementations must return copies from
// Get so callers cannot mutate shared state outside Update.
type Store interface {
	Get(key string) Data
	Update(key string, fn func(*Data) error) error
}

// MemoryStore keeps sessions for the life of the process. Sessions are
// created lazily on first access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Data)}
}

func (s *MemoryStore) entry(key string) *Data {
	d, ok := s.sessions[key]
	if !ok {
		d = &Data{State: StateIdle}
		s.sessions[key] = d
	}
	return d
}

func (s *MemoryStore) Get(key string) Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(key).clone()
}

// Update applies fn to a working copy and stores it only when fn succeeds,
// so a failed operation leaves the session as it was.
func (s *MemoryStore) Update(key string, fn func(*Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.entry(key)
	work := cur.clone()
	if err := fn(&work); err != nil {
		return err
	}
	if !work.Consistent() {
		return ErrInvalidTransition
	}
	*cur = work
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
