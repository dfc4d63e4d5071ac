package state

import "sync"

// MemoryStore is a Store held in memory only.
type MemoryStore struct {
	mu    sync.Mutex
	props map[string]string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{props: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, key)
	return nil
}

func (s *MemoryStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = make(map[string]string)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored properties.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.props)
}

// Overlay reads through to a base store but keeps every write in memory.
// It is used for dry runs so the persisted state is never touched.
type Overlay struct {
	base    Store
	mu      sync.Mutex
	writes  map[string]string
	deleted map[string]bool
	cleared bool
}

func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, writes: make(map[string]string), deleted: make(map[string]bool)}
}

func (o *Overlay) Get(key string) (string, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.writes[key]; ok {
		return v, true, nil
	}
	if o.cleared || o.deleted[key] {
		return "", false, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Set(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[key] = value
	delete(o.deleted, key)
	return nil
}

func (o *Overlay) Delete(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.writes, key)
	o.deleted[key] = true
	return nil
}

func (o *Overlay) DeleteAll() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string]string)
	o.deleted = make(map[string]bool)
	o.cleared = true
	return nil
}

// Close closes the base store.
func (o *Overlay) Close() error {
	return o.base.Close()
}
