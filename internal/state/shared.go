package state

import (
	"fmt"
	"sync"
)

// SharedStore opens its backing store for every operation and closes it
// again. The daemon keeps one for its whole life while the maintenance
// commands open the same path from another process; bbolt's file lock is
// held only for the length of a single Get or Set.
type SharedStore struct {
	backend string
	path    string
	mu      sync.Mutex
}

// OpenShared checks that the store at path can be opened and returns a
// SharedStore for it.
func OpenShared(backend, path string) (*SharedStore, error) {
	s := &SharedStore{backend: backend, path: path}
	if err := s.with(func(Store) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SharedStore) open() (Store, error) {
	switch s.backend {
	case "bolt", "":
		return OpenBolt(s.path)
	case "file":
		return OpenFile(s.path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", s.backend)
	}
}

func (s *SharedStore) with(fn func(Store) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close state %s: %w", s.path, cerr)
		}
	}()
	return fn(st)
}

func (s *SharedStore) Get(key string) (value string, ok bool, err error) {
	err = s.with(func(st Store) error {
		var gerr error
		value, ok, gerr = st.Get(key)
		return gerr
	})
	return value, ok, err
}

func (s *SharedStore) Set(key, value string) error {
	return s.with(func(st Store) error { return st.Set(key, value) })
}

func (s *SharedStore) Delete(key string) error {
	return s.with(func(st Store) error { return st.Delete(key) })
}

func (s *SharedStore) DeleteAll() error {
	return s.with(func(st Store) error { return st.DeleteAll() })
}

// Close is a no-op; nothing is held open between operations.
func (s *SharedStore) Close() error {
	return nil
}
