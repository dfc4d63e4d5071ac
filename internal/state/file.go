package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps properties as a JSON object on disk. The file is the only
// copy: every read loads it and every write is a read-modify-write through a
// temp file and rename, so several handles (or processes) on one path see
// each other's changes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// OpenFile checks the properties file at path. A missing file starts empty.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := props[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.load()
	if err != nil {
		return err
	}
	props[key] = value
	return s.save(props)
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := props[key]; !ok {
		return nil
	}
	delete(props, key)
	return s.save(props)
}

func (s *FileStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(make(map[string]string))
}

func (s *FileStore) Close() error {
	return nil
}

// load reads the file, treating a missing file as empty.
func (s *FileStore) load() (map[string]string, error) {
	props, err := loadProps(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to load state file %s: %w", s.path, err)
	}
	return props, nil
}

// loadProps loads the properties from the JSON file.
func loadProps(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string)
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// save replaces the JSON file with props.
func (s *FileStore) save(props map[string]string) error {
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calbuffer-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
