// Package state persists small string values across restarts under fixed keys.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Storage is a string key/value store. Implementations must be safe for
// concurrent use.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// SetMany writes several keys in one operation. Empty values delete.
	SetMany(values map[string]string) error
	Delete(keys ...string) error
}

// State represents the persisted key/value pairs.
type State map[string]string

// FileStorage keeps the state in a YAML file.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileStorage returns a Storage backed by the YAML file at path.
// The file and its directory are created on first write.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the backing file path.
func (f *FileStorage) Path() string {
	return f.path
}

// load reads the state file. Returns an empty state if the file doesn't exist.
func (f *FileStorage) load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(State), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	if state == nil {
		state = make(State)
	}

	return state, nil
}

// save writes the state file through a temp file so readers never see a
// partial write.
func (f *FileStorage) save(state State) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.yml")
	if err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	// Credentials live here.
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Get retrieves a value by key.
func (f *FileStorage) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return "", false, err
	}
	val, ok := state[key]
	return val, ok, nil
}

// Set sets a value in the state.
func (f *FileStorage) Set(key, value string) error {
	return f.SetMany(map[string]string{key: value})
}

// SetMany sets several values in one read-modify-write cycle. An empty
// value removes its key.
func (f *FileStorage) SetMany(values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		state = make(State)
	}
	for k, v := range values {
		if v == "" {
			delete(state, k)
			continue
		}
		state[k] = v
	}
	return f.save(state)
}

// Delete removes keys from the state.
func (f *FileStorage) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		state = make(State)
	}
	for _, k := range keys {
		delete(state, k)
	}
	return f.save(state)
}

// MemoryStorage is an in-process Storage, used by tests and by callers
// that do not want anything written to disk.
type MemoryStorage struct {
	mu     sync.RWMutex
	values State
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(State)}
}

// Get retrieves a value by key.
func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set sets a value.
func (m *MemoryStorage) Set(key, value string) error {
	return m.SetMany(map[string]string{key: value})
}

// SetMany sets several values. An empty value removes its key.
func (m *MemoryStorage) SetMany(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		if v == "" {
			delete(m.values, k)
			continue
		}
		m.values[k] = v
	}
	return nil
}

// Delete removes keys.
func (m *MemoryStorage) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Snapshot returns a copy of everything stored.
func (m *MemoryStorage) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(State, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

var (
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
