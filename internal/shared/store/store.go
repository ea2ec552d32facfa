package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"proxyhive/internal/shared/logger"
)

// Store is the generic key-value contract the proxy manager persists
// through. Values are JSON-encoded; Get reports whether the key existed.
type Store interface {
	Get(key string, out interface{}) (bool, error)
	Set(key string, value interface{}) error
	Delete(key string) error
}

// FileStore persists the key space as a single JSON document on disk.
// Reads are served from an in-memory snapshot; every mutation rewrites
// the file.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	data     map[string]json.RawMessage
}

// OpenFileStore loads the store file, creating an empty store when the
// file does not exist yet.
func OpenFileStore(filePath string) (*FileStore, error) {
	fs := &FileStore{
		filePath: filePath,
		data:     make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l := logger.WithComponent("ProxyPool/Store")
			l.Info().Str("path", filePath).Msg("Store file not found, starting empty.")
			return fs, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", filePath, err)
	}
	return fs, nil
}

func (fs *FileStore) Get(key string, out interface{}) (bool, error) {
	fs.mu.RLock()
	raw, ok := fs.data[key]
	fs.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return true, nil
}

func (fs *FileStore) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data[key] = raw
	return fs.persist()
}

func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.data[key]; !ok {
		return nil
	}
	delete(fs.data, key)
	return fs.persist()
}

// persist must be called with fs.mu held.
func (fs *FileStore) persist() error {
	raw, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fs.filePath, raw, 0644)
}

// MemoryStore is an in-process Store used in tests and no-file mode.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func (ms *MemoryStore) Get(key string, out interface{}) (bool, error) {
	ms.mu.RLock()
	raw, ok := ms.data[key]
	ms.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, err
	}
	return true, nil
}

func (ms *MemoryStore) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	ms.data[key] = raw
	ms.mu.Unlock()
	return nil
}

func (ms *MemoryStore) Delete(key string) error {
	ms.mu.Lock()
	delete(ms.data, key)
	ms.mu.Unlock()
	return nil
}
