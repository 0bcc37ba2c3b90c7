package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// cacheState is the persisted file layout: the assistant id plus the map of
// thread key to thread id.
type cacheState struct {
	AssistantID string            `json:"assistant_id"`
	Threads     map[string]string `json:"threads"`
}

// FileStore persists the resource cache as a single JSON file. The state is
// re-read on every operation so an operator can inspect or reset the file
// between requests; a process-wide mutex serializes read-modify-write
// cycles. It assumes a single writer per deployment.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path. The file is created on
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (*cacheState, error) {
	state := &cacheState{Threads: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse cache file %s: %w", s.path, err)
	}
	if state.Threads == nil {
		state.Threads = make(map[string]string)
	}
	return state, nil
}

func (s *FileStore) save(state *cacheState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache state: %w", err)
	}

	// Write-then-rename so a crash mid-write cannot truncate the cache.
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Get returns the id stored under key, or "" when absent.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return "", err
	}
	if key == assistantKey {
		return state.AssistantID, nil
	}
	return state.Threads[key], nil
}

// PutIfAbsent stores id under key unless the key is already populated, and
// returns whichever id ended up winning.
func (s *FileStore) PutIfAbsent(_ context.Context, key, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return "", err
	}

	if key == assistantKey {
		if state.AssistantID != "" {
			return state.AssistantID, nil
		}
		state.AssistantID = id
	} else {
		if existing := state.Threads[key]; existing != "" {
			return existing, nil
		}
		state.Threads[key] = id
	}

	if err := s.save(state); err != nil {
		return "", err
	}
	return id, nil
}
