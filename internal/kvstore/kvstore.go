package kvstore

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Prefix namespaces every key this store owns. Other data sharing the same
// physical file is left untouched by ClearAll.
const Prefix = "chatvault:"

// Store is a namespaced key-value store over a single JSON file in the user
// config directory. Reads never fail: an absent or unparsable value is logged
// and reported as absence. When the backing file cannot be used the store
// degrades to memory-only operation.
type Store struct {
	mu   sync.Mutex
	path string // empty means memory-only
	data map[string]json.RawMessage
}

// Open loads the store from the default location, degrading to a memory-only
// store (with a logged warning) when the config directory is unusable.
func Open() *Store {
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Printf("kvstore: no user config dir, running in memory: %v", err)
		return &Store{data: map[string]json.RawMessage{}}
	}
	appDir := filepath.Join(configDir, "chatvault")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		log.Printf("kvstore: cannot create app config dir, running in memory: %v", err)
		return &Store{data: map[string]json.RawMessage{}}
	}
	return OpenAt(filepath.Join(appDir, "store.json"))
}

// OpenAt loads the store from an explicit file path.
func OpenAt(path string) *Store {
	s := &Store{path: path, data: map[string]json.RawMessage{}}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s
	}
	if err != nil {
		log.Printf("kvstore: read %s failed, running in memory: %v", path, err)
		s.path = ""
		return s
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		log.Printf("kvstore: %s is corrupt, starting empty: %v", path, err)
		s.data = map[string]json.RawMessage{}
	}
	return s
}

// Get unmarshals the value stored under key into out and reports whether a
// usable value was present. It never returns an error.
func (s *Store) Get(key string, out any) bool {
	s.mu.Lock()
	raw, ok := s.data[Prefix+key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("kvstore: unreadable value for %q treated as absent: %v", key, err)
		return false
	}
	return true
}

// GetMap reads a value as a generic map with temporal fields revived into
// time.Time (see ReviveTimes). Returns nil when absent.
func (s *Store) GetMap(key string) map[string]any {
	var m map[string]any
	if !s.Get(key, &m) {
		return nil
	}
	ReviveTimes(m)
	return m
}

// GetOr returns the stored value for key, or def when absent or unparsable.
func GetOr[T any](s *Store, key string, def T) T {
	var v T
	if s.Get(key, &v) {
		return v
	}
	return def
}

// Set stores value under the namespaced key, overwriting unconditionally.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[Prefix+key] = raw
	return s.flushLocked()
}

// Remove deletes the namespaced key, if present.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[Prefix+key]; !ok {
		return
	}
	delete(s.data, Prefix+key)
	if err := s.flushLocked(); err != nil {
		log.Printf("kvstore: flush after remove failed: %v", err)
	}
}

// Keys lists all namespaced keys, without the prefix, in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, Prefix) {
			keys = append(keys, strings.TrimPrefix(k, Prefix))
		}
	}
	sort.Strings(keys)
	return keys
}

// ClearAll removes every namespaced entry. Entries without the prefix are
// left alone.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, Prefix) {
			delete(s.data, k)
		}
	}
	if err := s.flushLocked(); err != nil {
		log.Printf("kvstore: flush after clear failed: %v", err)
	}
}

func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
