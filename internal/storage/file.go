package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// FileStore persists a profile as one JSON object on disk, rewritten
// atomically (temp file + rename) on every write. Change notification is
// in-process only.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage

	notify *MemoryStore // reused for its subscriber set
}

// NewFileStore opens (or creates) the store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]json.RawMessage),
		notify: NewMemoryStore(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.values); err != nil {
			return nil, fmt.Errorf("parsing store file %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("storing %s: value is not JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make(json.RawMessage, len(value))
	copy(v, value)
	s.values[key] = v
	return s.flushLocked()
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}
	return nil
}

func (s *FileStore) Publish(ctx context.Context, change Change) error {
	return s.notify.Publish(ctx, change)
}

func (s *FileStore) Subscribe(ctx context.Context, fn func(Change)) (func(), error) {
	return s.notify.Subscribe(ctx, fn)
}

func (s *FileStore) Close() error { return nil }

// profileNameRe restricts profile IDs used as file names.
var profileNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileOpener stores each profile as <dir>/<profile>.json.
// Stores are cached so every tab of a profile shares one FileStore.
type FileOpener struct {
	dir string

	mu     sync.Mutex
	stores map[string]*FileStore
}

// NewFileOpener creates the directory if needed.
func NewFileOpener(dir string) (*FileOpener, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &FileOpener{dir: dir, stores: make(map[string]*FileStore)}, nil
}

func (o *FileOpener) Open(_ context.Context, profile string) (Store, error) {
	if !profileNameRe.MatchString(profile) {
		return nil, fmt.Errorf("invalid profile id %q", profile)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.stores[profile]; ok {
		return s, nil
	}
	s, err := NewFileStore(filepath.Join(o.dir, profile+".json"))
	if err != nil {
		return nil, err
	}
	o.stores[profile] = s
	return s, nil
}

func (o *FileOpener) Close() error { return nil }
