package field

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// ValueStore persists one string slot per field: the base64 envelope, or ""
// when the field has never been saved. Replacement is wholesale; there is
// no partial update and no history.
type ValueStore interface {
	Get(ctx context.Context, fieldID string) (string, error)
	Put(ctx context.Context, fieldID string, envelope string) error
}

// MemStore is the in-process backend used by tests.
type MemStore struct {
	mu    sync.RWMutex
	slots map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{slots: make(map[string]string)}
}

func (m *MemStore) Get(_ context.Context, fieldID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots[fieldID], nil
}

func (m *MemStore) Put(_ context.Context, fieldID, envelope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[fieldID] = envelope
	return nil
}

// FileStore keeps one file per field. Dev backend.
type FileStore struct{ dir string }

func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileStore{dir: dir}
}

func (f *FileStore) Get(_ context.Context, fieldID string) (string, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, fieldID+".slot"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f *FileStore) Put(_ context.Context, fieldID, envelope string) error {
	return os.WriteFile(filepath.Join(f.dir, fieldID+".slot"), []byte(envelope), 0600)
}
