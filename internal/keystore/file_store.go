package keystore

import (
	"context"
	"encoding/json"
	"os"
)

// FileStore keeps the key record as a JSON file. Dev and test backend.
type FileStore struct{ path string }

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (Record, error) {
	var rec Record
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return rec, ErrKeyNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (f *FileStore) Save(_ context.Context, rec Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, b, 0600)
}
