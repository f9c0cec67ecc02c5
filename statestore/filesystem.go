package statestore

import (
	"io/ioutil"
	"os"
	"path"
	"strings"
)

// FilesystemStore keeps each key as one small file under Dir. Keys may
// contain slashes, which become subdirectories.
type FilesystemStore struct {
	Dir string
}

func NewFilesystemStore(dir string) *FilesystemStore {
	return &FilesystemStore{Dir: dir}
}

func (s *FilesystemStore) Get(key string) (string, bool, error) {
	raw, err := ioutil.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	return strings.TrimSpace(string(raw)), true, nil
}

func (s *FilesystemStore) Put(key, value string) error {
	p := s.path(key)
	if err := os.MkdirAll(path.Dir(p), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(p, []byte(value), 0600)
}

func (s *FilesystemStore) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FilesystemStore) path(key string) string {
	return path.Join(s.Dir, key)
}

// MemoryStore is the in-memory Store used by tests.
type MemoryStore struct {
	kv map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: map[string]string{}}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *MemoryStore) Put(key, value string) error {
	s.kv[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	delete(s.kv, key)
	return nil
}
