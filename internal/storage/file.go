package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileKV stores each key as its own file under a directory.
//
// Values are written with 0600 permissions via a temp file and rename, so a
// crash mid-write never leaves a truncated token behind.
type FileKV struct {
	dir string
}

// NewFileKV returns a FileKV rooted at <home>/kv, creating it if needed.
func NewFileKV(home string) (*FileKV, error) {
	if strings.TrimSpace(home) == "" {
		return nil, fmt.Errorf("missing chatsync home")
	}
	dir := filepath.Join(home, "kv")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create kv dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

// Get implements KV.
func (s *FileKV) Get(key string) (string, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements KV.
func (s *FileKV) Set(key, value string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return os.Rename(tmp, path)
}

// Remove implements KV.
func (s *FileKV) Remove(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *FileKV) path(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	// Keys are internal constants today; keep them inside dir regardless.
	key = strings.ReplaceAll(key, string(os.PathSeparator), "_")
	key = strings.ReplaceAll(key, "..", "_")
	return filepath.Join(s.dir, key), nil
}
