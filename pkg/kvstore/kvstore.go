// Package kvstore persists named tables as whole JSON documents, one file
// per table, rewritten in full on every save.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	json "github.com/goccy/go-json"
)

var tableNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Store serializes writes behind a single lock so a shutdown flush never
// interleaves with an in-flight save.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(table string) (string, error) {
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return filepath.Join(s.dir, table+".json"), nil
}

// Load decodes table into v. It reports false when the table has never
// been saved, leaving v untouched.
func (s *Store) Load(table string, v interface{}) (bool, error) {
	p, err := s.path(table)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read table %s: %w", table, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode table %s: %w", table, err)
	}
	return true, nil
}

// Save replaces table with v atomically (write temp file, fsync, rename).
func (s *Store) Save(table string, v interface{}) error {
	p, err := s.path(table)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode table %s: %w", table, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", table, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", table, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", table, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", table, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", table, err)
	}
	return nil
}

// Delete removes a table file; deleting a missing table is not an error.
func (s *Store) Delete(table string) error {
	p, err := s.path(table)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete table %s: %w", table, err)
	}
	return nil
}
