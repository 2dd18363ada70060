package entries

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const storeVersion = 1

// Record is the persisted form of a configuration entry.
type Record struct {
	EntryID    string         `yaml:"entry_id"`
	Domain     string         `yaml:"domain"`
	Title      string         `yaml:"title"`
	Version    int            `yaml:"version"`
	Source     string         `yaml:"source"`
	Data       map[string]any `yaml:"data"`
	Subentries []Subentry     `yaml:"subentries,omitempty"`
}

type document struct {
	Version int      `yaml:"version"`
	Entries []Record `yaml:"entries"`
}

// Store persists entry records.
type Store interface {
	Load() ([]Record, error)
	Save([]Record) error
}

// FileStore keeps entries in a YAML document. An empty path keeps them in
// memory only.
type FileStore struct {
	path string

	mu     sync.Mutex
	memory []Record
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return append([]Record(nil), s.memory...), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.Version > storeVersion {
		return nil, fmt.Errorf("entry store %s has version %d, newest supported is %d", s.path, doc.Version, storeVersion)
	}
	return doc.Entries, nil
}

// Save writes through a temp file and rename so a crash never leaves a torn document.
func (s *FileStore) Save(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		s.memory = append([]Record(nil), records...)
		return nil
	}

	data, err := yaml.Marshal(document{Version: storeVersion, Entries: records})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, "entries_*.yaml")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpFile.Name(), s.path)
}
