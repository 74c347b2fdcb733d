package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileName is the settings file name inside the data directory.
const FileName = "settings.json"

// Store reads and writes the settings document at a fixed path. Nothing is
// cached: every Load re-reads the file.
type Store struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewStore constructs a store for the file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// DefaultPath returns the settings path inside dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the settings file. A missing file yields an empty
// document and no error.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("read settings %s: %w", s.path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, nil
}

// LoadMigrated loads the document and, when it still carries legacy keys,
// writes the cleaned version back. A failed write-back is logged and the
// cleaned document is still returned.
func (s *Store) LoadMigrated() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return doc, err
	}
	if !doc.Has(legacyServerIP) {
		return doc, nil
	}
	cleaned, err := doc.Delete(legacyServerIP)
	if err != nil {
		return doc, err
	}
	if err := s.write(cleaned); err != nil {
		s.logger.Warn("persist migrated settings", zap.String("path", s.path), zap.Error(err))
	}
	return cleaned, nil
}

// Save replaces the settings file with doc.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(doc)
}

// SaveRaw validates data and replaces the settings file with it.
func (s *Store) SaveRaw(data []byte) error {
	doc, err := Parse(data)
	if err != nil {
		return err
	}
	return s.Save(doc)
}

// Update performs a read-modify-write of the settings file.
func (s *Store) Update(fn func(Document) (Document, error)) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return Document{}, err
	}
	next, err := fn(doc)
	if err != nil {
		return Document{}, err
	}
	if err := s.write(next); err != nil {
		return Document{}, err
	}
	return next, nil
}

func (s *Store) write(doc Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(doc.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace settings %s: %w", s.path, err)
	}
	return nil
}
