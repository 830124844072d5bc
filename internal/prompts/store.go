package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// validKeyPattern matches valid prompt keys (alphanumeric with dots, underscores).
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._]*$`)

const overrideExt = ".tmpl"

// Store reads prompt overrides from a directory of <key>.tmpl files.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a new prompt store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the override directory.
func (s *Store) Dir() string { return s.dir }

// Get returns the override for key, or nil when none exists.
func (s *Store) Get(key string) (*Override, error) {
	if !validKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("invalid prompt key: %s", key)
	}

	path := filepath.Join(s.dir, key+overrideExt)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompt override %s: %w", key, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		s.logger.Warn("ignoring empty prompt override", "key", key, "path", path)
		return nil, nil
	}
	return &Override{Key: key, Text: text, Path: path}, nil
}

// List returns every override in the directory, sorted by key.
func (s *Store) List() ([]Override, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list prompt overrides: %w", err)
	}

	var out []Override
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), overrideExt) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), overrideExt)
		o, err := s.Get(key)
		if err != nil {
			s.logger.Warn("skipping prompt override", "file", e.Name(), "error", err)
			continue
		}
		if o != nil {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Save writes an override for key.
func (s *Store) Save(key, text string) (string, error) {
	if !validKeyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid prompt key: %s", key)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create prompt dir: %w", err)
	}
	path := filepath.Join(s.dir, key+overrideExt)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write prompt override: %w", err)
	}
	return path, nil
}
