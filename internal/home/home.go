package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the glean home directory.
	DefaultDirName = ".glean"

	// UploadsDirName holds saved uploads and downloaded images.
	UploadsDirName = "uploads"

	// ProcessedDirName holds binarized images written by the preprocessor.
	ProcessedDirName = "processed"

	// PagesDirName holds pages rendered from PDF inputs.
	PagesDirName = "pages"

	// PromptsDirName holds prompt overrides as <key>.tmpl files.
	PromptsDirName = "prompts"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the glean home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.glean).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// UploadsDir returns the directory for saved inputs.
func (d *Dir) UploadsDir() string {
	return filepath.Join(d.path, UploadsDirName)
}

// ProcessedDir returns the directory for preprocessed images.
func (d *Dir) ProcessedDir() string {
	return filepath.Join(d.path, ProcessedDirName)
}

// PagesDir returns the directory for pages rendered from a PDF.
func (d *Dir) PagesDir(docID string) string {
	return filepath.Join(d.path, PagesDirName, docID)
}

// PromptsDir returns the directory for prompt overrides.
func (d *Dir) PromptsDir() string {
	return filepath.Join(d.path, PromptsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.UploadsDir(), d.ProcessedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
