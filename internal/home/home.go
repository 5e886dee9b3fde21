// Package home lays out the audiodoc home directory.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the home directory.
	DefaultDirName = ".audiodoc"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the home directory structure.
type Dir struct {
	path string
}

// New creates a Dir at path, or at ~/.audiodoc when path is empty.
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

// Path returns the root path.
func (d *Dir) Path() string { return d.path }

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string { return filepath.Join(d.path, ConfigFileName) }

// DBPath returns the SQLite job store file.
func (d *Dir) DBPath() string { return filepath.Join(d.path, "data", "jobs.db") }

// DefraPath returns the DefraDB data directory mounted into its container.
func (d *Dir) DefraPath() string { return filepath.Join(d.path, "defradb") }

// MediaDir holds the catalog's background videos and music.
func (d *Dir) MediaDir() string { return filepath.Join(d.path, "media") }

// UploadsDir holds submitted PDFs until their job finishes.
func (d *Dir) UploadsDir() string { return filepath.Join(d.path, "uploads") }

// AudioDir holds generated narration.
func (d *Dir) AudioDir() string { return filepath.Join(d.path, "audio") }

// AudioPath returns the narration file of a job.
func (d *Dir) AudioPath(jobID, ext string) string {
	return filepath.Join(d.AudioDir(), jobID+"."+ext)
}

// CacheDir holds transient player downloads.
func (d *Dir) CacheDir() string { return filepath.Join(d.path, "cache") }

// EnsureExists creates the home directory and its subdirectories.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{filepath.Dir(d.DBPath()), d.MediaDir(), d.UploadsDir(), d.AudioDir(), d.CacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists reports whether the config file exists.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
