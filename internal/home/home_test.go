package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-audiodoc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-audiodoc" {
			t.Errorf("expected path /tmp/test-audiodoc, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		home, _ := os.UserHomeDir()
		if want := filepath.Join(home, DefaultDirName); dir.Path() != want {
			t.Errorf("expected path %s, got %s", want, dir.Path())
		}
	})
}

func TestDirPaths(t *testing.T) {
	dir, _ := New("/tmp/test-audiodoc")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-audiodoc/config.yaml"},
		{"DBPath", dir.DBPath(), "/tmp/test-audiodoc/data/jobs.db"},
		{"DefraPath", dir.DefraPath(), "/tmp/test-audiodoc/defradb"},
		{"MediaDir", dir.MediaDir(), "/tmp/test-audiodoc/media"},
		{"AudioPath", dir.AudioPath("job-1", "mp3"), "/tmp/test-audiodoc/audio/job-1.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestEnsureExists(t *testing.T) {
	dir, _ := New(filepath.Join(t.TempDir(), "home"))
	if dir.Exists() {
		t.Fatal("home should not exist yet")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	for _, p := range []string{dir.MediaDir(), dir.UploadsDir(), dir.AudioDir(), dir.CacheDir(), filepath.Dir(dir.DBPath())} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("%s was not created", p)
		}
	}
	if dir.ConfigExists() {
		t.Error("config should not exist")
	}
}
