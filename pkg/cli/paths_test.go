package cli

import (
	"path/filepath"
	"testing"
)

func TestNewPathsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(HomeEnv, "")

	p, err := NewPaths("hfembed")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".hfembed"); p.Root != want {
		t.Errorf("Root = %q, want %q", p.Root, want)
	}
	if want := filepath.Join(home, ".hfembed", "hfembed"); p.AppDir() != want {
		t.Errorf("AppDir() = %q, want %q", p.AppDir(), want)
	}
	if want := filepath.Join(home, ".hfembed", "hfembed", "config.yaml"); p.ConfigFile() != want {
		t.Errorf("ConfigFile() = %q, want %q", p.ConfigFile(), want)
	}
}

func TestNewPathsHomeOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv(HomeEnv, root)

	p, err := NewPaths("hfembed")
	if err != nil {
		t.Fatal(err)
	}
	if p.Root != root {
		t.Errorf("Root = %q, want %q", p.Root, root)
	}
	if want := filepath.Join(root, "hfembed", "config.yaml"); p.ConfigFile() != want {
		t.Errorf("ConfigFile() = %q, want %q", p.ConfigFile(), want)
	}
}

func TestLoadConfigDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(HomeEnv, "")

	cfg, err := LoadConfig("testapp")
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	want := filepath.Join(home, DefaultBaseDir, "testapp", DefaultConfigFile)
	if cfg.Path() != want {
		t.Errorf("Path() = %q, want %q", cfg.Path(), want)
	}
}
