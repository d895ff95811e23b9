package lsp

import (
	"os"
	"path/filepath"
	"testing"

	"lspmux/internal/config"
)

func writeFakePython(t *testing.T, venvDir string) string {
	t.Helper()
	binDir := filepath.Join(venvDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(binDir, "python")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestPythonPrefersProjectVenv verifies a .venv in the root wins over
// anything on PATH.
func TestPythonPrefersProjectVenv(t *testing.T) {
	root := t.TempDir()
	want := writeFakePython(t, filepath.Join(root, ".venv"))

	cache := NewToolchainCache()
	if got := cache.Python(root); got != want {
		t.Errorf("resolved %q, want %q", got, want)
	}
}

// TestPythonPyprojectVenv verifies a venv declared in pyproject.toml is
// honored, including relative paths.
func TestPythonPyprojectVenv(t *testing.T) {
	root := t.TempDir()
	want := writeFakePython(t, filepath.Join(root, "envs", "dev"))

	manifest := "[tool.lspmux]\nvenv = \"envs/dev\"\n"
	if err := os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	cache := NewToolchainCache()
	if got := cache.Python(root); got != want {
		t.Errorf("resolved %q, want %q", got, want)
	}
}

// TestPythonResultIsCached verifies the probe runs once per root. A venv
// created after the first lookup must not change the answer.
func TestPythonResultIsCached(t *testing.T) {
	root := t.TempDir()
	cache := NewToolchainCache()
	first := cache.Python(root)

	writeFakePython(t, filepath.Join(root, ".venv"))

	if got := cache.Python(root); got != first {
		t.Errorf("cached lookup changed from %q to %q", first, got)
	}
}

// TestNeedsPythonToolchain covers recognition by name and by extension
func TestNeedsPythonToolchain(t *testing.T) {
	cases := []struct {
		backend config.BackendConfig
		want    bool
	}{
		{config.BackendConfig{Name: "pyright"}, true},
		{config.BackendConfig{Name: "my-pylsp-fork"}, true},
		{config.BackendConfig{Name: "custom-ls", Extensions: []string{"py"}}, true},
		{config.BackendConfig{Name: "gopls", Extensions: []string{"go"}}, false},
	}
	for _, tc := range cases {
		if got := needsPythonToolchain(tc.backend); got != tc.want {
			t.Errorf("needsPythonToolchain(%s) = %v, want %v", tc.backend.Name, got, tc.want)
		}
	}
}
