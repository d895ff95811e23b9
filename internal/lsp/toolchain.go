package lsp

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"lspmux/internal/config"
)

// ToolchainCache memoizes toolchain lookups per workspace root. Absence
// is cached too, so a root without an interpreter is probed once, not on
// every handshake.
type ToolchainCache struct {
	mu      sync.Mutex
	pythons map[string]string // root -> interpreter path; "" = probed, none found
}

// NewToolchainCache creates an empty cache
func NewToolchainCache() *ToolchainCache {
	return &ToolchainCache{
		pythons: make(map[string]string),
	}
}

// Python resolves the interpreter to hand a Python-family backend for
// the given root: a project venv first, then a pyproject-declared venv,
// then whatever is on PATH. Returns "" when nothing is found.
func (c *ToolchainCache) Python(root string) string {
	c.mu.Lock()
	if cached, ok := c.pythons[root]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	resolved := probePython(root)

	c.mu.Lock()
	c.pythons[root] = resolved
	c.mu.Unlock()

	return resolved
}

func probePython(root string) string {
	for _, venv := range []string{".venv", "venv"} {
		candidate := filepath.Join(root, venv, "bin", "python")
		if fileExists(candidate) {
			return candidate
		}
	}

	if venv := pyprojectVenv(root); venv != "" {
		if !filepath.IsAbs(venv) {
			venv = filepath.Join(root, venv)
		}
		candidate := filepath.Join(venv, "bin", "python")
		if fileExists(candidate) {
			return candidate
		}
	}

	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	return ""
}

// pyprojectVenv reads an explicitly declared venv location from
// pyproject.toml ([tool.lspmux] venv = "...").
func pyprojectVenv(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "pyproject.toml"))
	if err != nil {
		return ""
	}

	var manifest struct {
		Tool struct {
			Lspmux struct {
				Venv string `toml:"venv"`
			} `toml:"lspmux"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	return manifest.Tool.Lspmux.Venv
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// needsPythonToolchain reports whether a backend wants a resolved
// interpreter, judged by its name or claimed extensions.
func needsPythonToolchain(backend config.BackendConfig) bool {
	name := strings.ToLower(backend.Name)
	if strings.Contains(name, "pyright") || strings.Contains(name, "pylsp") || strings.Contains(name, "python") || strings.Contains(name, "jedi") {
		return true
	}
	for _, ext := range backend.Extensions {
		if ext == "py" || ext == "pyi" {
			return true
		}
	}
	return false
}
