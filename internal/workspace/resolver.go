// Package workspace resolves the project root a file belongs to.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"lspmux/internal/config"
)

// familyMarkers lists, per language family, the project markers checked
// at each directory level before the version-control fallback. Order
// within a family matters: the first marker present wins.
var familyMarkers = map[string][]string{
	"go":     {"go.work", "go.mod"},
	"ts":     {"tsconfig.json", "jsconfig.json", "package.json"},
	"python": {"pyproject.toml", "setup.py", "setup.cfg", "requirements.txt", "Pipfile"},
	"rust":   {"Cargo.toml"},
	"c":      {"compile_commands.json", "compile_flags.txt", "CMakeLists.txt", "meson.build"},
	"java":   {"pom.xml", "build.gradle", "build.gradle.kts"},
	"ruby":   {"Gemfile"},
}

var familyByExtension = map[string]string{
	"go":  "go",
	"ts":  "ts", "tsx": "ts", "js": "ts", "jsx": "ts", "mts": "ts", "cts": "ts",
	"py": "python", "pyi": "python",
	"rs": "rust",
	"c":  "c", "h": "c", "cc": "c", "cpp": "c", "cxx": "c", "hpp": "c",
	"java": "java", "kt": "java",
	"rb": "ruby",
}

// Family derives the language family for a backend from its extension
// claims. Backends claiming no known extension fall into a generic
// family whose only marker is version control.
func Family(backend config.BackendConfig) string {
	for _, ext := range backend.Extensions {
		if fam, ok := familyByExtension[strings.ToLower(ext)]; ok {
			return fam
		}
	}
	return "generic"
}

// Resolver finds workspace roots by walking upward from a file,
// memoizing every directory visited so sibling lookups short-circuit.
type Resolver struct {
	mu    sync.Mutex
	cache map[cacheKey]string
}

type cacheKey struct {
	family string
	dir    string
}

// NewResolver creates an empty resolver
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[cacheKey]string)}
}

// ResolveFor resolves the root for a file under a backend. A backend
// with an explicit root pins it verbatim; otherwise the family walk
// applies.
func (r *Resolver) ResolveFor(backend config.BackendConfig, filePath string) string {
	if backend.RootDir != "" {
		if abs, err := filepath.Abs(backend.RootDir); err == nil {
			return abs
		}
		return backend.RootDir
	}
	return r.Resolve(filePath, Family(backend))
}

// Resolve walks upward from the file's directory looking for a family
// marker, then a .git directory, stopping at the first hit. If nothing
// matches by the filesystem root, the file's own directory is the
// answer. Every directory visited is cached under (family, dir).
func (r *Resolver) Resolve(filePath, family string) string {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}
	start := filepath.Dir(abs)

	r.mu.Lock()
	defer r.mu.Unlock()

	var visited []string
	root := ""
	dir := start
	for {
		if cached, ok := r.cache[cacheKey{family, dir}]; ok {
			root = cached
			break
		}
		visited = append(visited, dir)
		if hasMarker(dir, family) {
			root = dir
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			root = start
			break
		}
		dir = parent
	}

	for _, v := range visited {
		r.cache[cacheKey{family, v}] = root
	}
	return root
}

// CacheSize reports how many (family, directory) entries are memoized
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func hasMarker(dir, family string) bool {
	for _, marker := range familyMarkers[family] {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}
