// Package router matches file paths to configured backends and orders
// the candidates by specificity.
package router

import (
	"path/filepath"
	"sort"
	"strings"

	"lspmux/internal/config"
	"lspmux/internal/errors"
)

// filenameAliases maps well-known extensionless filenames to a routing
// token. Matching is by lowercased filename prefix so variants like
// Dockerfile.dev still resolve.
var filenameAliases = []struct {
	prefix string
	token  string
}{
	{"dockerfile", "dockerfile"},
	{"containerfile", "dockerfile"},
	{"makefile", "makefile"},
	{"gnumakefile", "makefile"},
	{"justfile", "justfile"},
	{"vagrantfile", "ruby"},
	{"gemfile", "ruby"},
	{"rakefile", "ruby"},
}

// Tokens computes the routing tokens for a file path: its extension, a
// two-segment compound extension (module.css), the bare filename, the
// filename without a leading dot, and any well-known filename aliases.
// All tokens are lowercased; order is most to least specific.
func Tokens(path string) []string {
	base := strings.ToLower(filepath.Base(path))

	var tokens []string
	seen := make(map[string]bool)
	add := func(tok string) {
		if tok != "" && !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	trimmed := strings.TrimPrefix(base, ".")
	segments := strings.Split(trimmed, ".")

	if len(segments) >= 3 {
		add(strings.Join(segments[len(segments)-2:], "."))
	}
	if len(segments) >= 2 {
		add(segments[len(segments)-1])
	}
	add(base)
	if base != trimmed {
		add(trimmed)
	}
	for _, alias := range filenameAliases {
		if strings.HasPrefix(base, alias.prefix) {
			add(alias.token)
		}
	}

	return tokens
}

// Router orders configured backends for a given file. Configuration
// order is preserved as the final tie-break, so it must be constructed
// with the backends in their declared order.
type Router struct {
	backends []config.BackendConfig
}

// New creates a router over an ordered backend list
func New(backends []config.BackendConfig) *Router {
	return &Router{backends: backends}
}

// Route returns the backends claiming any routing token of the file,
// most specific first: backends rooted at an ancestor of the file rank
// by root length (deeper roots first), backends without an explicit
// root rank last, and configuration order breaks ties. Returns a
// NoBackend error naming the attempted tokens when nothing matches.
func (r *Router) Route(filePath string) ([]config.BackendConfig, error) {
	tokens := Tokens(filePath)

	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}

	type candidate struct {
		backend config.BackendConfig
		score   int
	}
	var candidates []candidate
	for _, backend := range r.backends {
		if !claims(backend, tokens) {
			continue
		}
		candidates = append(candidates, candidate{backend, specificity(backend, abs)})
	}

	if len(candidates) == 0 {
		return nil, errors.Newf(errors.NoBackend,
			"no backend claims %s (tokens: %s)", filePath, strings.Join(tokens, ", "))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := make([]config.BackendConfig, len(candidates))
	for i, c := range candidates {
		out[i] = c.backend
	}
	return out, nil
}

func claims(backend config.BackendConfig, tokens []string) bool {
	for _, ext := range backend.Extensions {
		ext = strings.ToLower(ext)
		for _, tok := range tokens {
			if ext == tok {
				return true
			}
		}
	}
	return false
}

// specificity scores a backend for a file: a backend whose explicit
// root is an ancestor of (or equal to) the file scores by root length,
// everything else scores zero.
func specificity(backend config.BackendConfig, absFile string) int {
	if backend.RootDir == "" {
		return 0
	}
	root, err := filepath.Abs(backend.RootDir)
	if err != nil {
		return 0
	}
	root = filepath.Clean(root)
	if absFile == root || strings.HasPrefix(absFile, root+string(filepath.Separator)) {
		return len(root)
	}
	return 0
}
