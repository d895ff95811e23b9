// Package dispatch routes code-intelligence operations across the
// configured backends: first-success fallback for queries, fan-out and
// merge for diagnostics.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"lspmux/internal/config"
	"lspmux/internal/editapply"
	"lspmux/internal/errors"
	"lspmux/internal/logging"
	"lspmux/internal/lsp"
	"lspmux/internal/router"
	"lspmux/internal/workspace"
)

// Conn is the per-backend surface the dispatcher drives. *lsp.Instance
// satisfies it; tests substitute fakes.
type Conn interface {
	HasCapability(key string) bool
	Request(ctx context.Context, method string, params interface{}) (interface{}, error)
	OpenDocument(uri, text string) (bool, error)
	Diagnostics(uri string) []lsp.Diagnostic
}

// Acquirer hands out ready connections for (backend, root) pairs
type Acquirer interface {
	Acquire(ctx context.Context, backend config.BackendConfig, root string) (Conn, error)
}

// SupervisorAcquirer adapts the process supervisor to the Acquirer
// interface.
type SupervisorAcquirer struct {
	Supervisor *lsp.Supervisor
}

func (a *SupervisorAcquirer) Acquire(ctx context.Context, backend config.BackendConfig, root string) (Conn, error) {
	inst, err := a.Supervisor.Acquire(ctx, backend, root)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Dispatcher executes the public operations against routed backends
type Dispatcher struct {
	router   *router.Router
	resolver *workspace.Resolver
	acquirer Acquirer
	logger   *logging.Logger

	openGrace  time.Duration
	diagSettle time.Duration

	// readFile is swappable in tests
	readFile func(path string) ([]byte, error)
}

// New creates a dispatcher over the given routing table and acquirer
func New(cfg *config.Config, acquirer Acquirer, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		router:     router.New(cfg.Backends),
		resolver:   workspace.NewResolver(),
		acquirer:   acquirer,
		logger:     logger,
		openGrace:  time.Duration(cfg.Supervisor.OpenGraceMs) * time.Millisecond,
		diagSettle: time.Duration(cfg.Supervisor.DiagnosticsSettleMs) * time.Millisecond,
		readFile:   os.ReadFile,
	}
}

// Definition finds where the named symbol in filePath is defined
func (d *Dispatcher) Definition(ctx context.Context, filePath, symbol, kind string) ([]lsp.Location, error) {
	var locs []lsp.Location
	err := d.firstSuccess(ctx, "definition", filePath, "definitionProvider",
		func(ctx context.Context, conn Conn, uri string) error {
			pos, err := d.locate(ctx, conn, uri, symbol, kind)
			if err != nil {
				return err
			}
			result, err := conn.Request(ctx, "textDocument/definition", positionParams(uri, pos))
			if err != nil {
				return err
			}
			locs = lsp.ParseLocations(result)
			return nil
		})
	return locs, err
}

// References finds every reference to the named symbol in filePath
func (d *Dispatcher) References(ctx context.Context, filePath, symbol, kind string, includeDeclaration bool) ([]lsp.Location, error) {
	var locs []lsp.Location
	err := d.firstSuccess(ctx, "references", filePath, "referencesProvider",
		func(ctx context.Context, conn Conn, uri string) error {
			pos, err := d.locate(ctx, conn, uri, symbol, kind)
			if err != nil {
				return err
			}
			params := positionParams(uri, pos)
			params["context"] = map[string]interface{}{"includeDeclaration": includeDeclaration}
			result, err := conn.Request(ctx, "textDocument/references", params)
			if err != nil {
				return err
			}
			locs = lsp.ParseLocations(result)
			return nil
		})
	return locs, err
}

// DocumentSymbols lists the symbols declared in filePath
func (d *Dispatcher) DocumentSymbols(ctx context.Context, filePath string) ([]lsp.SymbolInfo, error) {
	var symbols []lsp.SymbolInfo
	err := d.firstSuccess(ctx, "document-symbols", filePath, "documentSymbolProvider",
		func(ctx context.Context, conn Conn, uri string) error {
			result, err := conn.Request(ctx, "textDocument/documentSymbol",
				map[string]interface{}{"textDocument": map[string]interface{}{"uri": uri}})
			if err != nil {
				return err
			}
			symbols = lsp.ParseDocumentSymbols(result, uri)
			return nil
		})
	return symbols, err
}

// FilePreview summarizes the pending edits for one file of a dry-run
// rename.
type FilePreview struct {
	Path  string `json:"path"`
	Edits int    `json:"edits"`
}

// RenameResult reports an applied or previewed rename
type RenameResult struct {
	Applied  bool          `json:"applied"`
	Modified []string      `json:"modified,omitempty"`
	Backups  []string      `json:"backups,omitempty"`
	Preview  []FilePreview `json:"preview,omitempty"`
}

// RenameOptions controls a rename operation
type RenameOptions struct {
	NewName string
	Kind    string
	DryRun  bool
	Backup  bool
}

// Rename renames the symbol everywhere the owning backend knows about.
// If the symbol name matches more than one declaration in the file and
// no kind hint disambiguates, the rename is rejected with the candidate
// locations before any rename request is issued.
func (d *Dispatcher) Rename(ctx context.Context, filePath, symbol string, opts RenameOptions) (*RenameResult, error) {
	var result *RenameResult
	err := d.firstSuccess(ctx, "rename", filePath, "renameProvider",
		func(ctx context.Context, conn Conn, uri string) error {
			matches, err := d.matchSymbols(ctx, conn, uri, symbol, opts.Kind)
			if err != nil {
				return err
			}
			if len(matches) > 1 {
				return ambiguityError(symbol, uri, matches)
			}

			params := positionParams(uri, matches[0].SelectionRange.Start)
			params["newName"] = opts.NewName
			raw, err := conn.Request(ctx, "textDocument/rename", params)
			if err != nil {
				return err
			}

			edits := lsp.ParseWorkspaceEdit(raw)
			if edits == nil {
				return errors.Newf(errors.RequestFailed, "backend returned no edits for rename of %s", symbol)
			}

			if opts.DryRun {
				result = &RenameResult{Preview: previewEdits(edits)}
				return nil
			}

			applied, applyErr := editapply.Apply(edits, editapply.Options{Backup: opts.Backup})
			result = &RenameResult{
				Applied:  applyErr == nil,
				Modified: applied.Modified,
				Backups:  applied.Backups,
			}
			return applyErr
		})
	if err != nil {
		return result, err
	}
	return result, nil
}

// Diagnostics merges the last-known diagnostics for filePath from every
// backend claiming it, tagging entries that lack a source label with
// the backend's name.
func (d *Dispatcher) Diagnostics(ctx context.Context, filePath string) ([]lsp.Diagnostic, error) {
	backends, err := d.router.Route(filePath)
	if err != nil {
		return nil, err
	}
	uri := lsp.PathToURI(filePath)

	type opened struct {
		backend config.BackendConfig
		conn    Conn
	}
	var ready []opened
	var failures []errors.CandidateFailure
	anyOpened := false

	for _, backend := range backends {
		root := d.resolver.ResolveFor(backend, filePath)
		conn, err := d.acquirer.Acquire(ctx, backend, root)
		if err != nil {
			failures = append(failures, candidateFailure(backend, root, err))
			continue
		}
		freshly, err := d.openDocument(ctx, conn, filePath, uri)
		if err != nil {
			failures = append(failures, candidateFailure(backend, root, err))
			continue
		}
		anyOpened = anyOpened || freshly
		ready = append(ready, opened{backend, conn})
	}

	if len(ready) == 0 {
		return nil, errors.NewAggregate("diagnostics", failures)
	}

	// Freshly opened documents need time to be analyzed before the
	// backend publishes anything
	if anyOpened {
		d.sleep(ctx, d.diagSettle)
	}

	var merged []lsp.Diagnostic
	for _, o := range ready {
		for _, diag := range o.conn.Diagnostics(uri) {
			if diag.Source == "" {
				diag.Source = o.backend.Name
			}
			merged = append(merged, diag)
		}
	}
	return merged, nil
}

// firstSuccess drives the fallback chain shared by the query
// operations: acquire each routed backend in specificity order, skip
// the ones whose capability set denies the operation, and stop at the
// first candidate whose attempt succeeds. An ambiguity rejection stops
// the chain immediately, as does an edit-apply failure: once the disk
// has been touched, retrying against another backend can only compound
// the damage. Every other per-candidate failure advances the chain.
func (d *Dispatcher) firstSuccess(ctx context.Context, operation, filePath, capability string,
	attempt func(ctx context.Context, conn Conn, uri string) error) error {

	backends, err := d.router.Route(filePath)
	if err != nil {
		return err
	}
	uri := lsp.PathToURI(filePath)

	var failures []errors.CandidateFailure
	for _, backend := range backends {
		root := d.resolver.ResolveFor(backend, filePath)

		conn, err := d.acquirer.Acquire(ctx, backend, root)
		if err != nil {
			failures = append(failures, candidateFailure(backend, root, err))
			continue
		}
		if !conn.HasCapability(capability) {
			failures = append(failures, errors.CandidateFailure{
				Backend: backend.Name,
				Root:    root,
				Reason:  fmt.Sprintf("capability %s not supported", capability),
			})
			continue
		}
		if _, err := d.openDocument(ctx, conn, filePath, uri); err != nil {
			failures = append(failures, candidateFailure(backend, root, err))
			continue
		}

		err = attempt(ctx, conn, uri)
		if err == nil {
			return nil
		}
		switch errors.CodeOf(err) {
		case errors.AmbiguousSymbol, errors.EditFailed:
			return err
		}
		d.logger.Debug("Candidate failed", map[string]interface{}{
			"operation": operation,
			"backend":   backend.Name,
			"root":      root,
			"error":     err.Error(),
		})
		failures = append(failures, candidateFailure(backend, root, err))
	}
	return errors.NewAggregate(operation, failures)
}

// openDocument reads the file and opens it on the connection, holding a
// short grace delay after a first open so the backend ingests it before
// being queried. Reports whether this call performed the open.
func (d *Dispatcher) openDocument(ctx context.Context, conn Conn, filePath, uri string) (bool, error) {
	content, err := d.readFile(filePath)
	if err != nil {
		return false, errors.New(errors.RequestFailed, fmt.Sprintf("cannot read %s", filePath), err)
	}
	freshly, err := conn.OpenDocument(uri, string(content))
	if err != nil {
		return false, err
	}
	if freshly {
		d.sleep(ctx, d.openGrace)
	}
	return freshly, nil
}

// locate resolves a symbol name to its declaration position via the
// backend's own symbol listing. Multiple matches pick the first in
// document order; kind hints narrow the match first.
func (d *Dispatcher) locate(ctx context.Context, conn Conn, uri, symbol, kind string) (lsp.Position, error) {
	matches, err := d.matchSymbols(ctx, conn, uri, symbol, kind)
	if err != nil {
		return lsp.Position{}, err
	}
	return matches[0].SelectionRange.Start, nil
}

// matchSymbols returns the declarations in uri matching the symbol name
// and optional kind hint. Name matching also accepts a trailing
// container-qualified form (Container.Name).
func (d *Dispatcher) matchSymbols(ctx context.Context, conn Conn, uri, symbol, kind string) ([]lsp.SymbolInfo, error) {
	result, err := conn.Request(ctx, "textDocument/documentSymbol",
		map[string]interface{}{"textDocument": map[string]interface{}{"uri": uri}})
	if err != nil {
		return nil, err
	}

	symbols := lsp.ParseDocumentSymbols(result, uri)
	var matches []lsp.SymbolInfo
	for _, sym := range symbols {
		if sym.Name != symbol && qualifiedName(sym) != symbol {
			continue
		}
		if kind != "" && !strings.EqualFold(sym.Kind, kind) {
			continue
		}
		matches = append(matches, sym)
	}

	if len(matches) == 0 {
		return nil, errors.Newf(errors.SymbolNotFound, "symbol %s not found in %s", symbol, lsp.URIToPath(uri))
	}
	return matches, nil
}

func qualifiedName(sym lsp.SymbolInfo) string {
	if sym.Container == "" {
		return sym.Name
	}
	return sym.Container + "." + sym.Name
}

func ambiguityError(symbol, uri string, matches []lsp.SymbolInfo) error {
	candidates := make([]map[string]interface{}, len(matches))
	descriptions := make([]string, len(matches))
	for i, m := range matches {
		candidates[i] = map[string]interface{}{
			"kind": m.Kind,
			"uri":  uri,
			"line": m.SelectionRange.Start.Line,
		}
		descriptions[i] = fmt.Sprintf("%s at line %d", m.Kind, m.SelectionRange.Start.Line+1)
	}
	return errors.Newf(errors.AmbiguousSymbol,
		"symbol %s matches %d declarations (%s); provide a kind hint",
		symbol, len(matches), strings.Join(descriptions, ", ")).
		WithDetails(map[string]interface{}{"candidates": candidates})
}

func candidateFailure(backend config.BackendConfig, root string, err error) errors.CandidateFailure {
	return errors.CandidateFailure{Backend: backend.Name, Root: root, Reason: err.Error()}
}

func positionParams(uri string, pos lsp.Position) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     map[string]interface{}{"line": pos.Line, "character": pos.Character},
	}
}

func previewEdits(edits map[string][]lsp.TextEdit) []FilePreview {
	previews := make([]FilePreview, 0, len(edits))
	for uri, fileEdits := range edits {
		previews = append(previews, FilePreview{Path: lsp.URIToPath(uri), Edits: len(fileEdits)})
	}
	sort.Slice(previews, func(i, j int) bool { return previews[i].Path < previews[j].Path })
	return previews
}

// sleep waits for the given settle duration, ending early on context
// cancellation.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	select {
	case <-time.After(dur):
	case <-ctx.Done():
	}
}
