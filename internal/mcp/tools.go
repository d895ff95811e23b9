package mcp

import (
	"context"

	"lspmux/internal/dispatch"
	"lspmux/internal/errors"
)

// Tool describes one tool exposed via tools/list
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func fileSymbolSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"file_path": map[string]interface{}{
			"type":        "string",
			"description": "Path to the file containing the symbol",
		},
		"symbol_name": map[string]interface{}{
			"type":        "string",
			"description": "Name of the symbol, optionally container-qualified (Container.Name)",
		},
		"symbol_kind": map[string]interface{}{
			"type":        "string",
			"description": "Optional kind hint (class, function, method, variable, ...) to disambiguate same-named symbols",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (s *Server) toolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "find_definition",
			Description: "Find where a symbol is defined. Routes to the language server claiming the file and returns the definition locations.",
			InputSchema: fileSymbolSchema(nil, "file_path", "symbol_name"),
		},
		{
			Name:        "find_references",
			Description: "Find all references to a symbol across the workspace",
			InputSchema: fileSymbolSchema(map[string]interface{}{
				"include_declaration": map[string]interface{}{
					"type":        "boolean",
					"default":     true,
					"description": "Include the declaration itself in the results",
				},
			}, "file_path", "symbol_name"),
		},
		{
			Name:        "rename_symbol",
			Description: "Rename a symbol everywhere the owning language server knows about. Rejects ambiguous matches unless symbol_kind disambiguates. Set dry_run to preview the affected files without writing.",
			InputSchema: fileSymbolSchema(map[string]interface{}{
				"new_name": map[string]interface{}{
					"type":        "string",
					"description": "The new symbol name",
				},
				"dry_run": map[string]interface{}{
					"type":        "boolean",
					"default":     false,
					"description": "Report the files and edit counts without modifying anything",
				},
				"backup": map[string]interface{}{
					"type":        "boolean",
					"default":     false,
					"description": "Write a .bak copy of each file before modifying it",
				},
			}, "file_path", "symbol_name", "new_name"),
		},
		{
			Name:        "document_symbols",
			Description: "List the symbols declared in a file with their kinds and locations",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file",
					},
				},
				"required": []string{"file_path"},
			},
		},
		{
			Name:        "get_diagnostics",
			Description: "Get the merged diagnostics for a file from every language server claiming it",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"file_path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file",
					},
				},
				"required": []string{"file_path"},
			},
		},
		{
			Name:        "server_status",
			Description: "List the language server processes this session has running, with their workspace roots, states and open document counts",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "restart_servers",
			Description: "Kill running language server processes so subsequent requests spawn fresh ones. Optionally limited to servers claiming the given routing tokens (file extensions).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"extensions": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Routing tokens to match; empty restarts everything",
					},
				},
			},
		},
	}
}

func (s *Server) registerTools() {
	s.tools["find_definition"] = s.toolFindDefinition
	s.tools["find_references"] = s.toolFindReferences
	s.tools["rename_symbol"] = s.toolRenameSymbol
	s.tools["document_symbols"] = s.toolDocumentSymbols
	s.tools["get_diagnostics"] = s.toolGetDiagnostics
	s.tools["server_status"] = s.toolServerStatus
	s.tools["restart_servers"] = s.toolRestartServers
}

func stringParam(params map[string]interface{}, key string, required bool) (string, error) {
	v, ok := params[key].(string)
	if (!ok || v == "") && required {
		return "", errors.Newf(errors.RequestFailed, "missing required parameter %s", key)
	}
	return v, nil
}

func boolParam(params map[string]interface{}, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func (s *Server) toolFindDefinition(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filePath, err := stringParam(params, "file_path", true)
	if err != nil {
		return nil, err
	}
	symbol, err := stringParam(params, "symbol_name", true)
	if err != nil {
		return nil, err
	}
	kind, _ := stringParam(params, "symbol_kind", false)

	locs, err := s.dispatcher.Definition(ctx, filePath, symbol, kind)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"locations": locs}, nil
}

func (s *Server) toolFindReferences(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filePath, err := stringParam(params, "file_path", true)
	if err != nil {
		return nil, err
	}
	symbol, err := stringParam(params, "symbol_name", true)
	if err != nil {
		return nil, err
	}
	kind, _ := stringParam(params, "symbol_kind", false)
	includeDecl := boolParam(params, "include_declaration", true)

	locs, err := s.dispatcher.References(ctx, filePath, symbol, kind, includeDecl)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"references": locs, "count": len(locs)}, nil
}

func (s *Server) toolRenameSymbol(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filePath, err := stringParam(params, "file_path", true)
	if err != nil {
		return nil, err
	}
	symbol, err := stringParam(params, "symbol_name", true)
	if err != nil {
		return nil, err
	}
	newName, err := stringParam(params, "new_name", true)
	if err != nil {
		return nil, err
	}
	kind, _ := stringParam(params, "symbol_kind", false)

	result, err := s.dispatcher.Rename(ctx, filePath, symbol, dispatch.RenameOptions{
		NewName: newName,
		Kind:    kind,
		DryRun:  boolParam(params, "dry_run", false),
		Backup:  boolParam(params, "backup", false),
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) toolDocumentSymbols(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filePath, err := stringParam(params, "file_path", true)
	if err != nil {
		return nil, err
	}
	symbols, err := s.dispatcher.DocumentSymbols(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"symbols": symbols, "count": len(symbols)}, nil
}

func (s *Server) toolGetDiagnostics(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filePath, err := stringParam(params, "file_path", true)
	if err != nil {
		return nil, err
	}
	diags, err := s.dispatcher.Diagnostics(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"diagnostics": diags, "count": len(diags)}, nil
}

func (s *Server) toolServerStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	instances := s.supervisor.Status()
	return map[string]interface{}{"instances": instances, "count": len(instances)}, nil
}

func (s *Server) toolRestartServers(_ context.Context, params map[string]interface{}) (interface{}, error) {
	var tokens []string
	if arr, ok := params["extensions"].([]interface{}); ok {
		for _, v := range arr {
			if tok, ok := v.(string); ok && tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	killed, failed := s.supervisor.Restart(tokens)
	return map[string]interface{}{"killed": killed, "failed": failed}, nil
}
