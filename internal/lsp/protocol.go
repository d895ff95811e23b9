package lsp

import (
	"path/filepath"
	"strings"
)

// Position is a zero-based line/character position in a document
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) span in a document
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range inside a document identified by URI
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Diagnostic is one reported problem in a document
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity,omitempty"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}

// TextEdit replaces the text inside Range with NewText
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// SymbolInfo is a named symbol in a document, flattened from either the
// hierarchical DocumentSymbol shape or the flat SymbolInformation shape.
type SymbolInfo struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Range          Range    `json:"range"`
	SelectionRange Range    `json:"selectionRange"`
	Container      string   `json:"container,omitempty"`
}

// PathToURI converts an absolute file path to a file:// URI
func PathToURI(path string) string {
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "file://" + path
}

// URIToPath converts a file:// URI back to a file path
func URIToPath(uri string) string {
	path := strings.TrimPrefix(uri, "file://")
	return filepath.FromSlash(path)
}

// asMap narrows a decoded JSON value to an object
func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// parsePosition decodes {"line": n, "character": n}
func parsePosition(v interface{}) (Position, bool) {
	m, ok := asMap(v)
	if !ok {
		return Position{}, false
	}
	line, lok := m["line"].(float64)
	char, cok := m["character"].(float64)
	if !lok || !cok {
		return Position{}, false
	}
	return Position{Line: int(line), Character: int(char)}, true
}

// parseRange decodes {"start": pos, "end": pos}
func parseRange(v interface{}) (Range, bool) {
	m, ok := asMap(v)
	if !ok {
		return Range{}, false
	}
	start, sok := parsePosition(m["start"])
	end, eok := parsePosition(m["end"])
	if !sok || !eok {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// parseLocation decodes a Location or LocationLink object
func parseLocation(v interface{}) (Location, bool) {
	m, ok := asMap(v)
	if !ok {
		return Location{}, false
	}

	// LocationLink uses targetUri/targetSelectionRange
	if target, ok := m["targetUri"].(string); ok {
		r, rok := parseRange(m["targetSelectionRange"])
		if !rok {
			r, rok = parseRange(m["targetRange"])
		}
		if !rok {
			return Location{}, false
		}
		return Location{URI: target, Range: r}, true
	}

	uri, uok := m["uri"].(string)
	r, rok := parseRange(m["range"])
	if !uok || !rok {
		return Location{}, false
	}
	return Location{URI: uri, Range: r}, true
}

// ParseLocations decodes a definition/references result, which may be
// null, a single Location, or an array of Location/LocationLink.
func ParseLocations(result interface{}) []Location {
	if result == nil {
		return nil
	}

	if loc, ok := parseLocation(result); ok {
		return []Location{loc}
	}

	arr, ok := result.([]interface{})
	if !ok {
		return nil
	}

	locs := make([]Location, 0, len(arr))
	for _, item := range arr {
		if loc, ok := parseLocation(item); ok {
			locs = append(locs, loc)
		}
	}
	return locs
}

// ParseDocumentSymbols decodes a textDocument/documentSymbol result.
// Servers return either hierarchical DocumentSymbol[] (flattened here,
// children carrying their parent as Container) or flat
// SymbolInformation[].
func ParseDocumentSymbols(result interface{}, uri string) []SymbolInfo {
	arr, ok := result.([]interface{})
	if !ok {
		return nil
	}

	var symbols []SymbolInfo
	for _, item := range arr {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		if _, hier := m["selectionRange"]; hier {
			symbols = appendDocumentSymbol(symbols, m, "")
		} else {
			if sym, ok := parseSymbolInformation(m); ok {
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols
}

func appendDocumentSymbol(symbols []SymbolInfo, m map[string]interface{}, container string) []SymbolInfo {
	name, _ := m["name"].(string)
	kind, _ := m["kind"].(float64)
	fullRange, _ := parseRange(m["range"])
	selRange, ok := parseRange(m["selectionRange"])
	if !ok {
		selRange = fullRange
	}

	symbols = append(symbols, SymbolInfo{
		Name:           name,
		Kind:           symbolKindToString(int(kind)),
		Range:          fullRange,
		SelectionRange: selRange,
		Container:      container,
	})

	if children, ok := m["children"].([]interface{}); ok {
		for _, child := range children {
			if cm, ok := asMap(child); ok {
				symbols = appendDocumentSymbol(symbols, cm, name)
			}
		}
	}
	return symbols
}

func parseSymbolInformation(m map[string]interface{}) (SymbolInfo, bool) {
	name, _ := m["name"].(string)
	kind, _ := m["kind"].(float64)
	loc, ok := parseLocation(m["location"])
	if !ok {
		return SymbolInfo{}, false
	}
	container, _ := m["containerName"].(string)

	return SymbolInfo{
		Name:           name,
		Kind:           symbolKindToString(int(kind)),
		Range:          loc.Range,
		SelectionRange: loc.Range,
		Container:      container,
	}, true
}

// ParseWorkspaceEdit decodes a rename result into edits keyed by URI.
// Both the changes map and the documentChanges array forms are handled;
// resource operations (file create/rename/delete) are not supported by
// the applier and are skipped.
func ParseWorkspaceEdit(result interface{}) map[string][]TextEdit {
	m, ok := asMap(result)
	if !ok {
		return nil
	}

	edits := make(map[string][]TextEdit)

	if changes, ok := asMap(m["changes"]); ok {
		for uri, v := range changes {
			edits[uri] = append(edits[uri], parseTextEdits(v)...)
		}
	}

	if docChanges, ok := m["documentChanges"].([]interface{}); ok {
		for _, item := range docChanges {
			dc, ok := asMap(item)
			if !ok {
				continue
			}
			td, ok := asMap(dc["textDocument"])
			if !ok {
				continue
			}
			uri, ok := td["uri"].(string)
			if !ok {
				continue
			}
			edits[uri] = append(edits[uri], parseTextEdits(dc["edits"])...)
		}
	}

	if len(edits) == 0 {
		return nil
	}
	return edits
}

func parseTextEdits(v interface{}) []TextEdit {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]TextEdit, 0, len(arr))
	for _, item := range arr {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		r, rok := parseRange(m["range"])
		text, tok := m["newText"].(string)
		if !rok || !tok {
			continue
		}
		out = append(out, TextEdit{Range: r, NewText: text})
	}
	return out
}

// parseDiagnostics decodes the params of textDocument/publishDiagnostics
func parseDiagnostics(params interface{}) (uri string, diags []Diagnostic, ok bool) {
	m, mok := asMap(params)
	if !mok {
		return "", nil, false
	}
	uri, uok := m["uri"].(string)
	if !uok {
		return "", nil, false
	}

	arr, _ := m["diagnostics"].([]interface{})
	diags = make([]Diagnostic, 0, len(arr))
	for _, item := range arr {
		dm, dok := asMap(item)
		if !dok {
			continue
		}
		r, rok := parseRange(dm["range"])
		if !rok {
			continue
		}
		msg, _ := dm["message"].(string)
		severity, _ := dm["severity"].(float64)
		source, _ := dm["source"].(string)
		diags = append(diags, Diagnostic{
			Range:    r,
			Severity: int(severity),
			Message:  msg,
			Source:   source,
		})
	}
	return uri, diags, true
}

// symbolKindToString maps the LSP SymbolKind enumeration to a name
func symbolKindToString(kind int) string {
	switch kind {
	case 1:
		return "file"
	case 2:
		return "module"
	case 3:
		return "namespace"
	case 4:
		return "package"
	case 5:
		return "class"
	case 6:
		return "method"
	case 7:
		return "property"
	case 8:
		return "field"
	case 9:
		return "constructor"
	case 10:
		return "enum"
	case 11:
		return "interface"
	case 12:
		return "function"
	case 13:
		return "variable"
	case 14:
		return "constant"
	case 15:
		return "string"
	case 16:
		return "number"
	case 17:
		return "boolean"
	case 18:
		return "array"
	case 19:
		return "object"
	case 20:
		return "key"
	case 21:
		return "null"
	case 22:
		return "enum-member"
	case 23:
		return "struct"
	case 24:
		return "event"
	case 25:
		return "operator"
	case 26:
		return "type-parameter"
	default:
		return "symbol"
	}
}
