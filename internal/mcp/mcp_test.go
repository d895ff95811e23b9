package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lspmux/internal/config"
	"lspmux/internal/dispatch"
	"lspmux/internal/logging"
	"lspmux/internal/lsp"
	"lspmux/internal/version"
)

// fakeConn is a canned backend connection for driving the dispatcher
// through the tool layer.
type fakeConn struct {
	responses map[string]interface{}
	diags     []lsp.Diagnostic
	opened    map[string]bool
}

func (c *fakeConn) HasCapability(string) bool { return true }

func (c *fakeConn) Request(_ context.Context, method string, _ interface{}) (interface{}, error) {
	return c.responses[method], nil
}

func (c *fakeConn) OpenDocument(uri, _ string) (bool, error) {
	if c.opened == nil {
		c.opened = make(map[string]bool)
	}
	if c.opened[uri] {
		return false, nil
	}
	c.opened[uri] = true
	return true, nil
}

func (c *fakeConn) Diagnostics(string) []lsp.Diagnostic { return c.diags }

type fakeAcquirer struct {
	conn dispatch.Conn
}

func (a *fakeAcquirer) Acquire(context.Context, config.BackendConfig, string) (dispatch.Conn, error) {
	return a.conn, nil
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
}

// newTestServer wires an MCP server over a dispatcher backed by the
// given fake connection.
func newTestServer(t *testing.T, conn dispatch.Conn) *Server {
	t.Helper()

	cfg := &config.Config{
		Backends: []config.BackendConfig{
			{Name: "fake-ls", Extensions: []string{"go"}, Command: []string{"fake-ls"}},
		},
	}
	logger := testLogger()
	dispatcher := dispatch.New(cfg, &fakeAcquirer{conn: conn}, logger)
	supervisor := lsp.NewSupervisor(cfg, logger)

	return NewServer(version.Version, dispatcher, supervisor, logger)
}

// sendRequest runs one request through the handler
func sendRequest(t *testing.T, server *Server, method string, id int, params interface{}) *MCPMessage {
	t.Helper()

	request := MCPMessage{Jsonrpc: "2.0", Id: id, Method: method, Params: params}
	requestBytes, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	requestBytes = append(requestBytes, '\n')

	server.SetStdin(bytes.NewReader(requestBytes))
	server.SetStdout(&bytes.Buffer{})

	msg, err := server.readMessage()
	if err != nil && err != io.EOF {
		t.Fatalf("Failed to read message: %v", err)
	}
	return server.handleMessage(msg)
}

// toolResultText extracts and decodes the text content of a tool result
func toolResultText(t *testing.T, response *MCPMessage) map[string]interface{} {
	t.Helper()

	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T, want object", response.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok {
		t.Fatalf("content is %T", result["content"])
	}
	if len(content) == 0 {
		t.Fatal("empty content")
	}
	text, _ := content[0]["text"].(string)

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("content text is not JSON: %v", err)
	}
	return decoded
}

// TestInitialize verifies the handshake response
func TestInitialize(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "initialize", 1, map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]interface{}{"name": "test-client"},
	})
	if response == nil {
		t.Fatal("expected a response")
	}
	if response.Error != nil {
		t.Fatalf("unexpected error: %v", response.Error.Message)
	}

	result, ok := response.Result.(*InitializeResult)
	if !ok {
		t.Fatalf("result is %T", response.Result)
	}
	if result.ServerInfo.Name != "lspmux" {
		t.Errorf("server name %q", result.ServerInfo.Name)
	}
}

// TestToolsList verifies every bridge operation has a tool
func TestToolsList(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "tools/list", 2, nil)
	if response.Error != nil {
		t.Fatalf("unexpected error: %v", response.Error.Message)
	}

	result := response.Result.(map[string]interface{})
	tools := result["tools"].([]Tool)

	want := []string{
		"find_definition", "find_references", "rename_symbol",
		"document_symbols", "get_diagnostics", "server_status",
		"restart_servers",
	}
	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing tool %s", name)
		}
	}
}

// TestUnknownMethod verifies unrecognized methods fail with the
// standard code.
func TestUnknownMethod(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "bogus/method", 3, nil)
	if response.Error == nil || response.Error.Code != MethodNotFound {
		t.Errorf("expected MethodNotFound, got %+v", response.Error)
	}
}

// TestUnknownTool verifies calling an unregistered tool fails cleanly
func TestUnknownTool(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "tools/call", 4, map[string]interface{}{
		"name":      "no_such_tool",
		"arguments": map[string]interface{}{},
	})
	if response.Error == nil || response.Error.Code != MethodNotFound {
		t.Errorf("expected MethodNotFound, got %+v", response.Error)
	}
}

// TestCallDocumentSymbols verifies a tool call flows through the
// dispatcher and back as text content.
func TestCallDocumentSymbols(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "main.go")
	if err := os.WriteFile(target, []byte("package main\nfunc Foo() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn := &fakeConn{
		responses: map[string]interface{}{
			"textDocument/documentSymbol": []interface{}{
				map[string]interface{}{
					"name": "Foo", "kind": float64(12),
					"range": map[string]interface{}{
						"start": map[string]interface{}{"line": float64(1), "character": float64(0)},
						"end":   map[string]interface{}{"line": float64(1), "character": float64(12)},
					},
					"selectionRange": map[string]interface{}{
						"start": map[string]interface{}{"line": float64(1), "character": float64(5)},
						"end":   map[string]interface{}{"line": float64(1), "character": float64(8)},
					},
				},
			},
		},
	}
	server := newTestServer(t, conn)

	response := sendRequest(t, server, "tools/call", 5, map[string]interface{}{
		"name":      "document_symbols",
		"arguments": map[string]interface{}{"file_path": target},
	})
	if response.Error != nil {
		t.Fatalf("unexpected error: %v", response.Error.Message)
	}

	decoded := toolResultText(t, response)
	if decoded["count"] != float64(1) {
		t.Errorf("count = %v, want 1", decoded["count"])
	}
}

// TestCallMissingParameter verifies a tool call without its required
// parameter returns an error payload, not a protocol error.
func TestCallMissingParameter(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "tools/call", 6, map[string]interface{}{
		"name":      "find_definition",
		"arguments": map[string]interface{}{"symbol_name": "Foo"},
	})
	if response.Error != nil {
		t.Fatalf("expected tool-level error, got protocol error: %v", response.Error.Message)
	}

	decoded := toolResultText(t, response)
	errPayload, ok := decoded["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error payload, got %v", decoded)
	}
	if !strings.Contains(errPayload["message"].(string), "file_path") {
		t.Errorf("error message %q does not name the parameter", errPayload["message"])
	}
}

// TestCallRestartServers verifies the restart tool reports counts
func TestCallRestartServers(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "tools/call", 7, map[string]interface{}{
		"name":      "restart_servers",
		"arguments": map[string]interface{}{},
	})
	if response.Error != nil {
		t.Fatalf("unexpected error: %v", response.Error.Message)
	}

	decoded := toolResultText(t, response)
	if decoded["killed"] != float64(0) || decoded["failed"] != float64(0) {
		t.Errorf("unexpected counts %v", decoded)
	}
}

// TestCallServerStatus verifies the status tool reports running instances
func TestCallServerStatus(t *testing.T) {
	server := newTestServer(t, &fakeConn{})

	response := sendRequest(t, server, "tools/call", 8, map[string]interface{}{
		"name":      "server_status",
		"arguments": map[string]interface{}{},
	})
	if response.Error != nil {
		t.Fatalf("unexpected error: %v", response.Error.Message)
	}

	decoded := toolResultText(t, response)
	if decoded["count"] != float64(0) {
		t.Errorf("expected no running instances, got %v", decoded)
	}
}
