package lsp

import (
	"context"
	"io"
	"testing"
	"time"

	"lspmux/internal/config"
	"lspmux/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
}

func testBackend() config.BackendConfig {
	return config.BackendConfig{
		Name:       "fake-ls",
		Extensions: []string{"fake"},
		Command:    []string{"fake-ls", "--stdio"},
		LanguageID: "fake",
	}
}

// fakeServer wires an Instance to an in-memory peer that answers
// requests via the handler. It exercises the real drain loop and codec.
// Every message the instance sends is also delivered on fromClient.
type fakeServer struct {
	inst       *Instance
	reply      io.WriteCloser // server -> client bytes
	fromClient chan *Message  // everything the instance wrote
}

func newFakeServer(t *testing.T, handler func(msg *Message) *Message) *fakeServer {
	t.Helper()

	clientOut, serverIn := io.Pipe() // instance stdin -> server
	serverOut, clientIn := io.Pipe() // server -> instance stdout

	inst := newInstance(testBackend(), "/tmp/fake", 200*time.Millisecond, testLogger())
	inst.stdin = serverIn
	inst.stdout = serverOut
	go inst.drainLoop()

	fs := &fakeServer{inst: inst, reply: clientIn, fromClient: make(chan *Message, 64)}

	go func() {
		var buf []byte
		chunk := make([]byte, 512)
		for {
			n, err := clientOut.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				var msgs []*Message
				buf, msgs = decodeFrames(buf, nil)
				for _, msg := range msgs {
					select {
					case fs.fromClient <- msg:
					default:
					}
					if handler == nil {
						continue
					}
					if resp := handler(msg); resp != nil {
						frame, _ := encodeMessage(resp)
						if _, err := clientIn.Write(frame); err != nil {
							return
						}
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() {
		_ = serverIn.Close()
		_ = clientIn.Close()
	})

	return fs
}

// echoHandler responds to every request with its params as the result
func echoHandler(msg *Message) *Message {
	if msg.Id == nil {
		return nil
	}
	return &Message{Jsonrpc: "2.0", Id: msg.Id, Result: msg.Params}
}

// TestRequestResponse verifies the happy-path request correlation
func TestRequestResponse(t *testing.T) {
	fs := newFakeServer(t, echoHandler)

	result, err := fs.inst.Request(context.Background(), "test/echo", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok || m["k"] != "v" {
		t.Errorf("Expected echoed params, got %v", result)
	}
}

// TestRequestIDsIncrease verifies ids are allocated in strictly increasing call order
func TestRequestIDsIncrease(t *testing.T) {
	var seen []int
	fs := newFakeServer(t, func(msg *Message) *Message {
		if id, ok := idAsInt(msg.Id); ok {
			seen = append(seen, id)
		}
		return echoHandler(msg)
	})

	for i := 0; i < 3; i++ {
		if _, err := fs.inst.Request(context.Background(), "test/echo", nil); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}

	if len(seen) != 3 {
		t.Fatalf("Expected 3 requests, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("Expected strictly increasing ids, got %v", seen)
		}
	}
}

// TestRequestTimeout verifies an unanswered request fails with TIMEOUT
// and its pending entry is removed.
func TestRequestTimeout(t *testing.T) {
	fs := newFakeServer(t, nil) // never responds

	start := time.Now()
	_, err := fs.inst.RequestTimeout(context.Background(), "test/hang", nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}

	fs.inst.mu.Lock()
	pending := len(fs.inst.pending)
	fs.inst.mu.Unlock()
	if pending != 0 {
		t.Errorf("Expected pending entry removed after timeout, got %d", pending)
	}
}

// TestRequestErrorPayload verifies an error response fails the request immediately
func TestRequestErrorPayload(t *testing.T) {
	fs := newFakeServer(t, func(msg *Message) *Message {
		return &Message{
			Jsonrpc: "2.0",
			Id:      msg.Id,
			Error:   &RpcError{Code: MethodNotFound, Message: "unknown method"},
		}
	})

	_, err := fs.inst.Request(context.Background(), "test/bad", nil)
	if err == nil {
		t.Fatal("Expected error from error payload")
	}
}

// TestUnknownIDDropped verifies responses for ids never sent are ignored
func TestUnknownIDDropped(t *testing.T) {
	fs := newFakeServer(t, nil)

	// Inject a response nobody is waiting for
	frame, _ := encodeMessage(&Message{Jsonrpc: "2.0", Id: 999, Result: "stray"})
	if _, err := fs.reply.Write(frame); err != nil {
		t.Fatal(err)
	}

	// The instance should still function: a later request times out
	// normally rather than resolving against the stray response.
	_, err := fs.inst.RequestTimeout(context.Background(), "test/after", nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("Expected timeout, not resolution from a stray response")
	}
}

// TestServerRequestGetsBestEffortResponse verifies server-initiated
// requests receive a null-result reply.
func TestServerRequestGetsBestEffortResponse(t *testing.T) {
	fs := newFakeServer(t, nil)

	// Server asks the client to create a progress token
	frame, _ := encodeMessage(&Message{
		Jsonrpc: "2.0",
		Id:      41,
		Method:  "window/workDoneProgress/create",
		Params:  map[string]interface{}{"token": "t-1"},
	})
	if _, err := fs.reply.Write(frame); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case resp := <-fs.fromClient:
			if !resp.isResponse() {
				continue
			}
			id, ok := idAsInt(resp.Id)
			if !ok || id != 41 {
				t.Errorf("Expected response echoing id 41, got %v", resp.Id)
			}
			if resp.Error != nil {
				t.Errorf("Expected success response, got error %v", resp.Error)
			}
			return
		case <-deadline:
			t.Fatal("Timed out waiting for best-effort response")
		}
	}
}

// TestPublishDiagnosticsStored verifies diagnostics replace wholesale
func TestPublishDiagnosticsStored(t *testing.T) {
	fs := newFakeServer(t, nil)
	uri := "file:///tmp/fake/a.fake"

	publish := func(messages ...string) {
		diags := make([]interface{}, 0, len(messages))
		for _, m := range messages {
			diags = append(diags, map[string]interface{}{
				"range": map[string]interface{}{
					"start": map[string]interface{}{"line": float64(0), "character": float64(0)},
					"end":   map[string]interface{}{"line": float64(0), "character": float64(1)},
				},
				"message":  m,
				"severity": float64(1),
			})
		}
		frame, _ := encodeMessage(&Message{
			Jsonrpc: "2.0",
			Method:  "textDocument/publishDiagnostics",
			Params:  map[string]interface{}{"uri": uri, "diagnostics": diags},
		})
		if _, err := fs.reply.Write(frame); err != nil {
			t.Fatal(err)
		}
	}

	publish("first", "second")
	waitFor(t, func() bool { return len(fs.inst.Diagnostics(uri)) == 2 })

	// A new publish replaces the previous list, never merges
	publish("only")
	waitFor(t, func() bool {
		d := fs.inst.Diagnostics(uri)
		return len(d) == 1 && d[0].Message == "only"
	})
}

// TestMarkDeadFailsPending verifies in-flight requests fail when the process dies
func TestMarkDeadFailsPending(t *testing.T) {
	fs := newFakeServer(t, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := fs.inst.RequestTimeout(context.Background(), "test/hang", nil, 5*time.Second)
		errCh <- err
	}()

	// Let the request register, then kill the stream
	time.Sleep(20 * time.Millisecond)
	fs.inst.markDead()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Expected error after instance death")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not fail after instance death")
	}
}

// TestOpenDocumentIdempotent verifies re-opening is a no-op and versions increase
func TestOpenDocumentIdempotent(t *testing.T) {
	fs := newFakeServer(t, nil)
	uri := "file:///tmp/fake/a.fake"

	first, err := fs.inst.OpenDocument(uri, "content")
	if err != nil {
		t.Fatalf("OpenDocument failed: %v", err)
	}
	if !first {
		t.Error("Expected first open to report true")
	}

	again, err := fs.inst.OpenDocument(uri, "content")
	if err != nil {
		t.Fatalf("Second OpenDocument failed: %v", err)
	}
	if again {
		t.Error("Expected re-open to be a no-op")
	}

	if err := fs.inst.UpdateDocument(uri, "changed"); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}
	if err := fs.inst.UpdateDocument(uri, "changed again"); err != nil {
		t.Fatalf("Second UpdateDocument failed: %v", err)
	}

	if v := fs.inst.OpenDocuments()[uri]; v != 3 {
		t.Errorf("Expected version 3 after two changes, got %d", v)
	}
}

// TestUpdateUnopenedDocument verifies didChange requires a prior didOpen
func TestUpdateUnopenedDocument(t *testing.T) {
	fs := newFakeServer(t, nil)
	if err := fs.inst.UpdateDocument("file:///never/opened", "x"); err == nil {
		t.Error("Expected error updating an unopened document")
	}
}

// TestHasCapability verifies permissive capability interpretation
func TestHasCapability(t *testing.T) {
	inst := newInstance(testBackend(), "/tmp/fake", time.Second, testLogger())

	// Empty capability set: optimistic
	if !inst.HasCapability("renameProvider") {
		t.Error("Expected empty capability set to be permissive")
	}

	inst.setCapabilities(map[string]interface{}{
		"definitionProvider": true,
		"renameProvider":     false,
		"referencesProvider": map[string]interface{}{"workDoneProgress": true},
		"hoverProvider":      nil,
	})

	cases := []struct {
		key  string
		want bool
	}{
		{"definitionProvider", true},
		{"renameProvider", false},
		{"referencesProvider", true},
		{"hoverProvider", false},
		{"documentSymbolProvider", true}, // absent: optimistic
	}

	for _, tc := range cases {
		if got := inst.HasCapability(tc.key); got != tc.want {
			t.Errorf("HasCapability(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not reached in time")
}
