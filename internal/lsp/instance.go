package lsp

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"lspmux/internal/config"
	"lspmux/internal/errors"
	"lspmux/internal/logging"
)

// InstanceState represents the lifecycle state of a backend process
type InstanceState string

const (
	// StateStarting indicates the process is being spawned
	StateStarting InstanceState = "starting"
	// StateInitializing indicates the initialize exchange is in flight
	StateInitializing InstanceState = "initializing"
	// StateReady indicates the backend accepts requests
	StateReady InstanceState = "ready"
	// StateDead indicates the process has terminated
	StateDead InstanceState = "dead"
)

// Instance is one running backend process bound to one resolved
// workspace root. Request ids and the pending-request map belong
// exclusively to this instance — there is no cross-instance correlation.
type Instance struct {
	// Config is the backend configuration this process was spawned from
	Config config.BackendConfig

	// Root is the resolved workspace root (normalized absolute path)
	Root string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// errOut receives the backend's stderr verbatim. Defaults to the
	// host's stderr; never parsed as protocol data.
	errOut io.Writer

	// mu protects state, caps, docs, diags, pending and nextID
	mu      sync.Mutex
	state   InstanceState
	caps    map[string]interface{}
	docs    map[string]int // open document URI -> version
	diags   map[string][]Diagnostic
	pending map[int]chan *Message
	nextID  int

	// writeMu serializes frame writes so didOpen/didChange stay ordered
	writeMu sync.Mutex

	// ready is closed exactly once when the handshake (plus any settle
	// delay) completes. Await it before issuing requests.
	ready     chan struct{}
	readyOnce sync.Once

	// done is closed when the process dies or shuts down
	done     chan struct{}
	doneOnce sync.Once

	requestTimeout time.Duration
	logger         *logging.Logger
}

// newInstance creates an instance wrapper; the caller wires streams and
// starts the drain loops.
func newInstance(cfg config.BackendConfig, root string, requestTimeout time.Duration, logger *logging.Logger) *Instance {
	return &Instance{
		Config: cfg,
		Root:   root,
		errOut: os.Stderr,
		state:  StateStarting,
		caps:   make(map[string]interface{}),
		docs:   make(map[string]int),
		diags:  make(map[string][]Diagnostic),
		pending: make(map[int]chan *Message),
		nextID:  1,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		requestTimeout: requestTimeout,
		logger: logger.WithFields(map[string]interface{}{
			"backend": cfg.Name,
			"root":    root,
		}),
	}
}

// State returns the current lifecycle state
func (p *Instance) State() InstanceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Instance) setState(state InstanceState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// Dead reports whether the process has terminated
func (p *Instance) Dead() bool {
	return p.State() == StateDead
}

// Ready returns a channel closed once the instance becomes ready
func (p *Instance) Ready() <-chan struct{} {
	return p.ready
}

// AwaitReady blocks until the instance is ready, the instance dies, or
// the context expires.
func (p *Instance) AwaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-p.done:
		return errors.Newf(errors.BackendUnavailable, "backend %s exited before becoming ready", p.Config.Name)
	case <-ctx.Done():
		return errors.New(errors.Timeout, "timed out waiting for backend readiness", ctx.Err())
	}
}

func (p *Instance) markReady() {
	p.setState(StateReady)
	p.readyOnce.Do(func() { close(p.ready) })
}

// markDead transitions to dead, wakes every waiter and fails all pending
// requests. Safe to call more than once.
func (p *Instance) markDead() {
	p.mu.Lock()
	p.state = StateDead
	pending := p.pending
	p.pending = make(map[int]chan *Message)
	p.mu.Unlock()

	p.doneOnce.Do(func() { close(p.done) })

	for _, ch := range pending {
		close(ch)
	}
}

// Capabilities returns the negotiated capability set
func (p *Instance) Capabilities() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

func (p *Instance) setCapabilities(caps map[string]interface{}) {
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

// HasCapability reports whether the backend supports the given
// capability key. Absence of information is treated optimistically: only
// an explicit denial (false or null in a populated capability set)
// filters a backend out.
func (p *Instance) HasCapability(key string) bool {
	p.mu.Lock()
	caps := p.caps
	p.mu.Unlock()

	if len(caps) == 0 {
		return true
	}

	val, present := caps[key]
	if !present {
		return true
	}

	switch v := val.(type) {
	case bool:
		return v
	case nil:
		return false
	default:
		// An options object means the capability is supported
		return true
	}
}

// Request sends a JSON-RPC request and waits for the correlated response
// using the instance's default timeout.
func (p *Instance) Request(ctx context.Context, method string, params interface{}) (interface{}, error) {
	return p.RequestTimeout(ctx, method, params, p.requestTimeout)
}

// RequestTimeout sends a JSON-RPC request with an explicit timeout.
// Exactly one of three outcomes fires: the matching response resolves
// it, an error payload rejects it, or the timeout removes the pending
// entry and rejects it. Timing out does not cancel backend-side work.
func (p *Instance) RequestTimeout(ctx context.Context, method string, params interface{}, timeout time.Duration) (interface{}, error) {
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return nil, errors.Newf(errors.BackendUnavailable, "backend %s is not running", p.Config.Name)
	}
	id := p.nextID
	p.nextID++
	respChan := make(chan *Message, 1)
	p.pending[id] = respChan
	p.mu.Unlock()

	msg := &Message{
		Jsonrpc: "2.0",
		Id:      id,
		Method:  method,
		Params:  params,
	}

	if err := p.writeMessage(msg); err != nil {
		p.removePending(id)
		return nil, errors.New(errors.BackendUnavailable, "failed to send request", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, errors.Newf(errors.BackendUnavailable, "backend %s exited mid-request", p.Config.Name)
		}
		if resp.Error != nil {
			return nil, errors.Newf(errors.RequestFailed, "%s failed: [%d] %s", method, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		p.removePending(id)
		return nil, errors.Newf(errors.Timeout, "%s timed out after %s", method, timeout)
	case <-ctx.Done():
		p.removePending(id)
		return nil, errors.New(errors.Timeout, method+" cancelled", ctx.Err())
	case <-p.done:
		return nil, errors.Newf(errors.BackendUnavailable, "backend %s exited mid-request", p.Config.Name)
	}
}

// Notify sends a JSON-RPC notification. Fire-and-forget: no pending
// entry is registered and no response will ever arrive.
func (p *Instance) Notify(method string, params interface{}) error {
	return p.writeMessage(&Message{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
	})
}

func (p *Instance) removePending(id int) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// writeMessage encodes and writes one frame to the process stdin
func (p *Instance) writeMessage(msg *Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.stdin == nil {
		return errors.Newf(errors.BackendUnavailable, "stdin not available")
	}

	frame, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	_, err = p.stdin.Write(frame)
	return err
}

// drainLoop reads the process stdout, reassembling frames across
// arbitrary read boundaries, and dispatches each decoded message.
func (p *Instance) drainLoop() {
	defer p.markDead()

	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, err := p.stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var msgs []*Message
			buf, msgs = decodeFrames(buf, p.logger)
			for _, msg := range msgs {
				p.handleMessage(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

// handleMessage routes one decoded message: responses resolve pending
// requests (unknown ids are dropped silently), everything else goes to
// the server-message handler.
func (p *Instance) handleMessage(msg *Message) {
	if msg.isResponse() {
		id, ok := idAsInt(msg.Id)
		if !ok {
			return
		}
		p.mu.Lock()
		respChan, found := p.pending[id]
		if found {
			delete(p.pending, id)
		}
		p.mu.Unlock()

		if found {
			respChan <- msg
		}
		return
	}

	if msg.Method != "" {
		p.handleServerMessage(msg)
	}
}

// handleServerMessage handles backend-initiated notifications and
// requests. Requests receive a best-effort null response so strict
// backends do not treat the missing reply as fatal.
func (p *Instance) handleServerMessage(msg *Message) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		if uri, diags, ok := parseDiagnostics(msg.Params); ok {
			p.storeDiagnostics(uri, diags)
		}
	case "window/logMessage", "window/showMessage", "$/progress", "telemetry/event":
		// Informational traffic; nothing to do
	default:
		p.logger.Debug("Ignoring server message", map[string]interface{}{
			"method": msg.Method,
		})
	}

	if msg.Id != nil {
		_ = p.writeMessage(&Message{
			Jsonrpc: "2.0",
			Id:      msg.Id,
			Result:  nullResult,
		})
	}
}

// stderrLoop passes the backend's stderr through to the host's
// diagnostic stream verbatim.
func (p *Instance) stderrLoop() {
	if p.stderr == nil {
		return
	}
	_, _ = io.Copy(p.errOut, p.stderr)
}

// OpenDocument notifies the backend of a document, reading content from
// text. Re-opening an already open document is a no-op; the returned
// flag reports whether this call performed the first open.
func (p *Instance) OpenDocument(uri, text string) (bool, error) {
	p.mu.Lock()
	if _, open := p.docs[uri]; open {
		p.mu.Unlock()
		return false, nil
	}
	p.docs[uri] = 1
	p.mu.Unlock()

	err := p.Notify("textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        uri,
			"languageId": p.Config.EffectiveLanguageID(),
			"version":    1,
			"text":       text,
		},
	})
	if err != nil {
		p.mu.Lock()
		delete(p.docs, uri)
		p.mu.Unlock()
		return false, err
	}
	return true, nil
}

// UpdateDocument sends a full-content didChange, strictly incrementing
// the document version.
func (p *Instance) UpdateDocument(uri, text string) error {
	p.mu.Lock()
	version, open := p.docs[uri]
	if !open {
		p.mu.Unlock()
		return errors.Newf(errors.InternalError, "document not open: %s", uri)
	}
	version++
	p.docs[uri] = version
	p.mu.Unlock()

	return p.Notify("textDocument/didChange", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":     uri,
			"version": version,
		},
		"contentChanges": []interface{}{
			map[string]interface{}{"text": text},
		},
	})
}

// DocumentOpen reports whether the URI is currently open
func (p *Instance) DocumentOpen(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, open := p.docs[uri]
	return open
}

// OpenDocuments returns the open URIs with their current versions
func (p *Instance) OpenDocuments() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.docs))
	for uri, v := range p.docs {
		out[uri] = v
	}
	return out
}

// storeDiagnostics replaces the diagnostic list for a URI wholesale.
// Publishes are snapshots, never incremental.
func (p *Instance) storeDiagnostics(uri string, diags []Diagnostic) {
	p.mu.Lock()
	p.diags[uri] = diags
	p.mu.Unlock()
}

// Diagnostics returns the most recently published diagnostics for a URI
func (p *Instance) Diagnostics(uri string) []Diagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Diagnostic, len(p.diags[uri]))
	copy(out, p.diags[uri])
	return out
}

// Kill terminates the process. The exit watcher performs registry
// eviction; callers only need this for restart and shutdown paths.
func (p *Instance) Kill() error {
	p.doneOnce.Do(func() { close(p.done) })

	if p.stdin != nil {
		_ = p.stdin.Close()
	}

	var err error
	if p.cmd != nil && p.cmd.Process != nil {
		err = p.cmd.Process.Kill()
	}

	p.setState(StateDead)
	return err
}

// Shutdown asks the backend to exit cleanly, then kills it
func (p *Instance) Shutdown() error {
	if p.stdin != nil {
		// Best effort; the server may already be gone
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _ = p.RequestTimeout(ctx, "shutdown", nil, 2*time.Second)
		cancel()
		_ = p.Notify("exit", nil)
	}
	return p.Kill()
}
