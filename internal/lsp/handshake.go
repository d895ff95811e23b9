package lsp

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"lspmux/internal/errors"
)

// initialize drives the capability-negotiation exchange for a freshly
// spawned backend: spawned -> initializing -> ready. The handshake
// budget is materially longer than steady-state requests because a cold
// server may index the project before answering.
func (s *Supervisor) initialize(ctx context.Context, inst *Instance) error {
	inst.setState(StateInitializing)

	handshakeTimeout := time.Duration(s.cfg.Supervisor.HandshakeTimeoutMs) * time.Millisecond
	rootURI := PathToURI(inst.Root)

	params := map[string]interface{}{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"rootPath":  inst.Root,
		"workspaceFolders": []interface{}{
			map[string]interface{}{
				"uri":  rootURI,
				"name": filepath.Base(inst.Root),
			},
		},
		"capabilities": clientCapabilities(),
	}

	if opts := s.initOptions(inst); len(opts) > 0 {
		params["initializationOptions"] = opts
	}

	result, err := inst.RequestTimeout(ctx, "initialize", params, handshakeTimeout)
	if err != nil {
		return errors.New(errors.BackendUnavailable, "initialize handshake failed", err)
	}

	if resultMap, ok := asMap(result); ok {
		if caps, ok := asMap(resultMap["capabilities"]); ok {
			inst.setCapabilities(caps)
		}
	}

	if err := inst.Notify("initialized", map[string]interface{}{}); err != nil {
		return errors.New(errors.BackendUnavailable, "initialized notification failed", err)
	}

	// Hold readiness until the configured settle delay elapses so
	// servers that ingest asynchronously are not queried too early.
	if inst.Config.SettleMs > 0 {
		select {
		case <-time.After(time.Duration(inst.Config.SettleMs) * time.Millisecond):
		case <-inst.done:
			return errors.Newf(errors.BackendUnavailable, "backend %s exited during settle delay", inst.Config.Name)
		case <-ctx.Done():
			return errors.New(errors.Timeout, "cancelled during settle delay", ctx.Err())
		}
	}

	inst.markReady()

	s.logger.Info("Backend ready", map[string]interface{}{
		"backend": inst.Config.Name,
		"root":    inst.Root,
	})

	return nil
}

// initOptions merges the configured init payload with toolchain
// augmentation: Python-family backends get the resolved interpreter for
// their root injected unless the config already pins one.
func (s *Supervisor) initOptions(inst *Instance) map[string]interface{} {
	opts := make(map[string]interface{}, len(inst.Config.InitOptions)+1)
	for k, v := range inst.Config.InitOptions {
		opts[k] = v
	}

	if needsPythonToolchain(inst.Config) {
		if _, pinned := opts["python"]; !pinned {
			if python := s.toolchains.Python(inst.Root); python != "" {
				opts["python"] = map[string]interface{}{
					"pythonPath": python,
				}
			}
		}
	}

	return opts
}

// clientCapabilities declares what this client understands. The set
// matches the operations the dispatcher issues.
func clientCapabilities() map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{
			"definition": map[string]interface{}{
				"linkSupport": true,
			},
			"references": map[string]interface{}{},
			"documentSymbol": map[string]interface{}{
				"hierarchicalDocumentSymbolSupport": true,
			},
			"rename": map[string]interface{}{},
			"publishDiagnostics": map[string]interface{}{
				"relatedInformation": false,
			},
			"synchronization": map[string]interface{}{
				"didSave": false,
			},
		},
		"workspace": map[string]interface{}{
			"workspaceFolders": true,
			"workspaceEdit": map[string]interface{}{
				"documentChanges": true,
			},
		},
	}
}
