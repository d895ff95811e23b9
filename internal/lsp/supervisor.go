package lsp

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"sync"

	"lspmux/internal/config"
	"lspmux/internal/errors"
	"lspmux/internal/logging"
)

// Supervisor owns the lifecycle of backend processes. One instance runs
// per (command argv, normalized root, extension set); concurrent
// acquires for the same key share one start.
type Supervisor struct {
	cfg    *config.Config
	logger *logging.Logger

	// mu protects instances and starting. Mutation happens synchronously
	// at decision points, never across an await, so a second start
	// cannot race past a first one.
	mu        sync.Mutex
	instances map[string]*Instance
	starting  map[string]*startFuture

	toolchains *ToolchainCache

	// startFn performs spawn + handshake. Overridable in tests so start
	// deduplication and eviction can be exercised without real servers.
	startFn func(ctx context.Context, backend config.BackendConfig, root string) (*Instance, error)
}

// startFuture is a start in flight. Awaiters block on done; exactly one
// of inst or err is set before done closes.
type startFuture struct {
	done chan struct{}
	inst *Instance
	err  error
}

// NewSupervisor creates a supervisor for the configured backends
func NewSupervisor(cfg *config.Config, logger *logging.Logger) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		logger:     logger,
		instances:  make(map[string]*Instance),
		starting:   make(map[string]*startFuture),
		toolchains: NewToolchainCache(),
	}
	s.startFn = s.startInstance
	return s
}

// instanceKey builds the registry uniqueness key for a (config, root)
// pair: command argv + normalized root + extension set.
func instanceKey(backend config.BackendConfig, root string) string {
	parts := make([]string, 0, len(backend.Command)+1+len(backend.Extensions))
	parts = append(parts, backend.Command...)
	parts = append(parts, root)
	parts = append(parts, backend.Extensions...)
	return strings.Join(parts, "\x00")
}

// Acquire returns the ready instance for (backend, root), starting one
// if needed. A second acquire arriving while the first is still starting
// awaits the same in-flight start rather than spawning a duplicate.
// Start failures propagate to every awaiter and clear the in-flight
// marker so a later acquire retries from scratch.
func (s *Supervisor) Acquire(ctx context.Context, backend config.BackendConfig, root string) (*Instance, error) {
	key := instanceKey(backend, root)

	s.mu.Lock()
	if inst, ok := s.instances[key]; ok && !inst.Dead() {
		s.mu.Unlock()
		if err := inst.AwaitReady(ctx); err != nil {
			return nil, err
		}
		return inst, nil
	}
	if fut, ok := s.starting[key]; ok {
		s.mu.Unlock()
		select {
		case <-fut.done:
			return fut.inst, fut.err
		case <-ctx.Done():
			return nil, errors.New(errors.Timeout, "timed out awaiting in-flight start", ctx.Err())
		}
	}
	fut := &startFuture{done: make(chan struct{})}
	s.starting[key] = fut
	s.mu.Unlock()

	inst, err := s.startFn(ctx, backend, root)

	s.mu.Lock()
	delete(s.starting, key)
	if err == nil {
		s.instances[key] = inst
	}
	s.mu.Unlock()

	fut.inst, fut.err = inst, err
	close(fut.done)

	return inst, err
}

// startInstance spawns the backend process, wires its streams, runs the
// handshake, and returns the ready instance. On handshake failure the
// process is force-killed so a stuck backend is not left running
// unregistered.
func (s *Supervisor) startInstance(ctx context.Context, backend config.BackendConfig, root string) (*Instance, error) {
	requestTimeout := time.Duration(s.cfg.Supervisor.RequestTimeoutMs) * time.Millisecond
	inst := newInstance(backend, root, requestTimeout, s.logger)

	cmd := exec.Command(backend.Command[0], backend.Command[1:]...)
	cmd.Dir = root

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.New(errors.SpawnFailed, "failed to create stdin pipe", err)
	}
	inst.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New(errors.SpawnFailed, "failed to create stdout pipe", err)
	}
	inst.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.New(errors.SpawnFailed, "failed to create stderr pipe", err)
	}
	inst.stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Newf(errors.SpawnFailed, "failed to start %s: %v", backend.Command[0], err)
	}
	inst.cmd = cmd

	go inst.drainLoop()
	go inst.stderrLoop()
	go s.watchExit(instanceKey(backend, root), inst)

	s.logger.Info("Started backend", map[string]interface{}{
		"backend": backend.Name,
		"root":    root,
		"command": strings.Join(backend.Command, " "),
	})

	if err := s.initialize(ctx, inst); err != nil {
		_ = inst.Kill()
		return nil, err
	}

	return inst, nil
}

// watchExit evicts the instance from the registry the moment its process
// exits, for any reason and any exit code, so the next acquire spawns
// fresh rather than reusing stale state.
func (s *Supervisor) watchExit(key string, inst *Instance) {
	err := inst.cmd.Wait()

	s.mu.Lock()
	if s.instances[key] == inst {
		delete(s.instances, key)
	}
	s.mu.Unlock()

	inst.markDead()

	fields := map[string]interface{}{
		"backend": inst.Config.Name,
		"root":    inst.Root,
	}
	if err != nil {
		fields["exit"] = err.Error()
	}
	s.logger.Info("Backend exited", fields)
}

// Lookup returns the live instance for (backend, root), or nil
func (s *Supervisor) Lookup(backend config.BackendConfig, root string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.instances[instanceKey(backend, root)]
	if inst == nil || inst.Dead() {
		return nil
	}
	return inst
}

// InstanceCount returns the number of live registry entries
func (s *Supervisor) InstanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// Restart kills every instance whose backend claims any of the given
// routing tokens; with no tokens, every instance. Killing triggers the
// normal exit-cleanup path; subsequent requests spawn fresh.
func (s *Supervisor) Restart(tokens []string) (killed, failed int) {
	s.mu.Lock()
	targets := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if inst.Dead() {
			continue
		}
		if len(tokens) == 0 || claimsAny(inst.Config, tokens) {
			targets = append(targets, inst)
		}
	}
	s.mu.Unlock()

	for _, inst := range targets {
		s.logger.Info("Restarting backend", map[string]interface{}{
			"backend": inst.Config.Name,
			"root":    inst.Root,
		})
		if err := inst.Kill(); err != nil {
			failed++
		} else {
			killed++
		}
	}
	return killed, failed
}

func claimsAny(backend config.BackendConfig, tokens []string) bool {
	for _, ext := range backend.Extensions {
		for _, tok := range tokens {
			if ext == tok {
				return true
			}
		}
	}
	return false
}

// InstanceStatus is a point-in-time snapshot of one registry entry
type InstanceStatus struct {
	Backend  string         `json:"backend"`
	Root     string         `json:"root"`
	State    InstanceState  `json:"state"`
	OpenDocs map[string]int `json:"openDocs,omitempty"`
}

// Status snapshots all live instances
func (s *Supervisor) Status() []InstanceStatus {
	s.mu.Lock()
	instances := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.Unlock()

	out := make([]InstanceStatus, 0, len(instances))
	for _, inst := range instances {
		out = append(out, InstanceStatus{
			Backend:  inst.Config.Name,
			Root:     inst.Root,
			State:    inst.State(),
			OpenDocs: inst.OpenDocuments(),
		})
	}
	return out
}

// Shutdown stops every backend
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	instances := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.instances = make(map[string]*Instance)
	s.mu.Unlock()

	for _, inst := range instances {
		_ = inst.Shutdown()
	}
}
