// Package orchestrator supervises match-server processes: it spawns them
// onto pooled ports, replaces crashed ones, reaps heartbeat-dead ones, and
// keeps a minimum pool of warm instances.
package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/config"
	"github.com/deadhold/backend/internal/errs"
	"github.com/deadhold/backend/internal/metrics"
	"github.com/deadhold/backend/internal/registry"
)

const terminateGrace = 5 * time.Second

type Orchestrator struct {
	cfg         config.OrchestratorConfig
	backendHost string
	backendPort int

	sessions *registry.Registry
	ports    *registry.PortPool
	launch   LaunchFunc
	met      *metrics.Set
	log      *zap.Logger

	mu    sync.Mutex
	procs map[string]Process // server id → tracked child

	// Ready-wait polling; overridable in tests.
	waitAttempts int
	waitInterval time.Duration

	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func New(cfg config.OrchestratorConfig, backendHost string, backendPort int, sessions *registry.Registry, ports *registry.PortPool, met *metrics.Set, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		backendHost:  backendHost,
		backendPort:  backendPort,
		sessions:     sessions,
		ports:        ports,
		launch:       launchProcess,
		met:          met,
		log:          log.Named("orchestrator"),
		procs:        make(map[string]Process),
		waitAttempts: 30,
		waitInterval: time.Second,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run drives the supervisory loop until Shutdown. Call in its own goroutine.
func (o *Orchestrator) Run() {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()
	defer close(o.doneCh)
	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()
	o.Tick() // act immediately, including first pool top-up
	for {
		select {
		case <-ticker.C:
			o.Tick()
		case <-o.stopCh:
			return
		}
	}
}

// Tick performs one supervisory pass: heartbeat sweep, exit sweep, top-up.
func (o *Orchestrator) Tick() {
	now := time.Now()
	for _, id := range o.sessions.TimedOut(o.cfg.HeartbeatTimeout, now) {
		o.log.Warn("server heartbeat timed out", zap.String("server", id))
		o.TerminateServer(id, "heartbeat_timeout")
	}

	for id, proc := range o.snapshotProcs() {
		select {
		case <-proc.Done():
			code := proc.ExitCode()
			o.log.Warn("server process exited",
				zap.String("server", id),
				zap.Int("exit_code", code),
			)
			o.TerminateServer(id, fmt.Sprintf("process_exit_%d", code))
		default:
		}
	}

	for o.sessions.CountStartingOrReady() < o.cfg.MinPool {
		if _, err := o.SpawnServer(); err != nil {
			// Retried on the next tick.
			o.log.Error("pool top-up spawn failed", zap.Error(err))
			break
		}
	}
}

// SpawnServer allocates a port, launches a match-server process, and
// registers a Starting entry. The entry stays Starting until the process
// calls POST /servers/ready.
func (o *Orchestrator) SpawnServer() (*registry.Server, error) {
	port, err := o.ports.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.New(errs.NoServersAvailable), err)
	}

	proc, err := o.launch(o.cfg, port, o.backendHost, o.backendPort)
	if err != nil {
		o.ports.Release(port)
		if o.met != nil {
			o.met.SpawnFailuresTotal.Inc()
		}
		return nil, fmt.Errorf("%w: %v", errs.New(errs.ServerFailedToStart), err)
	}

	id := uuid.NewString()
	srv, err := o.sessions.RegisterServer(id, port, o.cfg.MaxPlayers)
	if err != nil {
		proc.Kill()
		o.ports.Release(port)
		return nil, fmt.Errorf("register spawned server: %w", err)
	}

	o.mu.Lock()
	o.procs[id] = proc
	o.mu.Unlock()

	if o.met != nil {
		o.met.SpawnsTotal.Inc()
	}
	o.log.Info("spawned match server",
		zap.String("server", id),
		zap.Int("port", port),
		zap.Int("pid", proc.Pid()),
	)
	return srv, nil
}

// TerminateServer tears one server down: polite signal, 5 s grace, force
// kill, then match cleanup, port release, and unregistration.
func (o *Orchestrator) TerminateServer(id, reason string) {
	o.mu.Lock()
	proc := o.procs[id]
	delete(o.procs, id)
	o.mu.Unlock()

	if m, ok := o.sessions.MatchForServer(id); ok {
		o.sessions.EndMatch(m.ID, reason)
	}

	if proc != nil {
		select {
		case <-proc.Done():
			// Already exited; nothing to signal.
		default:
			proc.Terminate()
			select {
			case <-proc.Done():
			case <-time.After(terminateGrace):
				proc.Kill()
				<-proc.Done()
			}
		}
	}

	if srv, ok := o.sessions.GetServer(id); ok {
		o.ports.Release(srv.Port)
	}
	o.sessions.UnregisterServer(id)

	if o.met != nil {
		o.met.TerminationsTotal.WithLabelValues(reasonClass(reason)).Inc()
	}
	o.log.Info("terminated server", zap.String("server", id), zap.String("reason", reason))
}

// GetAvailableServer returns any Ready server with capacity, or nil.
func (o *Orchestrator) GetAvailableServer() *registry.Server {
	srv, ok := o.sessions.AvailableServer()
	if !ok {
		return nil
	}
	return srv
}

// WaitUntilReady polls for the server to report Ready, up to 30 × 1 s.
func (o *Orchestrator) WaitUntilReady(id string) (*registry.Server, error) {
	for i := 0; i < o.waitAttempts; i++ {
		srv, ok := o.sessions.GetServer(id)
		if !ok {
			return nil, errs.New(errs.ServerFailedToStart)
		}
		if srv.Status == registry.StatusReady {
			return srv, nil
		}
		select {
		case <-o.stopCh:
			return nil, errs.New(errs.ServerFailedToStart)
		case <-time.After(o.waitInterval):
		}
	}
	return nil, errs.New(errs.ServerFailedToStart)
}

// AcquireServer returns a Ready server with capacity, spawning and waiting
// for one when the pool is empty. This is the matchmaking entry point.
func (o *Orchestrator) AcquireServer() (*registry.Server, error) {
	if srv := o.GetAvailableServer(); srv != nil {
		return srv, nil
	}
	srv, err := o.SpawnServer()
	if err != nil {
		return nil, err
	}
	ready, err := o.WaitUntilReady(srv.ID)
	if err != nil {
		o.TerminateServer(srv.ID, "spawn_wait_timeout")
		return nil, err
	}
	return ready, nil
}

// Shutdown stops the loop and terminates every tracked process.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.mu.Lock()
	loopRunning := o.started
	o.mu.Unlock()
	if loopRunning {
		<-o.doneCh
	}
	for id := range o.snapshotProcs() {
		o.TerminateServer(id, "backend_shutdown")
	}
}

func (o *Orchestrator) snapshotProcs() map[string]Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]Process, len(o.procs))
	for id, p := range o.procs {
		out[id] = p
	}
	return out
}

// reasonClass collapses per-exit-code reasons for the metrics label.
func reasonClass(reason string) string {
	if strings.HasPrefix(reason, "process_exit_") {
		return "process_exit"
	}
	return reason
}
