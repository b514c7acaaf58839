// Package supervisor ensures the voice backends are running on their
// expected ports. For each configured service it probes the port,
// terminates a stale listener if one is found, spawns a fresh process,
// and streams the child's output through the logger tagged with the
// service name. There is no restart policy: a service that exits stays
// exited, with its exit code recorded. That is a deliberate scope
// boundary of a dev orchestrator, not an oversight.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/voxhaus/voxd/internal/config"
	"github.com/voxhaus/voxd/internal/events"
)

// State names for a supervised service. Each service moves
// idle → probing → [reaping →] spawning → running → exited,
// or ends in failed if the spawn itself errors.
type State string

const (
	StateIdle     State = "idle"
	StateProbing  State = "probing"
	StateReaping  State = "reaping"
	StateSpawning State = "spawning"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateFailed   State = "failed"
)

// ServiceState is a point-in-time snapshot of one service.
type ServiceState struct {
	State    State  `json:"state"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Supervisor drives the probe/reap/spawn sequence over a static
// service list. Services are handled sequentially, but spawned
// children run and log concurrently once launched; the supervisor
// does not wait for one child to become ready before starting the
// next.
type Supervisor struct {
	services []config.ServiceConfig
	logger   *slog.Logger
	bus      *events.Bus

	// probe and reaper are swappable for tests.
	probe  func(port int) bool
	reaper Reaper

	mu     sync.Mutex
	states map[string]ServiceState

	wg sync.WaitGroup
}

// New creates a supervisor over the given service descriptors. bus may
// be nil (events are dropped).
func New(services []config.ServiceConfig, bus *events.Bus, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		services: services,
		logger:   logger,
		bus:      bus,
		probe:    PortOccupied,
		reaper:   NewReaper(),
		states:   make(map[string]ServiceState),
	}
	for _, svc := range services {
		s.states[svc.Name] = ServiceState{State: StateIdle}
	}
	return s
}

// StartAll runs the probe/reap/spawn sequence for every configured
// service, in list order. Each service is its own failure domain: a
// probe, reap, or spawn failure is logged and recorded, and the
// remaining services are still attempted.
func (s *Supervisor) StartAll(ctx context.Context) {
	for _, svc := range s.services {
		s.startOne(ctx, svc)
	}
}

// Wait blocks until every child the supervisor spawned has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// States returns a snapshot of all service states.
func (s *Supervisor) States() map[string]ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ServiceState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *Supervisor) setState(name string, update func(*ServiceState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[name]
	update(&st)
	s.states[name] = st
}

func (s *Supervisor) startOne(ctx context.Context, svc config.ServiceConfig) {
	log := s.logger.With("service", svc.Name, "port", svc.Port)

	s.setState(svc.Name, func(st *ServiceState) { st.State = StateProbing })
	occupied := s.probe(svc.Port)
	s.bus.Publish(events.Event{
		Source: events.SourceSupervisor,
		Kind:   events.KindServiceProbe,
		Data:   map[string]any{"service": svc.Name, "port": svc.Port, "occupied": occupied},
	})

	if occupied {
		log.Warn("port occupied, terminating current owner")
		s.setState(svc.Name, func(st *ServiceState) { st.State = StateReaping })
		if err := s.reaper.FreePort(ctx, svc.Port); err != nil {
			// The reap is best-effort; the spawn below still gets its
			// chance and reports its own failure if the port is held.
			log.Warn("failed to free port", "error", err)
		}
		s.bus.Publish(events.Event{
			Source: events.SourceSupervisor,
			Kind:   events.KindServiceReap,
			Data:   map[string]any{"service": svc.Name, "port": svc.Port},
		})
	}

	s.setState(svc.Name, func(st *ServiceState) { st.State = StateSpawning })
	log.Info("spawning service", "command", svc.Command, "args", svc.Args)

	cmd := exec.CommandContext(ctx, svc.Command, svc.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failService(svc.Name, log, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.failService(svc.Name, log, err)
		return
	}

	if err := cmd.Start(); err != nil {
		s.failService(svc.Name, log, err)
		return
	}

	pid := cmd.Process.Pid
	s.setState(svc.Name, func(st *ServiceState) {
		st.State = StateRunning
		st.PID = pid
	})
	log.Info("service running", "pid", pid)
	s.bus.Publish(events.Event{
		Source: events.SourceSupervisor,
		Kind:   events.KindServiceSpawn,
		Data:   map[string]any{"service": svc.Name, "port": svc.Port, "pid": pid},
	})

	// Drain both output streams before Wait; Wait closes the pipes.
	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		s.streamOutput(svc.Name, "stdout", stdout)
	}()
	go func() {
		defer streams.Done()
		s.streamOutput(svc.Name, "stderr", stderr)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		streams.Wait()

		err := cmd.Wait()
		code := exitCode(err)
		s.setState(svc.Name, func(st *ServiceState) {
			st.State = StateExited
			st.ExitCode = &code
		})
		log.Info("service exited", "pid", pid, "exit_code", code)
		s.bus.Publish(events.Event{
			Source: events.SourceSupervisor,
			Kind:   events.KindServiceExit,
			Data:   map[string]any{"service": svc.Name, "exit_code": code},
		})
	}()
}

func (s *Supervisor) failService(name string, log *slog.Logger, err error) {
	log.Error("failed to spawn service", "error", err)
	s.setState(name, func(st *ServiceState) {
		st.State = StateFailed
		st.Error = err.Error()
	})
}

// streamOutput relays one child stream line by line, tagged with the
// service name so interleaved output from multiple children stays
// attributable.
func (s *Supervisor) streamOutput(name, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.logger.Info(scanner.Text(), "service", name, "stream", stream)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("service output stream closed", "service", name, "stream", stream, "error", err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	// Start succeeded but Wait failed some other way (e.g. the context
	// was cancelled and the process was killed).
	return -1
}
