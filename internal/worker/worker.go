// Package worker supervises the out-of-process worker: spawning,
// pausing/resuming/stopping/aborting/halting/killing it, and tracking its
// liveness via periodic pings. The worker itself is reached through a
// Transport, letting the manager swap a real child-process implementation
// (internal/worker/procworker) for an in-memory one in tests
// (internal/worker/inmem).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/statemachine"
)

// PauseOption mirrors statemachine.PauseOption for the worker transport's
// command surface.
type PauseOption = statemachine.PauseOption

// EventType classifies an event pushed by the worker onto its event stream.
type EventType string

const (
	EventRunOpened    EventType = "run_opened"
	EventRunClosed    EventType = "run_closed"
	EventPlanFinished EventType = "plan_finished"
	EventHeartbeat    EventType = "heartbeat"
)

// Event is one item on the worker's typed event stream: run-opened,
// run-closed, plan-finished, or heartbeat.
type Event struct {
	Type    EventType
	RunUID  string
	Success bool
	Msg     string
}

// Transport is the command/event surface a worker process implementation
// exposes to the Supervisor.
type Transport interface {
	StartPlan(ctx context.Context, it *item.Item) error
	Pause(ctx context.Context, opt PauseOption) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Abort(ctx context.Context) error
	Halt(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Ping(ctx context.Context) error
	// Kill force-terminates the worker process. Used by environment_destroy
	// and by tests that simulate a manager crash.
	Kill() error
	// Events returns the channel the worker pushes run-open/close,
	// plan-finished, and heartbeat events onto. Closed when the worker
	// process exits.
	Events() <-chan Event
}

// Supervisor owns a Transport and tracks its liveness.
type Supervisor struct {
	transport           Transport
	pingInterval        time.Duration
	missedPingThreshold int

	mu        sync.Mutex
	lastSeen  time.Time
	alive     bool
	executing bool

	died chan struct{}
	stop chan struct{}
	once sync.Once
}

// NewSupervisor wraps transport with a liveness watchdog that pings every
// pingInterval and considers the worker dead after missedPingThreshold
// consecutive failures.
func NewSupervisor(transport Transport, pingInterval time.Duration, missedPingThreshold int) *Supervisor {
	if missedPingThreshold <= 0 {
		missedPingThreshold = 3
	}
	s := &Supervisor{
		transport:           transport,
		pingInterval:        pingInterval,
		missedPingThreshold: missedPingThreshold,
		alive:               true,
		lastSeen:            time.Now(),
		died:                make(chan struct{}),
		stop:                make(chan struct{}),
	}
	if pingInterval > 0 {
		go s.watch()
	}
	return s
}

// Died returns a channel that is closed the instant the watchdog observes
// the worker as dead.
func (s *Supervisor) Died() <-chan struct{} { return s.died }

// Events forwards the transport's event stream.
func (s *Supervisor) Events() <-chan Event { return s.transport.Events() }

// SetExecuting records whether a plan is currently running. The watchdog
// does not consult it: Died is closed after the missed-ping threshold
// whether or not a plan is running.
func (s *Supervisor) SetExecuting(v bool) {
	s.mu.Lock()
	s.executing = v
	s.mu.Unlock()
}

// Executing reports the flag set by StartPlan and cleared by Stop, Abort,
// and Halt; a plan that finishes on its own does not clear it.
func (s *Supervisor) Executing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// Alive reports the watchdog's last liveness verdict.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *Supervisor) watch() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.pingInterval)
			err := s.transport.Ping(ctx)
			cancel()
			if err != nil {
				misses++
			} else {
				misses = 0
				s.mu.Lock()
				s.lastSeen = time.Now()
				s.mu.Unlock()
			}
			if misses >= s.missedPingThreshold {
				s.mu.Lock()
				wasAlive := s.alive
				s.alive = false
				s.mu.Unlock()
				if wasAlive {
					s.once.Do(func() { close(s.died) })
				}
				return
			}
		}
	}
}

// StartPlan begins execution of it on the worker.
func (s *Supervisor) StartPlan(ctx context.Context, it *item.Item) error {
	s.SetExecuting(true)
	return s.transport.StartPlan(ctx, it)
}

func (s *Supervisor) Pause(ctx context.Context, opt PauseOption) error {
	return s.transport.Pause(ctx, opt)
}

func (s *Supervisor) Resume(ctx context.Context) error { return s.transport.Resume(ctx) }

func (s *Supervisor) Stop(ctx context.Context) error {
	defer s.SetExecuting(false)
	return s.transport.Stop(ctx)
}

func (s *Supervisor) Abort(ctx context.Context) error {
	defer s.SetExecuting(false)
	return s.transport.Abort(ctx)
}

func (s *Supervisor) Halt(ctx context.Context) error {
	defer s.SetExecuting(false)
	return s.transport.Halt(ctx)
}

func (s *Supervisor) Shutdown(ctx context.Context) error { return s.transport.Shutdown(ctx) }

// Kill force-terminates the worker process and stops the watchdog.
func (s *Supervisor) Kill() error {
	close(s.stop)
	return s.transport.Kill()
}
