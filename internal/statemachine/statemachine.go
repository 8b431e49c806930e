// Package statemachine implements the manager's authoritative state: the
// six manager states plus the environment-exists flag, the RPCs that drive transitions between them, and
// the textual reasons returned for illegal transitions. It is a plain
// switch over (state, event) pairs rather than a generic FSM library: the
// transition table is small and closed (see DESIGN.md).
package statemachine

import "fmt"

// State is one of the manager's six lifecycle states.
type State string

const (
	StateIdle                 State = "idle"
	StateCreatingEnvironment  State = "creating_environment"
	StateExecutingQueue       State = "executing_queue"
	StatePaused               State = "paused"
	StateClosingEnvironment   State = "closing_environment"
	StateDestroyingEnvironment State = "destroying_environment"
)

// PauseOption distinguishes the two re_pause variants.
type PauseOption string

const (
	PauseDeferred  PauseOption = "deferred"
	PauseImmediate PauseOption = "immediate"
)

// ErrIllegalTransition is wrapped with a precise, stable reason string for
// every disallowed transition.
type ErrIllegalTransition struct {
	Reason string
}

func (e *ErrIllegalTransition) Error() string { return e.Reason }

func illegal(reason string) error { return &ErrIllegalTransition{Reason: reason} }

// Machine holds the manager's current state plus the two booleans projected
// into the status envelope.
type Machine struct {
	state                  State
	envExists              bool
	queueStopPending        bool
}

// New constructs a Machine starting idle with no environment.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// Restore reconstructs a Machine from persisted state (used by the
// self-supervisor on restart).
func Restore(state State, envExists bool) *Machine {
	return &Machine{state: state, envExists: envExists}
}

func (m *Machine) State() State        { return m.state }
func (m *Machine) EnvExists() bool     { return m.envExists }
func (m *Machine) QueueStopPending() bool { return m.queueStopPending }

// EnvironmentOpen drives idle -> creating_environment.
func (m *Machine) EnvironmentOpen() error {
	if m.state == StateIdle && m.envExists {
		return illegal("RE Worker environment already exists")
	}
	if m.state != StateIdle {
		return illegal(fmt.Sprintf("Manager is in the process of %s", m.state))
	}
	m.state = StateCreatingEnvironment
	return nil
}

// EnvironmentCreated completes creating_environment -> idle (env exists).
func (m *Machine) EnvironmentCreated() error {
	if m.state != StateCreatingEnvironment {
		return illegal("no environment is being created")
	}
	m.state = StateIdle
	m.envExists = true
	return nil
}

// EnvironmentClose drives idle(env exists) -> closing_environment.
func (m *Machine) EnvironmentClose() error {
	if m.state == StateExecutingQueue || m.state == StatePaused {
		return illegal("Queue execution is in progress")
	}
	if m.state != StateIdle || !m.envExists {
		return illegal("RE Worker environment does not exist")
	}
	m.state = StateClosingEnvironment
	return nil
}

// EnvironmentClosed completes closing_environment -> idle (no env).
func (m *Machine) EnvironmentClosed() error {
	if m.state != StateClosingEnvironment {
		return illegal("no environment is being closed")
	}
	m.state = StateIdle
	m.envExists = false
	return nil
}

// QueueStart drives idle(env exists) -> executing_queue.
func (m *Machine) QueueStart() error {
	if m.state != StateIdle {
		return illegal(fmt.Sprintf("Manager is in the process of %s", m.state))
	}
	if !m.envExists {
		return illegal("RE Worker environment does not exist")
	}
	m.state = StateExecutingQueue
	return nil
}

// QueueDrainedOrStopped returns executing_queue -> idle(env exists), clearing
// queue_stop_pending.
func (m *Machine) QueueDrainedOrStopped() error {
	if m.state != StateExecutingQueue {
		return illegal("queue is not executing")
	}
	m.state = StateIdle
	m.queueStopPending = false
	return nil
}

// SetQueueStopPending marks that queue_stop was requested mid-execution.
func (m *Machine) SetQueueStopPending(v bool) { m.queueStopPending = v }

// Pause drives executing_queue -> paused.
func (m *Machine) Pause(_ PauseOption) error {
	if m.state != StateExecutingQueue {
		return illegal("Queue execution is not in progress")
	}
	m.state = StatePaused
	return nil
}

// Resume drives paused -> executing_queue.
func (m *Machine) Resume() error {
	if m.state != StatePaused {
		return illegal("Manager is not paused")
	}
	m.state = StateExecutingQueue
	return nil
}

// StopAbortHalt drives paused -> executing_queue, from which the caller is
// expected to immediately call QueueDrainedOrStopped once the worker
// confirms the plan has left the running slot: paused ->
// re_stop|re_abort|re_halt -> executing_queue -> idle(env).
func (m *Machine) StopAbortHalt() error {
	if m.state != StatePaused && m.state != StateExecutingQueue {
		return illegal("Manager is not executing a plan")
	}
	m.state = StateExecutingQueue
	return nil
}

// EnvironmentDestroy drives any state with an environment to
// destroying_environment; it force-kills the worker regardless of the
// current substate.
func (m *Machine) EnvironmentDestroy() error {
	if !m.envExists && m.state != StateCreatingEnvironment {
		return illegal("RE Worker environment does not exist")
	}
	m.state = StateDestroyingEnvironment
	return nil
}

// EnvironmentDestroyed completes destroying_environment -> idle (no env).
func (m *Machine) EnvironmentDestroyed() error {
	if m.state != StateDestroyingEnvironment {
		return illegal("no environment is being destroyed")
	}
	m.state = StateIdle
	m.envExists = false
	m.queueStopPending = false
	return nil
}

// WorkerDied force-transitions to idle with no environment after the caller
// has committed the running item to history: the only fatal error kind.
func (m *Machine) WorkerDied() {
	m.state = StateIdle
	m.envExists = false
	m.queueStopPending = false
}
