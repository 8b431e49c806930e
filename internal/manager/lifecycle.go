package manager

import (
	"context"
	"errors"

	"github.com/bluesky-project/qserver/internal/statemachine"
	"github.com/bluesky-project/qserver/internal/telemetry"
	"github.com/bluesky-project/qserver/internal/worker"
)

// EnvironmentOpen spawns the worker and transitions idle -> creating_environment
// -> idle(env exists) (environment_open). The mutation lock is held only
// for the state decision and release; the worker spawn/ping happens
// outside it, at a suspension point.
func (m *Manager) EnvironmentOpen(ctx context.Context) error {
	m.mu.Lock()
	if err := m.machine.EnvironmentOpen(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	m.publishSnapshot()
	m.mu.Unlock()

	if m.cfg.WorkerFactory == nil {
		return wrapBadState(&statemachine.ErrIllegalTransition{Reason: "no worker factory configured"})
	}
	transport, err := m.cfg.WorkerFactory(ctx)
	if err != nil {
		m.mu.Lock()
		m.machine.WorkerDied()
		m.publishSnapshot()
		m.mu.Unlock()
		return wrapWorkerTimeout(err)
	}
	if err := transport.Ping(ctx); err != nil {
		m.mu.Lock()
		m.machine.WorkerDied()
		m.publishSnapshot()
		m.mu.Unlock()
		return wrapWorkerTimeout(err)
	}

	sup := worker.NewSupervisor(transport, m.cfg.PingInterval, m.cfg.MissedPingThreshold)
	m.mu.Lock()
	m.worker = sup
	if err := m.machine.EnvironmentCreated(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	m.persist()
	m.publishSnapshot()
	m.mu.Unlock()

	go m.runEventLoop(sup)
	return nil
}

// EnvironmentClose gracefully shuts the worker down and transitions
// idle(env exists) -> closing_environment -> idle(no env)
// (environment_close).
func (m *Manager) EnvironmentClose(ctx context.Context) error {
	m.mu.Lock()
	if err := m.machine.EnvironmentClose(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	sup := m.worker
	m.publishSnapshot()
	m.mu.Unlock()

	if sup != nil {
		_ = sup.Shutdown(ctx)
		_ = sup.Kill()
	}

	m.mu.Lock()
	m.worker = nil
	if err := m.machine.EnvironmentClosed(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	m.persist()
	m.publishSnapshot()
	m.mu.Unlock()
	return nil
}

// EnvironmentDestroy force-kills the worker from any state with an
// environment (environment_destroy).
func (m *Manager) EnvironmentDestroy(ctx context.Context) error {
	m.mu.Lock()
	if err := m.machine.EnvironmentDestroy(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	sup := m.worker
	m.publishSnapshot()
	m.mu.Unlock()

	if sup != nil {
		_ = sup.Kill()
	}

	m.mu.Lock()
	m.worker = nil
	_ = m.machine.EnvironmentDestroyed()
	m.persist()
	m.publishSnapshot()
	m.mu.Unlock()
	return nil
}

// QueueStart begins (or resumes) consuming the queue's head items, one at a
// time, until the queue drains or a queue_stop instruction is reached; that
// instruction is consumed and the manager returns to idle (queue_start).
func (m *Manager) QueueStart(ctx context.Context) error {
	m.mu.Lock()
	if m.queue.Size() == 0 {
		m.mu.Unlock()
		return nil
	}
	if err := m.machine.QueueStart(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	m.mu.Unlock()
	return m.advance(ctx)
}

// advance starts the next queue item, or returns the manager to idle if the
// queue is drained or a queue_stop instruction was hit. It re-takes mu for
// each state decision but releases it before the blocking worker
// acknowledgment wait, the same way reEnd does for re_stop/re_abort/re_halt,
// so a slow or unresponsive worker never stalls other mutating RPCs.
func (m *Manager) advance(ctx context.Context) error {
	for {
		m.mu.Lock()
		if instr, ok := m.queue.PopFrontInstruction(); ok {
			_ = instr
			_ = m.machine.QueueDrainedOrStopped()
			m.persist()
			m.publishSnapshot()
			m.mu.Unlock()
			return nil
		}
		if m.machine.QueueStopPending() {
			_ = m.machine.QueueDrainedOrStopped()
			m.persist()
			m.publishSnapshot()
			m.mu.Unlock()
			return nil
		}
		it, err := m.queue.PopFrontToRunning()
		if err != nil {
			// Queue drained.
			_ = m.machine.QueueDrainedOrStopped()
			m.persist()
			m.publishSnapshot()
			m.mu.Unlock()
			return nil
		}
		sup := m.worker
		if sup == nil {
			m.mu.Unlock()
			return wrapWorkerDied(&statemachine.ErrIllegalTransition{Reason: "RE Worker environment does not exist"})
		}
		m.persist()
		m.publishSnapshot()
		m.mu.Unlock()

		m.log.Info(ctx, "starting plan", telemetry.ItemFields(it)...)
		m.metrics.IncCounter("plan_start", 1, telemetry.ItemTags(it)...)
		spanCtx, span := m.tracer.Start(ctx, "plan_run")
		defer span.End()
		if err := sup.StartPlan(spanCtx, it); err != nil {
			span.RecordError(err)
			return err
		}
		return nil
	}
}

// QueueStop marks the current execution cycle to stop after the running
// plan finishes, without interrupting it (queue_stop, idempotent).
func (m *Manager) QueueStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machine.SetQueueStopPending(true)
	m.publishSnapshot()
}

// QueueStopCancel cancels a pending queue_stop (queue_stop_cancel,
// idempotent).
func (m *Manager) QueueStopCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machine.SetQueueStopPending(false)
	m.publishSnapshot()
}

// RePause requests the worker pause at the next checkpoint or immediately
// (re_pause).
func (m *Manager) RePause(ctx context.Context, opt statemachine.PauseOption) error {
	m.mu.Lock()
	if err := m.machine.Pause(opt); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	sup := m.worker
	m.publishSnapshot()
	m.mu.Unlock()
	if sup == nil {
		return wrapWorkerDied(errors.New("worker is not attached"))
	}
	return sup.Pause(ctx, opt)
}

// ReResume resumes a paused plan (re_resume).
func (m *Manager) ReResume(ctx context.Context) error {
	m.mu.Lock()
	if err := m.machine.Resume(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	sup := m.worker
	m.publishSnapshot()
	m.mu.Unlock()
	if sup == nil {
		return wrapWorkerDied(errors.New("worker is not attached"))
	}
	return sup.Resume(ctx)
}

// ReStop ends the current run as successful (re_stop).
func (m *Manager) ReStop(ctx context.Context) error { return m.reEnd(ctx, (*worker.Supervisor).Stop) }

// ReAbort ends the current run as failed with a traceback (re_abort).
func (m *Manager) ReAbort(ctx context.Context) error {
	return m.reEnd(ctx, (*worker.Supervisor).Abort)
}

// ReHalt ends the current run as failed without cleanup (re_halt).
func (m *Manager) ReHalt(ctx context.Context) error { return m.reEnd(ctx, (*worker.Supervisor).Halt) }

func (m *Manager) reEnd(ctx context.Context, fn func(*worker.Supervisor, context.Context) error) error {
	m.mu.Lock()
	if err := m.machine.StopAbortHalt(); err != nil {
		m.mu.Unlock()
		return wrapBadState(err)
	}
	// Once the ended plan's plan_finished arrives, advance returns the
	// manager to idle instead of starting the next queued item.
	m.machine.SetQueueStopPending(true)
	sup := m.worker
	m.publishSnapshot()
	m.mu.Unlock()
	if sup == nil {
		return wrapWorkerDied(errors.New("worker is not attached"))
	}
	return fn(sup, ctx)
}

// ManagerKill is the manager_kill test hook: it kills the worker hard and
// closes Killed, simulating a crash for the self-supervisor to recover
// from. The manager_kill call itself gets no reply (see internal/rpc);
// other calls already running against this instance still complete and
// reply.
func (m *Manager) ManagerKill() {
	m.mu.Lock()
	sup := m.worker
	m.mu.Unlock()
	if sup != nil {
		_ = sup.Kill()
	}
	close(m.killed)
}

// Killed reports whether ManagerKill has fired on this Manager instance.
func (m *Manager) Killed() <-chan struct{} { return m.killed }
