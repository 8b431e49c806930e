package manager

import (
	"context"

	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/runtracker"
	"github.com/bluesky-project/qserver/internal/telemetry"
	"github.com/bluesky-project/qserver/internal/worker"
)

// runEventLoop consumes sup's event stream for the lifetime of one worker
// attachment, folding run-open/close events into the run tracker and
// committing the running item to history on plan-finished or death. One
// goroutine per attached worker.
func (m *Manager) runEventLoop(sup *worker.Supervisor) {
	ctx := context.Background()
	for {
		select {
		case evt, ok := <-sup.Events():
			if !ok {
				return
			}
			m.handleWorkerEvent(ctx, evt)
		case <-sup.Died():
			m.handleWorkerDied(ctx, sup)
			return
		}
	}
}

// handleWorkerEvent dispatches one worker event. EventPlanFinished releases
// mu before calling advance, which itself makes the blocking StartPlan call
// for the next item: the lock is never held across a worker round trip.
func (m *Manager) handleWorkerEvent(ctx context.Context, evt worker.Event) {
	switch evt.Type {
	case worker.EventRunOpened, worker.EventRunClosed:
		m.mu.Lock()
		running := m.queue.Running()
		var runningUID string
		if running != nil {
			runningUID = running.ItemUID
		}
		opened := evt.Type == worker.EventRunOpened
		_ = m.runs.Apply(ctx, runningUID, runtracker.Event{UID: evt.RunUID, Opened: opened})
		m.publishSnapshot()
		m.mu.Unlock()
		m.log.Debug(ctx, "run state changed", telemetry.RunFields(runningUID, evt.RunUID, opened)...)
		if opened {
			m.metrics.IncCounter("run_open", 1)
		} else {
			m.metrics.IncCounter("run_close", 1)
		}
	case worker.EventPlanFinished:
		m.mu.Lock()
		m.finishRunningLocked(ctx, evt)
		m.mu.Unlock()
		_ = m.advance(ctx)
	case worker.EventHeartbeat:
		// Liveness is already tracked by the Supervisor's own ping loop;
		// heartbeat events only confirm it, nothing to do here.
	}
}

// finishRunningLocked commits the running item to history from a
// plan-finished event. Must be called with mu held.
func (m *Manager) finishRunningLocked(ctx context.Context, evt worker.Event) {
	running := m.queue.Running()
	if running == nil {
		return
	}
	closed := m.runs.Snapshot(runtracker.OptionClosed)
	uids := make([]string, len(closed))
	for i, r := range closed {
		uids[i] = r.UID
	}
	status := queue.ExitStatusCompleted
	if !evt.Success {
		status = exitStatusFromMsg(evt.Msg)
	}
	res := queue.ExecResult{RunUIDs: uids, ExitStatus: status, Msg: evt.Msg}
	_, _ = m.queue.CommitRunning(res)
	_ = m.runs.Reset(ctx, running.ItemUID)
	m.persist()
	m.publishSnapshot()
	fields := append(telemetry.ItemFields(running), "exit_status", string(status))
	m.log.Info(ctx, "plan finished", fields...)
	m.metrics.IncCounter("plan_finish", 1, append(telemetry.ItemTags(running), "exit_status", string(status))...)
}

func exitStatusFromMsg(msg string) queue.ExitStatus {
	switch msg {
	case "stopped":
		return queue.ExitStatusStopped
	case "aborted":
		return queue.ExitStatusAborted
	case "halted":
		return queue.ExitStatusHalted
	default:
		return queue.ExitStatusAborted
	}
}

// handleWorkerDied is the only fatal path: the running item, if any, is
// committed to history with worker_died, and the manager force-transitions
// to idle with no environment.
func (m *Manager) handleWorkerDied(ctx context.Context, sup *worker.Supervisor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running := m.queue.Running(); running != nil {
		res := queue.ExecResult{
			RunUIDs:    idsOf(m.runs.Snapshot(runtracker.OptionClosed)),
			ExitStatus: queue.ExitStatusWorkerDied,
			Msg:        "worker died while executing queue",
		}
		_, _ = m.queue.CommitRunning(res)
		_ = m.runs.Reset(ctx, running.ItemUID)
		m.log.Warn(ctx, "worker died mid-run", telemetry.ItemFields(running)...)
	}
	if m.worker == sup {
		m.worker = nil
	}
	m.machine.WorkerDied()
	m.persist()
	m.publishSnapshot()
}

func idsOf(records []runtracker.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.UID
	}
	return out
}
