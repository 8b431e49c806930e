package manager

import (
	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/runtracker"
	"github.com/bluesky-project/qserver/internal/statemachine"
)

// Status is the full status envelope: combining the queue, state machine,
// worker supervisor, and run tracker into one consistent snapshot. Readers
// never take mu; they read the last published immutable Status instead.
// queue_get, history_get, and re_runs are served straight from the Queue,
// History, and RunList fields below rather than re-locking the queue, so a
// slow mutating RPC (including one blocked on a worker round trip) never
// stalls a read.
type Status struct {
	Msg                     string
	ManagerState            statemachine.State
	ItemsInQueue            int
	ItemsInHistory          int
	RunningItemUID          string
	WorkerEnvironmentExists bool
	RunListUID              string
	QueueStopPending        bool
	WorkerAlive             bool

	Queue   []*item.Item
	Running *item.Item
	History []queue.HistoryEntry
	RunList []runtracker.Record
}

// publishSnapshot recomputes Status from the current collaborators and
// publishes it atomically. Must be called with mu held (or immediately
// after constructing a fresh Manager, before it is shared).
func (m *Manager) publishSnapshot() {
	items, running := m.queue.GetAll()
	var runningUID string
	if running != nil {
		runningUID = running.ItemUID
	}
	var runListUID string
	var runList []runtracker.Record
	var workerAlive bool
	if m.runs != nil {
		runListUID = m.runs.RunListUID()
		runList = m.runs.Snapshot(runtracker.OptionActive)
	}
	if m.worker != nil {
		workerAlive = m.worker.Alive()
	}
	s := Status{
		Msg:                     "RE Manager",
		ManagerState:            m.machine.State(),
		ItemsInQueue:            m.queue.Size(),
		ItemsInHistory:          m.queue.HistoryLen(),
		RunningItemUID:          runningUID,
		WorkerEnvironmentExists: m.machine.EnvExists(),
		RunListUID:              runListUID,
		QueueStopPending:        m.machine.QueueStopPending(),
		WorkerAlive:             workerAlive,
		Queue:                   items,
		Running:                 running,
		History:                 m.queue.History(),
		RunList:                 runList,
	}
	m.snapMu.Lock()
	m.snap = s
	m.snapMu.Unlock()
}

// Status returns the most recently published status snapshot without
// taking the mutation lock, from a consistent snapshot.
func (m *Manager) Status() Status {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// RunList returns the requested subset of the current run list (re_runs),
// filtered from the published snapshot rather than the live tracker.
func (m *Manager) RunList(opt runtracker.Option) []runtracker.Record {
	m.snapMu.RLock()
	all := m.snap.RunList
	m.snapMu.RUnlock()
	return filterRunList(all, opt)
}

// filterRunList mirrors runtracker.Tracker.Snapshot's filtering so re_runs
// can be served from a plain slice snapshot instead of the live tracker.
func filterRunList(records []runtracker.Record, opt runtracker.Option) []runtracker.Record {
	out := make([]runtracker.Record, 0, len(records))
	for _, r := range records {
		switch opt {
		case runtracker.OptionOpen:
			if r.IsOpen {
				out = append(out, r)
			}
		case runtracker.OptionClosed:
			if !r.IsOpen {
				out = append(out, r)
			}
		default:
			out = append(out, r)
		}
	}
	return out
}
