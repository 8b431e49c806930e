package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluesky-project/qserver/internal/catalogue"
	"github.com/bluesky-project/qserver/internal/catalogue/memory"
	"github.com/bluesky-project/qserver/internal/ident"
	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/manager"
	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/statemachine"
	"github.com/bluesky-project/qserver/internal/worker"
	"github.com/bluesky-project/qserver/internal/worker/inmem"
)

func testCatalogue() *memory.Catalogue {
	return memory.New(memory.Snapshot{
		Groups: map[string]bool{"admin": true},
		Plans: map[string]map[string]catalogue.Signature{
			"admin": {"count": {PositionalCount: -1}},
		},
	})
}

func newTestManager(t *testing.T, scripter inmem.Scripter) *manager.Manager {
	t.Helper()
	cfg := manager.Config{
		Catalogue: testCatalogue(),
		WorkerFactory: func(ctx context.Context) (worker.Transport, error) {
			return inmem.New(scripter), nil
		},
		UIDs:                ident.New(),
		MissedPingThreshold: 3,
	}
	return manager.New(cfg)
}

func addPlan(t *testing.T, m *manager.Manager, name string) queue.Result {
	t.Helper()
	res, err := m.QueueItemAdd(item.Raw{Plan: &item.Plan{Name: name}}, "Testing Script", "admin", queue.Where{})
	require.NoError(t, err)
	return res
}

func TestEnvironmentOpen_Close(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	require.False(t, m.Status().WorkerEnvironmentExists)

	require.NoError(t, m.EnvironmentOpen(context.Background()))
	require.True(t, m.Status().WorkerEnvironmentExists)
	require.Equal(t, statemachine.StateIdle, m.Status().ManagerState)

	require.NoError(t, m.EnvironmentClose(context.Background()))
	require.False(t, m.Status().WorkerEnvironmentExists)
}

func TestEnvironmentOpen_RejectsSecondOpen(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	require.NoError(t, m.EnvironmentOpen(context.Background()))
	err := m.EnvironmentOpen(context.Background())
	require.Error(t, err)
}

func TestQueueItemAdd_Get_Remove(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	res := addPlan(t, m, "count")
	require.Equal(t, 1, res.QSize)

	got, err := m.QueueItemGet(queue.Selector{UID: res.Item.ItemUID})
	require.NoError(t, err)
	require.Equal(t, "count", got.Plan.Name)

	removed, err := m.QueueItemRemove(queue.Selector{UID: res.Item.ItemUID})
	require.NoError(t, err)
	require.Equal(t, 0, removed.QSize)
}

func TestQueueStart_RunsPlanToCompletion(t *testing.T) {
	// S1-style basic round trip: add a plan, open env, start queue, let the
	// scripted worker finish it, observe it land in history.
	t.Parallel()
	m := newTestManager(t, nil)
	res := addPlan(t, m, "count")
	require.NoError(t, m.EnvironmentOpen(context.Background()))
	require.NoError(t, m.QueueStart(context.Background()))

	require.Eventually(t, func() bool {
		return m.Status().ItemsInHistory == 1
	}, time.Second, time.Millisecond)

	history := m.HistoryGet()
	require.Len(t, history, 1)
	require.Equal(t, res.Item.ItemUID, history[0].Item.ItemUID)
	require.Equal(t, queue.ExitStatusCompleted, history[0].Result.ExitStatus)
	require.Equal(t, statemachine.StateIdle, m.Status().ManagerState)
}

func TestQueueStart_MultiRunPlan_TracksRunList(t *testing.T) {
	// S7: a plan that opens more than one sub-run before finishing.
	t.Parallel()
	scripter := func(it *item.Item) inmem.Script {
		return inmem.Script{
			{Open: "run-a"},
			{Open: "run-b"},
			{Delay: time.Millisecond, Close: "run-a"},
			{Close: "run-b"},
		}
	}
	m := newTestManager(t, scripter)
	res := addPlan(t, m, "count")
	require.NoError(t, m.EnvironmentOpen(context.Background()))
	require.NoError(t, m.QueueStart(context.Background()))

	require.Eventually(t, func() bool {
		return m.Status().ItemsInHistory == 1
	}, time.Second, time.Millisecond)

	history := m.HistoryGet()
	require.Len(t, history, 1)
	require.Equal(t, res.Item.ItemUID, history[0].Item.ItemUID)
	require.ElementsMatch(t, []string{"run-a", "run-b"}, history[0].Result.RunUIDs)
}

func TestQueueStop_InstructionCyclesWithoutInterruptingRunning(t *testing.T) {
	// S5-style: plan A, instruction, plan B — queue_stop should halt the
	// cycle at the instruction encountered after plan A finishes, never
	// touching plan B.
	t.Parallel()
	m := newTestManager(t, nil)
	addPlan(t, m, "count")
	_, err := m.QueueItemAdd(item.Raw{Instruction: &item.Instruction{Action: item.ActionQueueStop}}, "Testing Script", "admin", queue.Where{})
	require.NoError(t, err)
	addPlan(t, m, "count")

	require.NoError(t, m.EnvironmentOpen(context.Background()))
	require.NoError(t, m.QueueStart(context.Background()))

	require.Eventually(t, func() bool {
		return m.Status().ManagerState == statemachine.StateIdle && m.Status().ItemsInHistory == 1
	}, time.Second, time.Millisecond)

	require.Equal(t, 1, m.Status().ItemsInQueue)
}

func TestManagerKill_ClosesKilledChannel(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	require.NoError(t, m.EnvironmentOpen(context.Background()))

	select {
	case <-m.Killed():
		t.Fatal("should not be killed yet")
	default:
	}

	m.ManagerKill()

	select {
	case <-m.Killed():
	case <-time.After(time.Second):
		t.Fatal("manager was not marked killed")
	}
}

func TestRePause_ReResume_PausesAndResumesRunningPlan(t *testing.T) {
	// re_pause should hold the running plan at its next checkpoint without
	// committing it to history; re_resume should let it finish normally.
	t.Parallel()
	scripter := func(it *item.Item) inmem.Script {
		return inmem.Script{
			{Open: "run-a"},
			{Delay: 20 * time.Millisecond, Close: "run-a"},
		}
	}
	m := newTestManager(t, scripter)
	addPlan(t, m, "count")
	require.NoError(t, m.EnvironmentOpen(context.Background()))
	require.NoError(t, m.QueueStart(context.Background()))

	require.Eventually(t, func() bool {
		return m.Status().ManagerState == statemachine.StateExecutingQueue
	}, time.Second, time.Millisecond)

	require.NoError(t, m.RePause(context.Background(), statemachine.PauseImmediate))
	require.Eventually(t, func() bool {
		return m.Status().ManagerState == statemachine.StatePaused
	}, time.Second, time.Millisecond)

	// Give the paused run a chance to finish anyway if the pause failed to
	// hold it back; it must not land in history while paused.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, m.Status().ItemsInHistory)

	require.NoError(t, m.ReResume(context.Background()))
	require.Eventually(t, func() bool {
		return m.Status().ManagerState == statemachine.StateIdle && m.Status().ItemsInHistory == 1
	}, time.Second, time.Millisecond)
}

func TestSelfSupervisor_RestartsAfterKill(t *testing.T) {
	// S6: manager_kill followed by the self-supervisor installing a fresh
	// instance that callers observe through Current().
	t.Parallel()
	cfg := manager.Config{
		Catalogue: testCatalogue(),
		WorkerFactory: func(ctx context.Context) (worker.Transport, error) {
			return inmem.New(nil), nil
		},
		UIDs: ident.New(),
	}
	sup := manager.NewSelfSupervisor(cfg)
	first := sup.Current()
	require.NotNil(t, first)

	first.ManagerKill()

	require.Eventually(t, func() bool {
		return sup.Current() != first
	}, time.Second, time.Millisecond)
}
