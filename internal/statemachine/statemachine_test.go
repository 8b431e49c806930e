package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvironmentLifecycle_HappyPath(t *testing.T) {
	t.Parallel()
	m := New()
	require.Equal(t, StateIdle, m.State())
	require.False(t, m.EnvExists())

	require.NoError(t, m.EnvironmentOpen())
	require.Equal(t, StateCreatingEnvironment, m.State())

	require.NoError(t, m.EnvironmentCreated())
	require.Equal(t, StateIdle, m.State())
	require.True(t, m.EnvExists())

	require.NoError(t, m.EnvironmentClose())
	require.Equal(t, StateClosingEnvironment, m.State())

	require.NoError(t, m.EnvironmentClosed())
	require.Equal(t, StateIdle, m.State())
	require.False(t, m.EnvExists())
}

func TestEnvironmentOpen_RejectsWhenAlreadyExists(t *testing.T) {
	t.Parallel()
	m := Restore(StateIdle, true)
	err := m.EnvironmentOpen()
	require.Error(t, err)
	var illegalErr *ErrIllegalTransition
	require.ErrorAs(t, err, &illegalErr)
}

func TestEnvironmentClose_RejectsDuringExecution(t *testing.T) {
	t.Parallel()
	m := Restore(StateExecutingQueue, true)
	err := m.EnvironmentClose()
	require.Error(t, err)
}

func TestQueueStart_RequiresEnvironment(t *testing.T) {
	t.Parallel()
	m := New()
	err := m.QueueStart()
	require.Error(t, err)

	m2 := Restore(StateIdle, true)
	require.NoError(t, m2.QueueStart())
	require.Equal(t, StateExecutingQueue, m2.State())
}

func TestQueueDrainedOrStopped_ClearsStopPending(t *testing.T) {
	t.Parallel()
	m := Restore(StateIdle, true)
	require.NoError(t, m.QueueStart())
	m.SetQueueStopPending(true)
	require.True(t, m.QueueStopPending())

	require.NoError(t, m.QueueDrainedOrStopped())
	require.Equal(t, StateIdle, m.State())
	require.False(t, m.QueueStopPending())
}

func TestPause_OnlyLegalWhileExecuting(t *testing.T) {
	t.Parallel()
	m := New()
	err := m.Pause(PauseDeferred)
	require.Error(t, err)
	require.EqualError(t, err, "Queue execution is not in progress")
}

func TestPauseResume_RoundTrip(t *testing.T) {
	t.Parallel()
	m := Restore(StateIdle, true)
	require.NoError(t, m.QueueStart())
	require.NoError(t, m.Pause(PauseImmediate))
	require.Equal(t, StatePaused, m.State())

	err := m.Resume()
	require.NoError(t, err)
	require.Equal(t, StateExecutingQueue, m.State())
}

func TestResume_RejectsWhenNotPaused(t *testing.T) {
	t.Parallel()
	m := New()
	require.Error(t, m.Resume())
}

func TestStopAbortHalt_FromPausedOrExecuting(t *testing.T) {
	t.Parallel()
	m := Restore(StateIdle, true)
	require.NoError(t, m.QueueStart())
	require.NoError(t, m.StopAbortHalt())
	require.Equal(t, StateExecutingQueue, m.State())

	require.NoError(t, m.Pause(PauseDeferred))
	require.NoError(t, m.StopAbortHalt())
	require.Equal(t, StateExecutingQueue, m.State())
}

func TestStopAbortHalt_RejectsWhenIdle(t *testing.T) {
	t.Parallel()
	m := New()
	require.Error(t, m.StopAbortHalt())
}

func TestEnvironmentDestroy_ForcesFromAnyEnvState(t *testing.T) {
	t.Parallel()
	for _, st := range []State{StateCreatingEnvironment, StateExecutingQueue, StatePaused, StateClosingEnvironment} {
		m := Restore(st, true)
		require.NoError(t, m.EnvironmentDestroy(), "state %s", st)
		require.Equal(t, StateDestroyingEnvironment, m.State())
		require.NoError(t, m.EnvironmentDestroyed())
		require.Equal(t, StateIdle, m.State())
		require.False(t, m.EnvExists())
		require.False(t, m.QueueStopPending())
	}
}

func TestEnvironmentDestroy_RejectsWhenNoEnvironment(t *testing.T) {
	t.Parallel()
	m := New()
	require.Error(t, m.EnvironmentDestroy())
}

func TestWorkerDied_ForcesIdleNoEnv(t *testing.T) {
	t.Parallel()
	m := Restore(StateExecutingQueue, true)
	m.SetQueueStopPending(true)
	m.WorkerDied()
	require.Equal(t, StateIdle, m.State())
	require.False(t, m.EnvExists())
	require.False(t, m.QueueStopPending())
}
