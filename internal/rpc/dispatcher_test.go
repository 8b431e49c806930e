package rpc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluesky-project/qserver/internal/catalogue"
	"github.com/bluesky-project/qserver/internal/catalogue/memory"
	"github.com/bluesky-project/qserver/internal/ident"
	"github.com/bluesky-project/qserver/internal/manager"
	"github.com/bluesky-project/qserver/internal/rpc"
	"github.com/bluesky-project/qserver/internal/worker"
	"github.com/bluesky-project/qserver/internal/worker/inmem"
)

func newDispatcher(t *testing.T) (*rpc.Dispatcher, *manager.Manager) {
	t.Helper()
	cfg := manager.Config{
		Catalogue: memory.New(memory.Snapshot{
			Groups: map[string]bool{"admin": true},
			Plans: map[string]map[string]catalogue.Signature{
				"admin": {"count": {PositionalCount: -1}},
			},
		}),
		WorkerFactory: func(ctx context.Context) (worker.Transport, error) {
			return inmem.New(nil), nil
		},
		UIDs: ident.New(),
	}
	m := manager.New(cfg)
	d := &rpc.Dispatcher{CurrentManager: func() *manager.Manager { return m }}
	return d, m
}

func req(t *testing.T, method string, params any) rpc.Request {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		raw = data
	}
	return rpc.Request{Method: method, Params: raw}
}

func TestStatus_AlwaysReplies(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t)
	env, hasReply := d.Handle(context.Background(), req(t, "status", nil))
	require.True(t, hasReply)
	require.True(t, env.Success)
	require.Equal(t, "idle", env.ManagerState)
}

func TestQueueItemAdd_EchoesPlanNotInstruction(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t)
	env, hasReply := d.Handle(context.Background(), req(t, "queue_item_add", map[string]any{
		"plan":       map[string]any{"name": "count"},
		"user":       "Testing Script",
		"user_group": "admin",
	}))
	require.True(t, hasReply)
	require.True(t, env.Success)
	require.NotNil(t, env.Plan)
	require.Nil(t, env.Instruction)
	require.Equal(t, "count", env.Plan.Name)
	require.NotNil(t, env.QSize)
	require.Equal(t, 1, *env.QSize)
}

func TestQueueItemAdd_AmbiguousPosition(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t)
	env, _ := d.Handle(context.Background(), req(t, "queue_item_add", map[string]any{
		"plan":       map[string]any{"name": "count"},
		"user":       "Testing Script",
		"user_group": "admin",
		"before_uid": "x",
		"after_uid":  "y",
	}))
	require.False(t, env.Success)
}

func TestHandle_UnknownMethod(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t)
	env, hasReply := d.Handle(context.Background(), req(t, "bogus_method", nil))
	require.True(t, hasReply)
	require.False(t, env.Success)
}

func TestManagerKill_NoReply(t *testing.T) {
	t.Parallel()
	d, m := newDispatcher(t)
	require.NoError(t, m.EnvironmentOpen(context.Background()))

	_, hasReply := d.Handle(context.Background(), req(t, "manager_kill", nil))
	require.False(t, hasReply)

	select {
	case <-m.Killed():
	case <-time.After(time.Second):
		t.Fatal("manager_kill did not kill the manager")
	}
}

func TestFullScenario_AddOpenStartDrain(t *testing.T) {
	// S1-style end to end: add a plan over RPC, open the environment,
	// start the queue, observe the item land in history via queue_get and
	// history_get.
	t.Parallel()
	d, _ := newDispatcher(t)

	addEnv, _ := d.Handle(context.Background(), req(t, "queue_item_add", map[string]any{
		"plan":       map[string]any{"name": "count"},
		"user":       "Testing Script",
		"user_group": "admin",
	}))
	require.True(t, addEnv.Success)

	openEnv, _ := d.Handle(context.Background(), req(t, "environment_open", nil))
	require.True(t, openEnv.Success)

	startEnv, _ := d.Handle(context.Background(), req(t, "queue_start", nil))
	require.True(t, startEnv.Success)

	require.Eventually(t, func() bool {
		env, _ := d.Handle(context.Background(), req(t, "history_get", nil))
		return len(env.History) == 1
	}, time.Second, time.Millisecond)

	queueEnv, _ := d.Handle(context.Background(), req(t, "queue_get", nil))
	require.True(t, queueEnv.Success)
	require.Empty(t, queueEnv.Queue)
	require.Equal(t, json.RawMessage(`{}`), queueEnv.RunningItem)
}

func TestPlansDevicesAllowed(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t)
	env, _ := d.Handle(context.Background(), req(t, "plans_allowed", map[string]any{"user_group": "admin"}))
	require.True(t, env.Success)
	require.Contains(t, env.PlansAllowed, "count")
}
