package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluesky-project/qserver/internal/item"
)

func plan(uid, name string) *item.Item {
	return &item.Item{ItemUID: uid, ItemType: item.TypePlan, User: "Testing Script", UserGroup: "admin", Plan: &item.Plan{Name: name}}
}

func instr(uid string) *item.Item {
	return &item.Item{ItemUID: uid, ItemType: item.TypeInstruction, User: "Testing Script", UserGroup: "admin", Instruction: &item.Instruction{Action: item.ActionQueueStop}}
}

func TestAdd_BasicAppend(t *testing.T) {
	t.Parallel()
	q := New()
	res, err := q.Add(plan("u1", "count"), Where{})
	require.NoError(t, err)
	require.Equal(t, 1, res.QSize)
	require.Equal(t, "u1", res.Item.ItemUID)
}

func TestAdd_Positional(t *testing.T) {
	t.Parallel()
	q := New()
	_, err := q.Add(plan("u1", "count"), Where{})
	require.NoError(t, err)
	_, err = q.Add(plan("u2", "count"), Where{})
	require.NoError(t, err)

	res, err := q.Add(plan("u3", "count"), Where{Pos: PosFront()})
	require.NoError(t, err)
	require.Equal(t, 3, res.QSize)
	items, _ := q.GetAll()
	require.Equal(t, "u3", items[0].ItemUID)

	res, err = q.Add(plan("u4", "count"), Where{Pos: PosInt(-1)})
	require.NoError(t, err)
	require.Equal(t, 4, res.QSize)
	items, _ = q.GetAll()
	require.Equal(t, "u4", items[2].ItemUID)

	res, err = q.Add(plan("u5", "count"), Where{Pos: PosInt(100)})
	require.NoError(t, err)
	items, _ = q.GetAll()
	require.Equal(t, "u5", items[len(items)-1].ItemUID)
}

func TestAdd_AmbiguousParams(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("u1", "count"), Where{})
	_, err := q.Add(plan("u2", "count"), Where{BeforeUID: "u1", AfterUID: "u1"})
	require.ErrorIs(t, err, ErrAmbiguous)
}

func TestAdd_CannotInsertBeforeRunning(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("p1", "count"), Where{})
	running, err := q.PopFrontToRunning()
	require.NoError(t, err)
	require.Equal(t, "p1", running.ItemUID)

	_, err = q.Add(plan("p2", "count"), Where{BeforeUID: "p1"})
	require.ErrorIs(t, err, ErrCannotInsertBeforeRunning)

	_, err = q.Add(plan("p3", "count"), Where{AfterUID: "p1"})
	require.NoError(t, err)
}

func TestGet_Ambiguous(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("u1", "count"), Where{})
	_, err := q.Get(Selector{Pos: PosFront(), UID: "u1"})
	require.ErrorIs(t, err, ErrAmbiguous)
}

func TestGet_RunningSlot(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("u1", "count"), Where{})
	_, _ = q.PopFrontToRunning()
	_, err := q.Get(Selector{UID: "u1"})
	require.ErrorIs(t, err, ErrItemRunning)
}

func TestRemove_CannotRemoveRunning(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("u1", "count"), Where{})
	_, _ = q.PopFrontToRunning()
	_, err := q.Remove(Selector{UID: "u1"})
	require.ErrorIs(t, err, ErrCannotRemoveRunning)
}

func TestRemove_RestoresSizeAndMembership(t *testing.T) {
	t.Parallel()
	q := New()
	res, err := q.Add(plan("u1", "count"), Where{})
	require.NoError(t, err)
	require.Equal(t, 1, res.QSize)

	removed, err := q.Remove(Selector{UID: res.Item.ItemUID})
	require.NoError(t, err)
	require.Equal(t, 0, removed.QSize)
	require.Equal(t, 0, q.Size())
}

func TestMove_SelfIsNoop(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("u1", "count"), Where{})
	_, _ = q.Add(plan("u2", "count"), Where{})
	res, err := q.Move(MoveSrc{UID: "u1"}, MoveDst{BeforeUID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 2, res.QSize)
	items, _ := q.GetAll()
	require.Equal(t, "u1", items[0].ItemUID)
}

func TestPopFrontInstruction_DoesNotPromoteToRunning(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(instr("i1"), Where{})
	_, _ = q.Add(plan("p1", "count"), Where{})

	it, ok := q.PopFrontInstruction()
	require.True(t, ok)
	require.Equal(t, "i1", it.ItemUID)
	require.Nil(t, q.Running())

	_, ok = q.PopFrontInstruction()
	require.False(t, ok)
}

func TestQueueStopScenario(t *testing.T) {
	// S5: instruction, plan A, instruction, plan B.
	t.Parallel()
	q := New()
	_, _ = q.Add(instr("stop1"), Where{})
	_, _ = q.Add(plan("a", "count"), Where{})
	_, _ = q.Add(instr("stop2"), Where{})
	_, _ = q.Add(plan("b", "count"), Where{})

	require.Equal(t, 4, q.Size())
	require.Equal(t, 0, q.HistoryLen())

	_, ok := q.PopFrontInstruction()
	require.True(t, ok)
	require.Equal(t, 3, q.Size())

	running, err := q.PopFrontToRunning()
	require.NoError(t, err)
	require.Equal(t, "a", running.ItemUID)
	_, err = q.CommitRunning(ExecResult{ExitStatus: ExitStatusCompleted})
	require.NoError(t, err)
	require.Equal(t, 1, q.Size())
	require.Equal(t, 1, q.HistoryLen())

	_, ok = q.PopFrontInstruction()
	require.True(t, ok)
	require.Equal(t, 0, q.Size())
}

func TestSelectIndex_FailsRatherThanClampsOnGet(t *testing.T) {
	t.Parallel()
	q := New()
	_, _ = q.Add(plan("u1", "count"), Where{})
	_, _ = q.Add(plan("u2", "count"), Where{})
	_, _ = q.Add(plan("u3", "count"), Where{})

	_, err := q.Get(Selector{Pos: PosInt(-4)})
	require.ErrorIs(t, err, ErrFailedToGetItem)
}

func TestUniqueUIDInvariant(t *testing.T) {
	// No uid appears in more than one of {queue, running slot, history}.
	t.Parallel()
	q := New()
	res, _ := q.Add(plan("u1", "count"), Where{})
	running, err := q.PopFrontToRunning()
	require.NoError(t, err)
	require.Equal(t, res.Item.ItemUID, running.ItemUID)

	items, runningSlot := q.GetAll()
	require.Empty(t, items)
	require.Equal(t, running.ItemUID, runningSlot.ItemUID)

	_, err = q.CommitRunning(ExecResult{ExitStatus: ExitStatusCompleted})
	require.NoError(t, err)
	require.Nil(t, q.Running())
	history := q.History()
	require.Len(t, history, 1)
	require.Equal(t, running.ItemUID, history[0].Item.ItemUID)
}
