// Package queue implements the ordered, persistent plan/instruction queue:
// positional and identity addressing, a single running slot, and an
// append-only history. It holds no lock of its own; see Queue.
package queue

import (
	"fmt"

	"github.com/bluesky-project/qserver/internal/item"
)

// Result carries the stored item and the resulting queue size, returned by
// every mutating operation.
type Result struct {
	Item  *item.Item
	QSize int
}

// HistoryEntry pairs a completed item with its execution result.
type HistoryEntry struct {
	Item   *item.Item
	Result ExecResult
}

// ExitStatus classifies how a running item left the running slot.
type ExitStatus string

const (
	ExitStatusCompleted ExitStatus = "completed"
	ExitStatusStopped   ExitStatus = "stopped"
	ExitStatusAborted   ExitStatus = "aborted"
	ExitStatusHalted    ExitStatus = "halted"
	ExitStatusWorkerDied ExitStatus = "worker_died"
)

// ExecResult is the result block recorded in history for a completed item.
type ExecResult struct {
	RunUIDs    []string
	ExitStatus ExitStatus
	Msg        string
}

// Queue is the ordered sequence of Items plus the running slot and history.
// Not safe for concurrent use: Queue has no mutex, so callers
// (internal/manager) serialize every call, reads included, through their
// single mutation lock.
type Queue struct {
	items   []*item.Item
	running *item.Item
	history []HistoryEntry
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Add inserts item at the position described by where.
func (q *Queue) Add(it *item.Item, where Where) (Result, error) {
	if where.selectorCount() > 1 {
		return Result{}, ErrAmbiguous
	}
	idx := len(q.items)
	switch {
	case where.BeforeUID != "":
		if q.running != nil && q.running.ItemUID == where.BeforeUID {
			return Result{}, ErrCannotInsertBeforeRunning
		}
		target, ok := q.findIndex(where.BeforeUID)
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", ErrUIDNotInQueue, where.BeforeUID)
		}
		idx = target
	case where.AfterUID != "":
		if q.running != nil && q.running.ItemUID == where.AfterUID {
			// The running item sits ahead of the whole queue.
			idx = 0
			break
		}
		target, ok := q.findIndex(where.AfterUID)
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", ErrUIDNotInQueue, where.AfterUID)
		}
		idx = target + 1
	case where.Pos.set:
		idx = resolveInsertIndex(where.Pos, len(q.items))
	}

	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = it
	return Result{Item: it.Clone(), QSize: len(q.items)}, nil
}

// Get returns the item addressed by sel without mutating the queue.
func (q *Queue) Get(sel Selector) (*item.Item, error) {
	if sel.selectorCount() > 1 {
		return nil, ErrAmbiguous
	}
	if q.running != nil && sel.UID != "" && q.running.ItemUID == sel.UID {
		return nil, ErrItemRunning
	}
	idx, it, err := q.resolve(sel)
	if err != nil {
		return nil, err
	}
	if it != nil {
		return it.Clone(), nil
	}
	_ = idx
	return nil, ErrNotFound
}

// Remove removes and returns the item addressed by sel.
func (q *Queue) Remove(sel Selector) (Result, error) {
	if sel.selectorCount() > 1 {
		return Result{}, ErrAmbiguous
	}
	if q.running != nil && sel.UID != "" && q.running.ItemUID == sel.UID {
		return Result{}, ErrCannotRemoveRunning
	}
	idx, it, err := q.resolve(sel)
	if err != nil {
		return Result{}, err
	}
	if it == nil {
		return Result{}, ErrFailedToRemoveItem
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return Result{Item: it.Clone(), QSize: len(q.items)}, nil
}

// resolve looks up sel by uid (linear scan of the queued items only; the
// running slot is checked by the callers before this is called) or by
// position, failing rather than clamping out-of-range.
func (q *Queue) resolve(sel Selector) (int, *item.Item, error) {
	if sel.UID != "" {
		idx, ok := q.findIndex(sel.UID)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %q", ErrFailedToGetItem, sel.UID)
		}
		return idx, q.items[idx], nil
	}
	idx, ok := resolveSelectIndex(sel.Pos, len(q.items))
	if !ok {
		return 0, nil, ErrFailedToGetItem
	}
	return idx, q.items[idx], nil
}

func (q *Queue) findIndex(uid string) (int, bool) {
	for i, it := range q.items {
		if it.ItemUID == uid {
			return i, true
		}
	}
	return 0, false
}

// Move relocates the item at src to the position described by dst. Moving
// an item onto itself is a no-op that still succeeds.
func (q *Queue) Move(src MoveSrc, dst MoveDst) (Result, error) {
	if src.selectorCount() > 1 || dst.selectorCount() > 1 {
		return Result{}, ErrAmbiguous
	}
	srcIdx, ok := q.resolveMoveSrc(src)
	if !ok {
		return Result{}, ErrSourceMissing
	}
	it := q.items[srcIdx]

	dstIdx, selfNoop, err := q.resolveMoveDst(dst, it.ItemUID, srcIdx)
	if err != nil {
		return Result{}, err
	}
	if selfNoop {
		return Result{Item: it.Clone(), QSize: len(q.items)}, nil
	}

	q.items = append(q.items[:srcIdx], q.items[srcIdx+1:]...)
	if dstIdx > srcIdx {
		dstIdx--
	}
	q.items = append(q.items, nil)
	copy(q.items[dstIdx+1:], q.items[dstIdx:])
	q.items[dstIdx] = it
	return Result{Item: it.Clone(), QSize: len(q.items)}, nil
}

func (q *Queue) resolveMoveSrc(src MoveSrc) (int, bool) {
	if src.UID != "" {
		return q.findIndex(src.UID)
	}
	return resolveSelectIndex(src.Pos, len(q.items))
}

func (q *Queue) resolveMoveDst(dst MoveDst, srcUID string, srcIdx int) (idx int, selfNoop bool, err error) {
	switch {
	case dst.BeforeUID != "":
		if dst.BeforeUID == srcUID {
			return 0, true, nil
		}
		target, ok := q.findIndex(dst.BeforeUID)
		if !ok {
			return 0, false, ErrDestinationMissing
		}
		return target, false, nil
	case dst.AfterUID != "":
		if dst.AfterUID == srcUID {
			return 0, true, nil
		}
		target, ok := q.findIndex(dst.AfterUID)
		if !ok {
			return 0, false, ErrDestinationMissing
		}
		return target + 1, false, nil
	default:
		target := resolveInsertIndex(dst.PosDest, len(q.items))
		if target == srcIdx || target == srcIdx+1 {
			return 0, true, nil
		}
		return target, false, nil
	}
}

// Clear empties the queue (not the running slot, not history).
func (q *Queue) Clear() {
	q.items = nil
}

// GetAll returns the current queue and running slot without mutating state.
func (q *Queue) GetAll() ([]*item.Item, *item.Item) {
	out := make([]*item.Item, len(q.items))
	for i, it := range q.items {
		out[i] = it.Clone()
	}
	return out, q.running.Clone()
}

// Size returns the number of items waiting in the queue (excluding the
// running slot).
func (q *Queue) Size() int { return len(q.items) }

// Running returns the item currently in the running slot, or nil.
func (q *Queue) Running() *item.Item { return q.running.Clone() }

// PeekFront returns the head item without removing it, or nil if empty.
func (q *Queue) PeekFront() *item.Item {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].Clone()
}

// PopFrontInstruction removes and returns the head item only if it is an
// instruction; otherwise it returns (nil, false) and leaves the queue
// untouched. Instructions are never promoted to the running slot.
func (q *Queue) PopFrontInstruction() (*item.Item, bool) {
	if len(q.items) == 0 || !q.items[0].IsInstruction() {
		return nil, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

// PopFrontToRunning atomically moves the front plan into the running slot.
func (q *Queue) PopFrontToRunning() (*item.Item, error) {
	if q.running != nil {
		return nil, ErrRunningSlotOccupied
	}
	if len(q.items) == 0 {
		return nil, ErrNotFound
	}
	it := q.items[0]
	q.items = q.items[1:]
	q.running = it
	return it.Clone(), nil
}

// CommitRunning moves the running slot into history with the given result,
// clearing the running slot.
func (q *Queue) CommitRunning(res ExecResult) (*item.Item, error) {
	if q.running == nil {
		return nil, ErrNoRunningItem
	}
	it := q.running
	q.running = nil
	q.history = append(q.history, HistoryEntry{Item: it.Clone(), Result: res})
	return it.Clone(), nil
}

// History returns the append-only completed-item history.
func (q *Queue) History() []HistoryEntry {
	out := make([]HistoryEntry, len(q.history))
	for i, h := range q.history {
		out[i] = HistoryEntry{Item: h.Item.Clone(), Result: h.Result}
	}
	return out
}

// HistoryLen returns the number of completed items in history.
func (q *Queue) HistoryLen() int { return len(q.history) }

// ClearHistory empties the history (history_clear).
func (q *Queue) ClearHistory() {
	q.history = nil
}

// RestoreHistory appends a single history entry verbatim, used only when
// rehydrating a Queue from a persisted image: history is otherwise
// append-only through CommitRunning.
func (q *Queue) RestoreHistory(entry HistoryEntry) {
	q.history = append(q.history, entry)
}
