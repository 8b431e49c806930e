package rpc

import (
	"context"
	"fmt"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/manager"
	"github.com/bluesky-project/qserver/internal/queue"
)

// Dispatcher routes decoded Requests to the current Manager instance.
// Mutating handlers rely entirely on the Manager's own mutation lock for
// serialization; the Dispatcher itself holds no lock, relying on that
// single mutation lock to serialize all writers without adding a second
// one in front of it.
type Dispatcher struct {
	// CurrentManager returns the live Manager instance. Re-fetched on every
	// call since the self-supervisor may swap it out after a restart.
	CurrentManager func() *manager.Manager
	// OnManagerStop is invoked for manager_stop, after which the dispatcher
	// returns no reply and the caller is expected to terminate the process.
	OnManagerStop func(option string)
}

// errUnknownMethod is returned for any method name the dispatcher does not
// recognize; unknown methods yield unknown_method.
var errUnknownMethod = fmt.Errorf("unknown_method")

// Handle decodes and routes req, returning the reply envelope and whether a
// reply should be sent at all. manager_kill and manager_stop return
// ok=false: no reply is sent on those paths.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Envelope, bool) {
	m := d.CurrentManager()
	if m == nil {
		return fail(fmt.Errorf("manager is not available")), true
	}

	switch req.Method {
	case "ping", "status":
		return d.status(m), true

	case "queue_get":
		return d.queueGet(m), true

	case "queue_item_add":
		return d.queueItemAdd(m, req), true

	case "queue_item_get":
		return d.queueItemGet(m, req), true

	case "queue_item_remove":
		return d.queueItemRemove(m, req), true

	case "queue_item_move":
		return d.queueItemMove(m, req), true

	case "queue_clear":
		m.QueueClear()
		return ok(""), true

	case "queue_start":
		if err := m.QueueStart(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "queue_stop":
		m.QueueStop()
		return ok(""), true

	case "queue_stop_cancel":
		m.QueueStopCancel()
		return ok(""), true

	case "history_get":
		return Envelope{Success: true, History: toWireHistory(m.HistoryGet())}, true

	case "history_clear":
		m.HistoryClear()
		return ok(""), true

	case "environment_open":
		if err := m.EnvironmentOpen(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "environment_close":
		if err := m.EnvironmentClose(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "environment_destroy":
		if err := m.EnvironmentDestroy(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "re_pause":
		return d.rePause(ctx, m, req), true

	case "re_resume":
		if err := m.ReResume(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "re_stop":
		if err := m.ReStop(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "re_abort":
		if err := m.ReAbort(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "re_halt":
		if err := m.ReHalt(ctx); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "re_runs":
		return d.reRuns(m, req), true

	case "plans_allowed":
		return d.plansAllowed(m, req), true

	case "devices_allowed":
		return d.devicesAllowed(m, req), true

	case "permissions_reload":
		if err := m.PermissionsReload(); err != nil {
			return fail(err), true
		}
		return ok(""), true

	case "manager_stop":
		if d.OnManagerStop != nil {
			params, err := decodeParams[ManagerStopParams](req.Params)
			if err != nil {
				return fail(err), true
			}
			d.OnManagerStop(params.Option)
		}
		return Envelope{}, false

	case "manager_kill":
		m.ManagerKill()
		return Envelope{}, false

	default:
		return fail(errUnknownMethod), true
	}
}

func (d *Dispatcher) status(m *manager.Manager) Envelope {
	s := m.Status()
	return Envelope{
		Success:                 true,
		Msg:                     s.Msg,
		ManagerState:            string(s.ManagerState),
		ItemsInQueue:            intPtr(s.ItemsInQueue),
		ItemsInHistory:          intPtr(s.ItemsInHistory),
		RunningItemUID:          s.RunningItemUID,
		WorkerEnvironmentExists: boolPtr(s.WorkerEnvironmentExists),
		RunListUID:              s.RunListUID,
		QueueStopPending:        boolPtr(s.QueueStopPending),
	}
}

func (d *Dispatcher) queueGet(m *manager.Manager) Envelope {
	items, running := m.QueueGetAll()
	return Envelope{
		Success:     true,
		Queue:       toWireItems(items),
		RunningItem: runningItemRaw(running),
	}
}

func (d *Dispatcher) queueItemAdd(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[QueueItemAddParams](req.Params)
	if err != nil {
		return fail(err)
	}
	where, err := params.where()
	if err != nil {
		return fail(err)
	}
	res, err := m.QueueItemAdd(params.raw(), params.User, params.UserGroup, where)
	if err != nil {
		return fail(err)
	}
	return envelopeFromResult(res, req)
}

func (d *Dispatcher) queueItemGet(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[QueueItemSelectParams](req.Params)
	if err != nil {
		return fail(err)
	}
	sel, err := params.selector()
	if err != nil {
		return fail(err)
	}
	it, err := m.QueueItemGet(sel)
	if err != nil {
		return fail(err)
	}
	return Envelope{Success: true, Item: toWireItem(it)}
}

func (d *Dispatcher) queueItemRemove(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[QueueItemSelectParams](req.Params)
	if err != nil {
		return fail(err)
	}
	sel, err := params.selector()
	if err != nil {
		return fail(err)
	}
	res, err := m.QueueItemRemove(sel)
	if err != nil {
		return fail(err)
	}
	return Envelope{Success: true, Item: toWireItem(res.Item), QSize: intPtr(res.QSize)}
}

func (d *Dispatcher) queueItemMove(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[QueueItemMoveParams](req.Params)
	if err != nil {
		return fail(err)
	}
	src, dst, err := params.srcDst()
	if err != nil {
		return fail(err)
	}
	res, err := m.QueueItemMove(src, dst)
	if err != nil {
		return fail(err)
	}
	return Envelope{Success: true, Item: toWireItem(res.Item), QSize: intPtr(res.QSize)}
}

func (d *Dispatcher) rePause(ctx context.Context, m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[RePauseParams](req.Params)
	if err != nil {
		return fail(err)
	}
	if err := m.RePause(ctx, params.Option); err != nil {
		return fail(err)
	}
	return ok("")
}

func (d *Dispatcher) reRuns(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[ReRunsParams](req.Params)
	if err != nil {
		return fail(err)
	}
	return Envelope{Success: true, RunList: toWireRunList(m.RunList(params.option()))}
}

func (d *Dispatcher) plansAllowed(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[GroupParams](req.Params)
	if err != nil {
		return fail(err)
	}
	return Envelope{Success: true, PlansAllowed: toWireSignatures(m.PlansAllowed(params.UserGroup))}
}

func (d *Dispatcher) devicesAllowed(m *manager.Manager, req Request) Envelope {
	params, err := decodeParams[GroupParams](req.Params)
	if err != nil {
		return fail(err)
	}
	return Envelope{Success: true, DevicesAllowed: m.DevicesAllowed(params.UserGroup)}
}

// envelopeFromResult builds the queue_item_add reply, echoing back whichever
// of plan/instruction the request actually carried. Replies must not
// include a plan/instruction key when the request had no item info.
func envelopeFromResult(res queue.Result, req Request) Envelope {
	env := Envelope{Success: true, QSize: intPtr(res.QSize)}
	if res.Item == nil {
		return env
	}
	switch res.Item.ItemType {
	case item.TypePlan:
		if res.Item.Plan != nil {
			w := toWireItem(res.Item)
			env.Plan = w.Plan
			env.Item = w
		}
	case item.TypeInstruction:
		if res.Item.Instruction != nil {
			w := toWireItem(res.Item)
			env.Instruction = w.Instruction
			env.Item = w
		}
	}
	return env
}
