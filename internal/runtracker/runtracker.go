// Package runtracker maintains the ordered list of sub-runs opened by the
// currently executing plan: open/closed flags, insertion order, and a
// monotonic run_list_uid token that changes on every structural change.
package runtracker

import (
	"context"
	"fmt"
)

// Option selects which subset of the run list a snapshot returns.
type Option string

const (
	OptionActive Option = "active"
	OptionOpen   Option = "open"
	OptionClosed Option = "closed"
)

// Record is one entry in the run list.
type Record struct {
	UID    string `json:"uid"`
	IsOpen bool   `json:"is_open"`
}

// Event is a structural change applied to the run list: opened(uid) or
// closed(uid).
type Event struct {
	UID    string
	Opened bool
}

// ErrUnknownRun is returned when a closed(uid) event names a uid that was
// never opened: an invariant violation.
var ErrUnknownRun = fmt.Errorf("closed event for unknown run uid")

// UIDGenerator mints fresh run_list_uid tokens. Satisfied by ident.Service.
type UIDGenerator interface {
	NewUID() string
}

// Sink receives every structural run-list change for optional external
// observability fan-out. The default Sink is a no-op;
// internal/runtracker/pulsesink wraps goa.design/pulse.
type Sink interface {
	Publish(ctx context.Context, itemUID string, runListUID string, records []Record) error
}

// NoopSink discards every publish.
type NoopSink struct{}

func (NoopSink) Publish(context.Context, string, string, []Record) error { return nil }

// Tracker maintains runs and run_list_uid for the currently executing
// plan.
type Tracker struct {
	uids       UIDGenerator
	sink       Sink
	runs       []Record
	index      map[string]int
	runListUID string
}

// New constructs a Tracker. sink may be nil, in which case NoopSink is used.
func New(uids UIDGenerator, sink Sink) *Tracker {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Tracker{
		uids:       uids,
		sink:       sink,
		index:      make(map[string]int),
		runListUID: uids.NewUID(),
	}
}

// RunListUID returns the current monotonic token.
func (t *Tracker) RunListUID() string { return t.runListUID }

// Apply applies a run-open or run-close event, rotating run_list_uid.
func (t *Tracker) Apply(ctx context.Context, itemUID string, evt Event) error {
	if evt.Opened {
		t.index[evt.UID] = len(t.runs)
		t.runs = append(t.runs, Record{UID: evt.UID, IsOpen: true})
	} else {
		idx, ok := t.index[evt.UID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRun, evt.UID)
		}
		t.runs[idx].IsOpen = false
	}
	t.rotate()
	return t.publish(ctx, itemUID)
}

// Reset clears the run list and rotates run_list_uid (plan finish, abort,
// or halt).
func (t *Tracker) Reset(ctx context.Context, itemUID string) error {
	t.runs = nil
	t.index = make(map[string]int)
	t.rotate()
	return t.publish(ctx, itemUID)
}

func (t *Tracker) rotate() {
	t.runListUID = t.uids.NewUID()
}

func (t *Tracker) publish(ctx context.Context, itemUID string) error {
	return t.sink.Publish(ctx, itemUID, t.runListUID, t.Snapshot(OptionActive))
}

// Snapshot returns the requested subset of the run list, preserving
// insertion order.
func (t *Tracker) Snapshot(opt Option) []Record {
	out := make([]Record, 0, len(t.runs))
	for _, r := range t.runs {
		switch opt {
		case OptionOpen:
			if r.IsOpen {
				out = append(out, r)
			}
		case OptionClosed:
			if !r.IsOpen {
				out = append(out, r)
			}
		default:
			out = append(out, r)
		}
	}
	return out
}
