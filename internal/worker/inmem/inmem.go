// Package inmem simulates the out-of-process worker with goroutines and
// channels for tests and local development: no real subprocess, no
// replay-safety, just enough behavior to exercise the supervisor and RPC
// surface.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/statemachine"
	"github.com/bluesky-project/qserver/internal/worker"
)

// Step is one scripted action a simulated plan execution performs.
type Step struct {
	// Delay is how long to wait before emitting this step, relative to the
	// previous one.
	Delay time.Duration
	// Open, if non-empty, opens a new sub-run with this uid.
	Open string
	// Close, if non-empty, closes a previously opened sub-run with this uid.
	Close string
}

// Script describes a plan execution as a sequence of run-open/close steps
// followed by a successful finish.
type Script []Step

// Scripter returns the Script to run for a given plan, letting tests control
// exactly which runs a plan opens and in what order, including the
// multi-run pattern where a plan opens more than one sub-run before
// finishing.
type Scripter func(*item.Item) Script

// DefaultScripter opens and closes a single run named after the item uid.
func DefaultScripter(it *item.Item) Script {
	return Script{
		{Open: it.ItemUID + "-run-1"},
		{Delay: time.Millisecond, Close: it.ItemUID + "-run-1"},
	}
}

// Worker is an in-memory worker.Transport implementation.
type Worker struct {
	scripter Scripter

	mu       sync.Mutex
	events   chan worker.Event
	cancel   context.CancelFunc
	resumeCh chan struct{}
	notify   chan struct{}
	killed   bool
	current  *item.Item
}

// New constructs an in-memory Worker. scripter may be nil, in which case
// DefaultScripter is used.
func New(scripter Scripter) *Worker {
	if scripter == nil {
		scripter = DefaultScripter
	}
	return &Worker{
		scripter: scripter,
		events:   make(chan worker.Event, 64),
		notify:   make(chan struct{}, 1),
	}
}

func (w *Worker) Events() <-chan worker.Event { return w.events }

func (w *Worker) Ping(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return errors.New("worker is not running")
	}
	return nil
}

// StartPlan runs the plan's scripted steps on a goroutine, emitting
// run_opened/run_closed events and finishing with plan_finished.
func (w *Worker) StartPlan(ctx context.Context, it *item.Item) error {
	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		return errors.New("worker is not running")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.current = it
	w.mu.Unlock()

	script := w.scripter(it)
	go w.run(runCtx, script)
	return nil
}

func (w *Worker) run(ctx context.Context, script Script) {
	for _, step := range script {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-w.notify:
			case <-ctx.Done():
				return
			}
		}
		if !w.waitIfPaused(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if step.Open != "" {
			w.emit(worker.Event{Type: worker.EventRunOpened, RunUID: step.Open})
		}
		if step.Close != "" {
			w.emit(worker.Event{Type: worker.EventRunClosed, RunUID: step.Close})
		}
	}
	if !w.waitIfPaused(ctx) {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}
	w.emit(worker.Event{Type: worker.EventPlanFinished, Success: true})
}

// waitIfPaused blocks the running script while a pause is in effect,
// returning false if the run was cancelled out from under the pause.
func (w *Worker) waitIfPaused(ctx context.Context) bool {
	w.mu.Lock()
	ch := w.resumeCh
	w.mu.Unlock()
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) emit(evt worker.Event) {
	select {
	case w.events <- evt:
	default:
	}
}

// Pause arms a block at the script's next checkpoint (between steps). A
// deferred pause only takes effect there; an immediate pause additionally
// wakes the run out of an in-progress step delay so it hits that checkpoint
// right away.
func (w *Worker) Pause(ctx context.Context, opt worker.PauseOption) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return errors.New("worker is not running")
	}
	if w.resumeCh == nil {
		w.resumeCh = make(chan struct{})
	}
	if opt == statemachine.PauseImmediate {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Resume releases a pause armed by Pause, letting the run proceed past its
// next checkpoint.
func (w *Worker) Resume(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return errors.New("worker is not running")
	}
	if w.resumeCh != nil {
		close(w.resumeCh)
		w.resumeCh = nil
	}
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.finishEarly(true, "stopped")
	return nil
}

func (w *Worker) Abort(ctx context.Context) error {
	w.finishEarly(false, "aborted")
	return nil
}

func (w *Worker) Halt(ctx context.Context) error {
	w.finishEarly(false, "halted")
	return nil
}

func (w *Worker) finishEarly(success bool, msg string) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.emit(worker.Event{Type: worker.EventPlanFinished, Success: success, Msg: msg})
}

func (w *Worker) Shutdown(ctx context.Context) error {
	return w.Kill()
}

// Kill force-terminates the simulated worker: stops accepting further
// commands and closes the event stream. Mirrors the real kill used by
// environment_destroy and the manager_kill test hook.
func (w *Worker) Kill() error {
	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		return nil
	}
	w.killed = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	close(w.events)
	return nil
}

var _ worker.Transport = (*Worker)(nil)
