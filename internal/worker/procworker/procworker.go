// Package procworker runs the worker as a genuine child process and
// exchanges commands/events with it over stdio: Content-Length-prefixed
// JSON-RPC messages, a pending-request map keyed by request id, and a
// single read-loop goroutine. Unsolicited frames (no id) are treated as
// worker-pushed events (run_opened, run_closed, plan_finished, heartbeat)
// rather than RPC replies.
package procworker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/worker"
)

// Options configures the spawned worker process.
type Options struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// Worker is a worker.Transport implementation backed by a child process.
type Worker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse
	nextID    uint64

	writeMu sync.Mutex

	events    chan worker.Event
	closed    chan struct{}
	closeOnce sync.Once
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) asError() error {
	return fmt.Errorf("worker error %d: %s", e.Code, e.Message)
}

// Spawn launches the worker binary and returns a ready Worker. The caller
// owns the returned Worker's lifetime and must call Kill to release the
// child process.
func Spawn(ctx context.Context, opts Options) (*Worker, error) {
	if opts.Command == "" {
		return nil, errors.New("worker command is required")
	}
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	w := &Worker{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[uint64]chan rpcResponse),
		events:  make(chan worker.Event, 64),
		closed:  make(chan struct{}),
	}
	go w.readLoop(stdout)
	if stderr != nil {
		go func() { _, _ = io.Copy(io.Discard, stderr) }()
	}
	return w, nil
}

func (w *Worker) Events() <-chan worker.Event { return w.events }

func (w *Worker) StartPlan(ctx context.Context, it *item.Item) error {
	var result struct{}
	return w.call(ctx, "start_plan", it, &result)
}

func (w *Worker) Pause(ctx context.Context, opt worker.PauseOption) error {
	return w.call(ctx, "pause", map[string]any{"option": opt}, nil)
}

func (w *Worker) Resume(ctx context.Context) error  { return w.call(ctx, "resume", nil, nil) }
func (w *Worker) Stop(ctx context.Context) error    { return w.call(ctx, "stop", nil, nil) }
func (w *Worker) Abort(ctx context.Context) error   { return w.call(ctx, "abort", nil, nil) }
func (w *Worker) Halt(ctx context.Context) error    { return w.call(ctx, "halt", nil, nil) }
func (w *Worker) Shutdown(ctx context.Context) error { return w.call(ctx, "shutdown", nil, nil) }
func (w *Worker) Ping(ctx context.Context) error    { return w.call(ctx, "ping", nil, nil) }

// Kill force-terminates the worker process.
func (w *Worker) Kill() error {
	var err error
	w.closeOnce.Do(func() {
		if w.stdin != nil {
			_ = w.stdin.Close()
		}
		if w.cmd != nil && w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		if w.cmd != nil {
			err = w.cmd.Wait()
		}
		close(w.closed)
	})
	return err
}

func (w *Worker) call(ctx context.Context, method string, params any, result any) error {
	id := w.next()
	ch := make(chan rpcResponse, 1)
	w.pendingMu.Lock()
	w.pending[id] = ch
	w.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := w.writeMessage(req); err != nil {
		w.removePending(id)
		return err
	}

	select {
	case res := <-ch:
		if res.Error != nil {
			return res.Error.asError()
		}
		if result != nil && res.Result != nil {
			return json.Unmarshal(res.Result, result)
		}
		return nil
	case <-ctx.Done():
		w.removePending(id)
		return ctx.Err()
	case <-w.closed:
		return errors.New("worker process closed")
	}
}

func (w *Worker) writeMessage(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if _, err := io.WriteString(w.stdin, header); err != nil {
		return err
	}
	_, err = w.stdin.Write(data)
	return err
}

func (w *Worker) readLoop(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			w.failPending(err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			continue
		}
		if resp.ID == 0 {
			w.dispatchEvent(resp)
			continue
		}
		w.pendingMu.Lock()
		ch, ok := w.pending[resp.ID]
		if ok {
			delete(w.pending, resp.ID)
		}
		w.pendingMu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// dispatchEvent converts an unsolicited "event" notification into a
// worker.Event and fans it out, dropping it if the buffer is full rather
// than blocking the read loop.
func (w *Worker) dispatchEvent(resp rpcResponse) {
	if resp.Method != "event" || resp.Params == nil {
		return
	}
	var payload struct {
		Type    worker.EventType `json:"type"`
		RunUID  string           `json:"run_uid"`
		Success bool             `json:"success"`
		Msg     string           `json:"msg"`
	}
	if err := json.Unmarshal(resp.Params, &payload); err != nil {
		return
	}
	evt := worker.Event{Type: payload.Type, RunUID: payload.RunUID, Success: payload.Success, Msg: payload.Msg}
	select {
	case w.events <- evt:
	default:
	}
}

func (w *Worker) failPending(err error) {
	w.pendingMu.Lock()
	for id, ch := range w.pending {
		delete(w.pending, id)
		ch <- rpcResponse{Error: &rpcError{Message: err.Error()}}
		close(ch)
	}
	w.pendingMu.Unlock()
	close(w.events)
}

func (w *Worker) removePending(id uint64) {
	w.pendingMu.Lock()
	delete(w.pending, id)
	w.pendingMu.Unlock()
}

func (w *Worker) next() uint64 {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.nextID++
	return w.nextID
}

func readFrame(reader *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		if after, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return nil, err
			}
			length = n
		}
	}
	if length < 0 {
		return nil, errors.New("content-length header missing")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

var _ worker.Transport = (*Worker)(nil)
