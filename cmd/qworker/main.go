// Command qworker is the out-of-process worker the manager spawns and
// supervises: it reads Content-Length-framed JSON-RPC commands on stdin,
// executes them against a simulated run engine, and pushes run-open/close
// and plan-finished events back on stdout using the same framing. Pairs
// with internal/worker/procworker, which speaks the client side of this
// same protocol.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/statemachine"
	"github.com/bluesky-project/qserver/internal/worker"
	"github.com/bluesky-project/qserver/internal/worker/inmem"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

type rpcRequest struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func run(stdin io.Reader, stdout io.Writer) error {
	w := inmem.New(nil)

	var writeMu sync.Mutex
	write := func(resp rpcResponse) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := io.WriteString(stdout, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))); err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}

	go forwardEvents(w, write)

	reader := bufio.NewReader(stdin)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			return nil
		}
		var req rpcRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		handleRequest(w, req, write)
	}
}

func handleRequest(w *inmem.Worker, req rpcRequest, write func(rpcResponse) error) {
	ctx := context.Background()
	var result any
	var callErr error

	switch req.Method {
	case "start_plan":
		var it item.Item
		if err := json.Unmarshal(req.Params, &it); err != nil {
			callErr = err
			break
		}
		callErr = w.StartPlan(ctx, &it)
	case "pause":
		var p struct {
			Option statemachine.PauseOption `json:"option"`
		}
		_ = json.Unmarshal(req.Params, &p)
		callErr = w.Pause(ctx, p.Option)
	case "resume":
		callErr = w.Resume(ctx)
	case "stop":
		callErr = w.Stop(ctx)
	case "abort":
		callErr = w.Abort(ctx)
	case "halt":
		callErr = w.Halt(ctx)
	case "shutdown":
		callErr = w.Shutdown(ctx)
	case "ping":
		callErr = w.Ping(ctx)
	default:
		callErr = errors.New("unknown method: " + req.Method)
	}

	resp := rpcResponse{ID: req.ID}
	if callErr != nil {
		resp.Error = &rpcError{Message: callErr.Error()}
	} else if result != nil {
		data, _ := json.Marshal(result)
		resp.Result = data
	}
	_ = write(resp)
}

// forwardEvents relays w's event stream onto stdout as unsolicited
// notifications (no id), matching what internal/worker/procworker expects.
func forwardEvents(w *inmem.Worker, write func(rpcResponse) error) {
	for evt := range w.Events() {
		payload, err := json.Marshal(struct {
			Type    worker.EventType `json:"type"`
			RunUID  string           `json:"run_uid"`
			Success bool             `json:"success"`
			Msg     string           `json:"msg"`
		}{Type: evt.Type, RunUID: evt.RunUID, Success: evt.Success, Msg: evt.Msg})
		if err != nil {
			continue
		}
		_ = write(rpcResponse{Method: "event", Params: payload})
	}
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
