// Package rpc implements the request/reply protocol clients observe: typed
// parameter structs for every method, a dispatcher that serializes mutating
// handlers through the manager and lets read-only handlers run
// concurrently, and the reply envelope rules (no plan/instruction echo when
// the request carried none, qsize only on successful queue mutations). The
// custom
// position-value decoding uses a hand-rolled UnmarshalJSON for the open,
// ambiguous wire shapes the position field can take.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/bluesky-project/qserver/internal/queue"
)

// PosValue is the wire encoding of a position selector: the string "front",
// the string "back", or a signed integer.
type PosValue struct {
	raw json.RawMessage
}

// UnmarshalJSON stores the raw value for later resolution against a queue
// size, since "front"/"back"/int all need different queue.Pos constructors.
func (p *PosValue) UnmarshalJSON(data []byte) error {
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON round-trips the stored raw value.
func (p PosValue) MarshalJSON() ([]byte, error) {
	if p.raw == nil {
		return []byte("null"), nil
	}
	return p.raw, nil
}

// Resolve converts the wire value into a queue.Pos.
func (p *PosValue) Resolve() (queue.Pos, error) {
	if p == nil || len(p.raw) == 0 {
		return queue.Pos{}, fmt.Errorf("missing position value")
	}
	var s string
	if err := json.Unmarshal(p.raw, &s); err == nil {
		switch s {
		case "front":
			return queue.PosFront(), nil
		case "back":
			return queue.PosBack(), nil
		default:
			return queue.Pos{}, fmt.Errorf("invalid position %q", s)
		}
	}
	var n int
	if err := json.Unmarshal(p.raw, &n); err == nil {
		return queue.PosInt(n), nil
	}
	return queue.Pos{}, fmt.Errorf("position must be \"front\", \"back\", or an integer")
}

// Envelope is the common reply shape every method produces: every reply
// carries at minimum {success, msg}.
type Envelope struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`

	// QSize is present on successful queue_item_add/remove/move replies and
	// omitted from every other reply, failed mutations included: the
	// envelope never carries an explicit null qsize.
	QSize *int `json:"qsize,omitempty"`

	// Item, Plan, and Instruction are echoed only when the request itself
	// carried item information, and absent otherwise so clients can detect
	// malformed requests.
	Item        *wireItem  `json:"item,omitempty"`
	Plan        *wirePlan  `json:"plan,omitempty"`
	Instruction *wireInstr `json:"instruction,omitempty"`

	Queue          []*wireItem              `json:"queue,omitempty"`
	RunningItem    json.RawMessage          `json:"running_item,omitempty"`
	History        []*wireHistoryEntry      `json:"history,omitempty"`
	RunList        []wireRunRecord          `json:"run_list,omitempty"`
	PlansAllowed   map[string]wireSignature `json:"plans_allowed,omitempty"`
	DevicesAllowed map[string]bool          `json:"devices_allowed,omitempty"`

	// Status envelope fields, flattened into the same envelope for
	// ping/status replies.
	ManagerState            string `json:"manager_state,omitempty"`
	ItemsInQueue            *int   `json:"items_in_queue,omitempty"`
	ItemsInHistory          *int   `json:"items_in_history,omitempty"`
	RunningItemUID          string `json:"running_item_uid,omitempty"`
	WorkerEnvironmentExists *bool  `json:"worker_environment_exists,omitempty"`
	RunListUID              string `json:"run_list_uid,omitempty"`
	QueueStopPending        *bool  `json:"queue_stop_pending,omitempty"`

	// ErrorName is the stable, machine-readable goa.ServiceError name for a
	// failed reply (e.g. "bad_state", "item_not_found"); empty on success.
	ErrorName string `json:"error_name,omitempty"`
}

func ok(msg string) Envelope { return Envelope{Success: true, Msg: msg} }

// fail classifies err into a goa.ServiceError and builds the failure
// envelope from it: Msg keeps the exact error text callers already match
// substrings against, ErrorName adds the service error's stable class.
func fail(err error) Envelope {
	svcErr := classify(err)
	return Envelope{Success: false, Msg: svcErr.Message, ErrorName: svcErr.Name}
}
func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
