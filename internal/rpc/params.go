package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/runtracker"
	"github.com/bluesky-project/qserver/internal/statemachine"
)

// Each Params type is the closed, typed variant of a method's dynamic
// parameter mapping: each method has a closed parameter variant with
// explicit optional fields, and ambiguous_params is detected structurally.

type QueueItemAddParams struct {
	Plan        *item.Plan        `json:"plan,omitempty"`
	Instruction *item.Instruction `json:"instruction,omitempty"`
	User        string            `json:"user,omitempty"`
	UserGroup   string            `json:"user_group,omitempty"`
	Pos         *PosValue         `json:"pos,omitempty"`
	BeforeUID   string            `json:"before_uid,omitempty"`
	AfterUID    string            `json:"after_uid,omitempty"`
}

func (p QueueItemAddParams) raw() item.Raw { return item.Raw{Plan: p.Plan, Instruction: p.Instruction} }

func (p QueueItemAddParams) where() (queue.Where, error) {
	var w queue.Where
	if p.Pos != nil {
		pos, err := p.Pos.Resolve()
		if err != nil {
			return queue.Where{}, err
		}
		w.Pos = pos
	}
	w.BeforeUID = p.BeforeUID
	w.AfterUID = p.AfterUID
	return w, nil
}

type QueueItemSelectParams struct {
	Pos *PosValue `json:"pos,omitempty"`
	UID string    `json:"uid,omitempty"`
}

func (p QueueItemSelectParams) selector() (queue.Selector, error) {
	var s queue.Selector
	if p.Pos != nil {
		pos, err := p.Pos.Resolve()
		if err != nil {
			return queue.Selector{}, err
		}
		s.Pos = pos
	}
	s.UID = p.UID
	return s, nil
}

type QueueItemMoveParams struct {
	Pos       *PosValue `json:"pos,omitempty"`
	UID       string    `json:"uid,omitempty"`
	PosDest   *PosValue `json:"pos_dest,omitempty"`
	BeforeUID string    `json:"before_uid,omitempty"`
	AfterUID  string    `json:"after_uid,omitempty"`
}

func (p QueueItemMoveParams) srcDst() (queue.MoveSrc, queue.MoveDst, error) {
	var src queue.MoveSrc
	if p.Pos != nil {
		pos, err := p.Pos.Resolve()
		if err != nil {
			return queue.MoveSrc{}, queue.MoveDst{}, err
		}
		src.Pos = pos
	}
	src.UID = p.UID

	var dst queue.MoveDst
	if p.PosDest != nil {
		pos, err := p.PosDest.Resolve()
		if err != nil {
			return queue.MoveSrc{}, queue.MoveDst{}, err
		}
		dst.PosDest = pos
	}
	dst.BeforeUID = p.BeforeUID
	dst.AfterUID = p.AfterUID
	return src, dst, nil
}

type RePauseParams struct {
	Option statemachine.PauseOption `json:"option"`
}

type ReRunsParams struct {
	Option runtracker.Option `json:"option,omitempty"`
}

func (p ReRunsParams) option() runtracker.Option {
	if p.Option == "" {
		return runtracker.OptionActive
	}
	return p.Option
}

type GroupParams struct {
	UserGroup string `json:"user_group"`
}

// ManagerStopParams carries manager_stop's optional shutdown option through
// to the OnManagerStop callback.
type ManagerStopParams struct {
	Option string `json:"option,omitempty"`
}

// Request is one decoded wire message: a method name plus its raw
// parameters, not yet typed to a specific Params struct.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid parameters: %w", err)
	}
	return v, nil
}
