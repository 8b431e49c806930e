// Package item defines the queue's unit of work: a tagged union of Plan and
// Instruction records sharing a common header, plus the validator that turns
// raw client-supplied payloads into canonical Items.
package item

import "encoding/json"

// Type distinguishes the two item kinds the queue can hold.
type Type string

const (
	// TypePlan marks an item as a plan to be forwarded to the worker's run
	// engine.
	TypePlan Type = "plan"
	// TypeInstruction marks an item as a control directive interpreted by
	// the manager itself and never forwarded to the worker.
	TypeInstruction Type = "instruction"
)

// Action enumerates the instruction actions the manager understands.
type Action string

// ActionQueueStop is the only instruction action in this system: consuming
// it returns the manager to idle without starting a worker cycle.
const ActionQueueStop Action = "queue_stop"

type (
	// Plan is a named executable unit with positional and keyword arguments,
	// runnable by the worker's run engine.
	Plan struct {
		Name   string          `json:"name"`
		Args   []any           `json:"args,omitempty"`
		Kwargs map[string]any  `json:"kwargs,omitempty"`
		Meta   json.RawMessage `json:"meta,omitempty"`
	}

	// Instruction is a control directive interpreted by the manager.
	Instruction struct {
		Action Action `json:"action"`
	}

	// Item is a queue entry: exactly one of Plan or Instruction is set,
	// selected by Type.
	Item struct {
		ItemUID   string       `json:"item_uid"`
		ItemType  Type         `json:"item_type"`
		User      string       `json:"user"`
		UserGroup string       `json:"user_group"`
		Plan      *Plan        `json:"plan,omitempty"`
		Instruction *Instruction `json:"instruction,omitempty"`
	}
)

// Clone returns a deep-enough copy of the item suitable for handing to
// callers without letting them mutate queue-internal state. Plan/Instruction
// payloads are themselves immutable from the caller's perspective once
// validated, so a shallow field copy plus pointer copy is sufficient.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	if i.Plan != nil {
		p := *i.Plan
		c.Plan = &p
	}
	if i.Instruction != nil {
		in := *i.Instruction
		c.Instruction = &in
	}
	return &c
}

// IsInstruction reports whether the item is a control instruction rather
// than a plan.
func (i *Item) IsInstruction() bool {
	return i != nil && i.ItemType == TypeInstruction
}
