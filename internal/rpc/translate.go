package rpc

import (
	"encoding/json"

	"github.com/bluesky-project/qserver/internal/catalogue"
	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/runtracker"
)

type wirePlan struct {
	Name   string          `json:"name"`
	Args   []any           `json:"args,omitempty"`
	Kwargs map[string]any  `json:"kwargs,omitempty"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

type wireInstr struct {
	Action string `json:"action"`
}

type wireItem struct {
	ItemUID     string     `json:"item_uid"`
	ItemType    string     `json:"item_type"`
	User        string     `json:"user"`
	UserGroup   string     `json:"user_group"`
	Plan        *wirePlan  `json:"plan,omitempty"`
	Instruction *wireInstr `json:"instruction,omitempty"`
}

type wireHistoryEntry struct {
	Item   *wireItem      `json:"item"`
	Result wireExecResult `json:"result"`
}

type wireExecResult struct {
	RunUIDs    []string `json:"run_uids"`
	ExitStatus string   `json:"exit_status"`
	Msg        string   `json:"msg,omitempty"`
}

type wireRunRecord struct {
	UID    string `json:"uid"`
	IsOpen bool   `json:"is_open"`
}

type wireSignature struct {
	PositionalCount int      `json:"positional_count"`
	AllowedKwargs   []string `json:"allowed_kwargs,omitempty"`
}

func toWireItem(it *item.Item) *wireItem {
	if it == nil {
		return nil
	}
	w := &wireItem{
		ItemUID:   it.ItemUID,
		ItemType:  string(it.ItemType),
		User:      it.User,
		UserGroup: it.UserGroup,
	}
	if it.Plan != nil {
		w.Plan = &wirePlan{Name: it.Plan.Name, Args: it.Plan.Args, Kwargs: it.Plan.Kwargs, Meta: it.Plan.Meta}
	}
	if it.Instruction != nil {
		w.Instruction = &wireInstr{Action: string(it.Instruction.Action)}
	}
	return w
}

func toWireItems(items []*item.Item) []*wireItem {
	out := make([]*wireItem, len(items))
	for i, it := range items {
		out[i] = toWireItem(it)
	}
	return out
}

func toWireHistory(entries []queue.HistoryEntry) []*wireHistoryEntry {
	out := make([]*wireHistoryEntry, len(entries))
	for i, h := range entries {
		out[i] = &wireHistoryEntry{
			Item: toWireItem(h.Item),
			Result: wireExecResult{
				RunUIDs:    h.Result.RunUIDs,
				ExitStatus: string(h.Result.ExitStatus),
				Msg:        h.Result.Msg,
			},
		}
	}
	return out
}

func toWireRunList(records []runtracker.Record) []wireRunRecord {
	out := make([]wireRunRecord, len(records))
	for i, r := range records {
		out[i] = wireRunRecord{UID: r.UID, IsOpen: r.IsOpen}
	}
	return out
}

func toWireSignatures(sigs map[string]catalogue.Signature) map[string]wireSignature {
	out := make(map[string]wireSignature, len(sigs))
	for name, sig := range sigs {
		var kwargs []string
		for k := range sig.AllowedKwargs {
			kwargs = append(kwargs, k)
		}
		out[name] = wireSignature{PositionalCount: sig.PositionalCount, AllowedKwargs: kwargs}
	}
	return out
}

// runningItemRaw renders the running-item slot for queue_get: an item
// payload, or an empty object when nothing is running.
func runningItemRaw(it *item.Item) json.RawMessage {
	if it == nil {
		data, _ := json.Marshal(struct{}{})
		return data
	}
	data, _ := json.Marshal(toWireItem(it))
	return data
}
