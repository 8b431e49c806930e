package telemetry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/telemetry"
)

func TestItemFields_Plan(t *testing.T) {
	it := &item.Item{
		ItemUID:   "item-1",
		ItemType:  item.TypePlan,
		User:      "alice",
		UserGroup: "admin",
		Plan:      &item.Plan{Name: "count"},
	}
	fields := telemetry.ItemFields(it)
	require.Equal(t, []any{
		"item_uid", "item-1",
		"item_type", "plan",
		"user", "alice",
		"user_group", "admin",
		"plan_name", "count",
	}, fields)
}

func TestItemFields_Instruction(t *testing.T) {
	it := &item.Item{
		ItemUID:     "item-2",
		ItemType:    item.TypeInstruction,
		User:        "bob",
		UserGroup:   "admin",
		Instruction: &item.Instruction{Action: item.ActionQueueStop},
	}
	fields := telemetry.ItemFields(it)
	require.Equal(t, []any{
		"item_uid", "item-2",
		"item_type", "instruction",
		"user", "bob",
		"user_group", "admin",
	}, fields)
}

func TestItemFields_Nil(t *testing.T) {
	require.Nil(t, telemetry.ItemFields(nil))
}

func TestItemTags_Plan(t *testing.T) {
	it := &item.Item{ItemType: item.TypePlan, Plan: &item.Plan{Name: "count"}}
	require.Equal(t, []string{"item_type", "plan", "plan_name", "count"}, telemetry.ItemTags(it))
}

func TestItemTags_Nil(t *testing.T) {
	require.Nil(t, telemetry.ItemTags(nil))
}

func TestRunFields(t *testing.T) {
	require.Equal(t, []any{"item_uid", "item-1", "run_uid", "run-a", "run_state", "opened"},
		telemetry.RunFields("item-1", "run-a", true))
	require.Equal(t, []any{"item_uid", "item-1", "run_uid", "run-a", "run_state", "closed"},
		telemetry.RunFields("item-1", "run-a", false))
}
