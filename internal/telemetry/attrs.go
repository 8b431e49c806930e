package telemetry

import "github.com/bluesky-project/qserver/internal/item"

// ItemFields returns Logger keyvals describing it: item_uid, item_type,
// user/user_group, and the plan name when it is a plan. The manager's log
// lines for queue_item_add, plan start, plan finish, and worker death use
// it so they carry the item they're about instead of a bare message.
func ItemFields(it *item.Item) []any {
	if it == nil {
		return nil
	}
	fields := []any{
		"item_uid", it.ItemUID,
		"item_type", string(it.ItemType),
		"user", it.User,
		"user_group", it.UserGroup,
	}
	if it.Plan != nil {
		fields = append(fields, "plan_name", it.Plan.Name)
	}
	return fields
}

// ItemTags returns Metrics string-pair tags for it: item_type, and the plan
// name when it is a plan. Unlike ItemFields it leaves out item_uid, user,
// and user_group.
func ItemTags(it *item.Item) []string {
	if it == nil {
		return nil
	}
	tags := []string{"item_type", string(it.ItemType)}
	if it.Plan != nil {
		tags = append(tags, "plan_name", it.Plan.Name)
	}
	return tags
}

// RunFields returns Logger keyvals for a sub-run open/close event.
func RunFields(itemUID, runUID string, opened bool) []any {
	state := "closed"
	if opened {
		state = "opened"
	}
	return []any{"item_uid", itemUID, "run_uid", runUID, "run_state", state}
}
