package item_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluesky-project/qserver/internal/catalogue"
	"github.com/bluesky-project/qserver/internal/catalogue/memory"
	"github.com/bluesky-project/qserver/internal/ident"
	"github.com/bluesky-project/qserver/internal/item"
)

func validator() *item.Validator {
	cat := memory.New(memory.Snapshot{
		Groups: map[string]bool{"admin": true},
		Plans: map[string]map[string]catalogue.Signature{
			"admin": {
				"count": {PositionalCount: 1, AllowedKwargs: map[string]bool{"num": true}},
				"any_args": {PositionalCount: -1},
			},
		},
	})
	return item.NewValidator(cat, ident.NewFixed("uid-1"))
}

func TestValidate_MissingUser(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "count"}}, "", "admin")
	require.ErrorIs(t, err, item.ErrMissingUser)
}

func TestValidate_MissingUserGroup(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "count"}}, "alice", "")
	require.ErrorIs(t, err, item.ErrMissingUserGroup)
}

func TestValidate_UnknownUserGroup(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "count"}}, "alice", "nobody")
	require.ErrorIs(t, err, item.ErrUnknownUserGroup)
}

func TestValidate_NoItem(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{}, "alice", "admin")
	require.ErrorIs(t, err, item.ErrNoItem)
}

func TestValidate_UnknownPlan(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "nonexistent"}}, "alice", "admin")
	require.ErrorIs(t, err, item.ErrUnknownPlan)
}

func TestValidate_BadPositionalCount(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "count", Args: []any{1, 2}}}, "alice", "admin")
	require.ErrorIs(t, err, item.ErrBadPlanSignature)
}

func TestValidate_DisallowedKwarg(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Plan: &item.Plan{
		Name: "count", Args: []any{1}, Kwargs: map[string]any{"bogus": true},
	}}, "alice", "admin")
	require.ErrorIs(t, err, item.ErrBadPlanSignature)
}

func TestValidate_PlanSuccess_StampsFreshUID(t *testing.T) {
	t.Parallel()
	v := validator()
	it, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "count", Args: []any{1}}}, "alice", "admin")
	require.NoError(t, err)
	require.Equal(t, "uid-1", it.ItemUID)
	require.Equal(t, item.TypePlan, it.ItemType)
	require.Equal(t, "alice", it.User)
}

func TestValidate_ClientSuppliedUIDIsDiscarded(t *testing.T) {
	// Raw has no item_uid field, so a client-supplied uid cannot reach
	// Validate at all; what remains to check is that one is always stamped.
	t.Parallel()
	v := validator()
	it, err := v.Validate(item.Raw{Plan: &item.Plan{Name: "any_args"}}, "alice", "admin")
	require.NoError(t, err)
	require.NotEmpty(t, it.ItemUID)
}

func TestValidate_UnknownInstructionAction(t *testing.T) {
	t.Parallel()
	v := validator()
	_, err := v.Validate(item.Raw{Instruction: &item.Instruction{Action: "bogus"}}, "alice", "admin")
	require.ErrorIs(t, err, item.ErrUnknownAction)
}

func TestValidate_InstructionSuccess(t *testing.T) {
	t.Parallel()
	v := validator()
	it, err := v.Validate(item.Raw{Instruction: &item.Instruction{Action: item.ActionQueueStop}}, "alice", "admin")
	require.NoError(t, err)
	require.Equal(t, item.TypeInstruction, it.ItemType)
	require.Equal(t, item.ActionQueueStop, it.Instruction.Action)
}
