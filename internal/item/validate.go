package item

import (
	"fmt"

	"github.com/bluesky-project/qserver/internal/catalogue"
)

// Raw is the client-supplied, not-yet-validated payload for
// queue_item_add: exactly one of Plan or Instruction must be set.
type Raw struct {
	Plan        *Plan
	Instruction *Instruction
}

// UIDGenerator mints fresh item identifiers. Satisfied by ident.Service.
type UIDGenerator interface {
	NewUID() string
}

// Validator turns a Raw payload plus attribution into a canonical Item,
// consulting a Catalogue for plan/device allow-listing.
type Validator struct {
	Catalogue catalogue.Catalogue
	UIDs      UIDGenerator
}

// NewValidator constructs a Validator.
func NewValidator(cat catalogue.Catalogue, uids UIDGenerator) *Validator {
	return &Validator{Catalogue: cat, UIDs: uids}
}

// Validate turns validate(raw, user, user_group) into (item, ok) | error.
// Any client-supplied item_uid is discarded; a fresh one is always stamped
// on success.
func (v *Validator) Validate(raw Raw, user, userGroup string) (*Item, error) {
	if user == "" {
		return nil, ErrMissingUser
	}
	if userGroup == "" {
		return nil, ErrMissingUserGroup
	}
	if !v.Catalogue.KnownGroup(userGroup) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUserGroup, userGroup)
	}
	switch {
	case raw.Plan != nil:
		return v.validatePlan(raw.Plan, user, userGroup)
	case raw.Instruction != nil:
		return v.validateInstruction(raw.Instruction, user, userGroup)
	default:
		return nil, ErrNoItem
	}
}

func (v *Validator) validatePlan(p *Plan, user, userGroup string) (*Item, error) {
	sig, ok := v.Catalogue.PlanSignature(userGroup, p.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, p.Name)
	}
	if sig.PositionalCount >= 0 && len(p.Args) != sig.PositionalCount {
		return nil, fmt.Errorf("%w: plan %q expects %d positional argument(s), got %d",
			ErrBadPlanSignature, p.Name, sig.PositionalCount, len(p.Args))
	}
	if sig.AllowedKwargs != nil {
		for k := range p.Kwargs {
			if !sig.AllowedKwargs[k] {
				return nil, fmt.Errorf("%w: plan %q does not accept keyword argument %q",
					ErrBadPlanSignature, p.Name, k)
			}
		}
	}
	plan := *p
	return &Item{
		ItemUID:   v.UIDs.NewUID(),
		ItemType:  TypePlan,
		User:      user,
		UserGroup: userGroup,
		Plan:      &plan,
	}, nil
}

func (v *Validator) validateInstruction(in *Instruction, user, userGroup string) (*Item, error) {
	if in.Action != ActionQueueStop {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}
	instr := *in
	return &Item{
		ItemUID:     v.UIDs.NewUID(),
		ItemType:    TypeInstruction,
		User:        user,
		UserGroup:   userGroup,
		Instruction: &instr,
	}, nil
}
