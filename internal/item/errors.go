package item

import "errors"

// Validation failures returned by Validate. Each maps to a stable, textual
// reason surfaced through the RPC envelope's msg field.
var (
	ErrMissingUser      = errors.New("missing required parameter 'user'")
	ErrMissingUserGroup = errors.New("missing required parameter 'user_group'")
	ErrUnknownUserGroup = errors.New("Unknown user group")
	ErrNoItem           = errors.New("request contains neither 'plan' nor 'instruction'")
	ErrUnknownPlan      = errors.New("unknown plan name")
	ErrBadPlanSignature = errors.New("plan arguments do not match the declared signature")
	ErrUnknownAction    = errors.New("unknown instruction action")
)
