package rpc

import (
	"errors"

	goa "goa.design/goa/v3/pkg"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
)

// classify turns an internal error into a goa.ServiceError carrying a
// stable, machine-readable Name alongside its human message. manager
// already returns *goa.ServiceError directly for its own failure kinds
// (bad_state, worker_died, worker_timeout); classify recovers that one with
// errors.As and falls back to mapping the domain packages' sentinel errors
// for everything else, so every dispatcher reply is built from the same
// typed error regardless of which layer produced it.
func classify(err error) *goa.ServiceError {
	var svcErr *goa.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	for _, c := range domainErrorClasses {
		if errors.Is(err, c.sentinel) {
			return goa.NewServiceError(err, c.name, false, false, false)
		}
	}
	return goa.NewServiceError(err, "unknown_error", false, false, false)
}

type errorClass struct {
	sentinel error
	name     string
}

var domainErrorClasses = []errorClass{
	{queue.ErrAmbiguous, "ambiguous_params"},
	{queue.ErrUIDNotInQueue, "item_not_found"},
	{queue.ErrCannotInsertBeforeRunning, "bad_state"},
	{queue.ErrNotFound, "item_not_found"},
	{queue.ErrItemRunning, "bad_state"},
	{queue.ErrCannotRemoveRunning, "bad_state"},
	{queue.ErrSourceMissing, "item_not_found"},
	{queue.ErrDestinationMissing, "item_not_found"},
	{queue.ErrFailedToGetItem, "item_not_found"},
	{queue.ErrFailedToRemoveItem, "item_not_found"},
	{queue.ErrNoRunningItem, "bad_state"},
	{queue.ErrRunningSlotOccupied, "bad_state"},
	{item.ErrMissingUser, "invalid_params"},
	{item.ErrMissingUserGroup, "invalid_params"},
	{item.ErrUnknownUserGroup, "invalid_params"},
	{item.ErrNoItem, "invalid_params"},
	{item.ErrUnknownPlan, "invalid_params"},
	{item.ErrBadPlanSignature, "invalid_params"},
	{item.ErrUnknownAction, "invalid_params"},
	{errUnknownMethod, "unknown_method"},
}
