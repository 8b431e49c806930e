package queue

import "errors"

// Error kinds surfaced by Queue operations. Each maps to a stable textual
// reason at the RPC boundary.
var (
	ErrAmbiguous                   = errors.New("Ambiguous parameters")
	ErrUIDNotInQueue               = errors.New("is not in the queue")
	ErrCannotInsertBeforeRunning   = errors.New("Can not insert a plan in the queue before a currently running plan")
	ErrNotFound                   = errors.New("failed to get item: not found")
	ErrItemRunning                = errors.New("item is currently running")
	ErrCannotRemoveRunning         = errors.New("cannot remove a currently running plan")
	ErrSourceMissing               = errors.New("source item is not in the queue")
	ErrDestinationMissing          = errors.New("destination item is not in the queue")
	ErrFailedToGetItem             = errors.New("failed to get item")
	ErrFailedToRemoveItem          = errors.New("failed to remove item")
	ErrNoRunningItem               = errors.New("no item is currently running")
	ErrRunningSlotOccupied         = errors.New("a plan is already running")
)
