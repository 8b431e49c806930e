// Package ident generates opaque, collision-resistant identifiers for queue
// items, runs, and run-list snapshot tokens.
package ident

import "github.com/google/uuid"

// Service hands out fresh identifiers. The zero value is ready to use.
type Service struct{}

// New constructs a Service.
func New() Service { return Service{} }

// NewUID returns a fresh, opaque identifier. It never reuses a previously
// returned value.
func (Service) NewUID() string {
	return uuid.NewString()
}
