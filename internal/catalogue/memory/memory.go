// Package memory provides an in-memory Catalogue backed by an allow-list
// snapshot that can be hot-swapped atomically, the way permissions_reload
// is expected to behave.
package memory

import (
	"sync/atomic"

	"github.com/bluesky-project/qserver/internal/catalogue"
)

// Snapshot is one immutable allow-list image: per-group plan signatures and
// device allow-lists.
type Snapshot struct {
	Groups  map[string]bool
	Plans   map[string]map[string]catalogue.Signature
	Devices map[string]map[string]bool
}

// Catalogue is an in-memory implementation of catalogue.Catalogue that
// swaps its Snapshot atomically on Reload, so concurrent validators never
// observe a half-updated allow-list.
type Catalogue struct {
	snap atomic.Pointer[Snapshot]
}

// New constructs a Catalogue from an initial snapshot.
func New(initial Snapshot) *Catalogue {
	c := &Catalogue{}
	c.snap.Store(&initial)
	return c
}

// Reload atomically swaps in a new allow-list snapshot, as if re-read from
// disk by the external permission loader.
func (c *Catalogue) Reload(next Snapshot) {
	c.snap.Store(&next)
}

func (c *Catalogue) KnownGroup(group string) bool {
	return c.snap.Load().Groups[group]
}

func (c *Catalogue) PlanSignature(group, name string) (catalogue.Signature, bool) {
	plans, ok := c.snap.Load().Plans[group]
	if !ok {
		return catalogue.Signature{}, false
	}
	sig, ok := plans[name]
	return sig, ok
}

func (c *Catalogue) AllowedPlans(group string) map[string]catalogue.Signature {
	return c.snap.Load().Plans[group]
}

func (c *Catalogue) AllowedDevices(group string) map[string]bool {
	return c.snap.Load().Devices[group]
}

var _ catalogue.Catalogue = (*Catalogue)(nil)
