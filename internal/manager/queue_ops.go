package manager

import (
	"context"

	"github.com/bluesky-project/qserver/internal/catalogue"
	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/telemetry"
)

// QueueItemAdd validates raw against the catalogue, stamps a fresh
// item_uid, and inserts it at where (queue_item_add).
func (m *Manager) QueueItemAdd(raw item.Raw, user, userGroup string, where queue.Where) (queue.Result, error) {
	it, err := m.validator.Validate(raw, user, userGroup)
	if err != nil {
		return queue.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.queue.Add(it, where)
	if err != nil {
		return queue.Result{}, err
	}
	m.persist()
	m.publishSnapshot()
	m.log.Info(context.Background(), "item added to queue", telemetry.ItemFields(it)...)
	m.metrics.IncCounter("queue_item_add", 1, telemetry.ItemTags(it)...)
	return res, nil
}

// QueueItemGet returns the item addressed by sel without mutating state
// (queue_item_get).
func (m *Manager) QueueItemGet(sel queue.Selector) (*item.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Get(sel)
}

// QueueItemRemove removes and returns the item addressed by sel
// (queue_item_remove).
func (m *Manager) QueueItemRemove(sel queue.Selector) (queue.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.queue.Remove(sel)
	if err != nil {
		return queue.Result{}, err
	}
	m.persist()
	m.publishSnapshot()
	return res, nil
}

// QueueItemMove relocates an item within the queue (queue_item_move).
func (m *Manager) QueueItemMove(src queue.MoveSrc, dst queue.MoveDst) (queue.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.queue.Move(src, dst)
	if err != nil {
		return queue.Result{}, err
	}
	m.persist()
	m.publishSnapshot()
	return res, nil
}

// QueueClear empties the queue (queue_clear).
func (m *Manager) QueueClear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Clear()
	m.persist()
	m.publishSnapshot()
}

// QueueGetAll returns the queue and the running item without mutating state
// (queue_get). Reads the published snapshot instead of taking mu, so it
// never blocks behind an in-flight mutating RPC.
func (m *Manager) QueueGetAll() ([]*item.Item, *item.Item) {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.Queue, m.snap.Running
}

// HistoryGet returns the completed-item history (history_get). Reads the
// published snapshot instead of taking mu.
func (m *Manager) HistoryGet() []queue.HistoryEntry {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.History
}

// HistoryClear empties the history (history_clear).
func (m *Manager) HistoryClear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.ClearHistory()
	m.persist()
	m.publishSnapshot()
}

// PlansAllowed returns the plan allow-list for userGroup (plans_allowed).
func (m *Manager) PlansAllowed(userGroup string) map[string]catalogue.Signature {
	return m.cfg.Catalogue.AllowedPlans(userGroup)
}

// DevicesAllowed returns the device allow-list for userGroup
// (devices_allowed).
func (m *Manager) DevicesAllowed(userGroup string) map[string]bool {
	return m.cfg.Catalogue.AllowedDevices(userGroup)
}

// PermissionsReload re-reads the external allow-list and swaps it in
// atomically (permissions_reload).
func (m *Manager) PermissionsReload() error {
	if m.cfg.PermissionsLoader == nil {
		return nil
	}
	next, err := m.cfg.PermissionsLoader()
	if err != nil {
		return err
	}
	m.cfg.Catalogue.Reload(next)
	return nil
}
