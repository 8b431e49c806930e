// Package manager is the composition root: it owns the queue, state
// machine, worker supervisor, run tracker, and persisted image behind one
// mutation lock, and is the only component allowed to send the worker
// commands. One struct owns every collaborator; one method per
// externally-driven operation.
package manager

import (
	"context"
	"sync"
	"time"

	goa "goa.design/goa/v3/pkg"

	"github.com/bluesky-project/qserver/internal/catalogue/memory"
	"github.com/bluesky-project/qserver/internal/ident"
	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
	"github.com/bluesky-project/qserver/internal/runtracker"
	"github.com/bluesky-project/qserver/internal/statemachine"
	"github.com/bluesky-project/qserver/internal/store"
	"github.com/bluesky-project/qserver/internal/telemetry"
	"github.com/bluesky-project/qserver/internal/worker"
)

// WorkerFactory spawns a fresh worker transport. Called by EnvironmentOpen;
// the self-supervisor does not call it on restart.
type WorkerFactory func(ctx context.Context) (worker.Transport, error)

// PermissionsLoader re-reads the external allow-list snapshot. Called by
// PermissionsReload to perform an atomic swap of the immutable allow-list
// snapshot.
type PermissionsLoader func() (memory.Snapshot, error)

// Config bundles everything Manager needs to construct its collaborators.
type Config struct {
	Catalogue           *memory.Catalogue
	PermissionsLoader   PermissionsLoader
	WorkerFactory       WorkerFactory
	Store               *store.Store
	UIDs                ident.Service
	RunSink             runtracker.Sink
	PingInterval        time.Duration
	MissedPingThreshold int
	Telemetry           telemetry.Logger
	Metrics             telemetry.Metrics
	Tracer              telemetry.Tracer
}

// Manager is the single owner of the manager state machine, queue, worker
// supervisor, and run tracker. All mutating methods serialize through mu;
// status reads use an immutable snapshot published by status.go.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	queue     *queue.Queue
	machine   *statemachine.Machine
	validator *item.Validator
	runs      *runtracker.Tracker
	worker    *worker.Supervisor

	snapMu sync.RWMutex
	snap   Status

	killed  chan struct{}
	log     telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// New constructs a Manager with a freshly initialized, empty state; callers
// that need to rehydrate from disk should call Restore instead.
func New(cfg Config) *Manager {
	m := newBare(cfg)
	m.queue = queue.New()
	m.machine = statemachine.New()
	m.publishSnapshot()
	return m
}

func newBare(cfg Config) *Manager {
	log := cfg.Telemetry
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Manager{
		cfg:       cfg,
		validator: item.NewValidator(cfg.Catalogue, cfg.UIDs),
		runs:      runtracker.New(cfg.UIDs, cfg.RunSink),
		killed:    make(chan struct{}),
		log:       log,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Restore rehydrates a Manager from the persisted image: the queue and
// history are re-read verbatim; the running-item slot, if stale, is
// reconciled by folding it back onto the front of the queue since no
// worker is attached yet and a re-executed run is indistinguishable from a
// freshly queued one after a crash.
func Restore(cfg Config, img *store.Image) *Manager {
	m := newBare(cfg)
	m.queue = queue.New()
	items := img.Queue
	if img.Running != nil {
		// A running item left stale by a crash is indistinguishable from a
		// freshly queued one now that no worker is attached: fold it back
		// onto the front of the queue, since state collapses to idle with
		// no environment if no worker is attached.
		items = append([]*item.Item{img.Running}, items...)
	}
	for _, it := range items {
		_, _ = m.queue.Add(it, queue.Where{})
	}
	for _, h := range img.History {
		m.queue.RestoreHistory(h)
	}
	m.machine = statemachine.Restore(statemachine.StateIdle, false)
	m.publishSnapshot()
	return m
}

func (m *Manager) persist() {
	if m.cfg.Store == nil {
		return
	}
	items, running := m.queue.GetAll()
	img := &store.Image{
		Queue:   items,
		Running: running,
		History: m.queue.History(),
		Settings: store.Settings{
			EnvironmentOpenIntent: m.machine.EnvExists(),
		},
	}
	if err := m.cfg.Store.Save(img); err != nil {
		m.log.Error(context.Background(), "persist image failed", "error", err)
	}
}

// wrapBadState, wrapWorkerDied, and wrapWorkerTimeout classify an internal
// failure into a goa.ServiceError carrying a stable, machine-readable Name
// alongside the original message, so callers can recognize a failure kind
// with errors.As(err, &svcErr) instead of matching on message substrings.
func wrapBadState(err error) error {
	if err == nil {
		return nil
	}
	return goa.NewServiceError(err, "bad_state", false, false, false)
}

func wrapWorkerDied(err error) error {
	return goa.NewServiceError(err, "worker_died", false, false, true)
}

func wrapWorkerTimeout(err error) error {
	return goa.NewServiceError(err, "worker_timeout", true, true, false)
}
