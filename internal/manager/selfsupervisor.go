package manager

import (
	"context"
	"sync/atomic"

	"github.com/bluesky-project/qserver/internal/telemetry"
)

// SelfSupervisor installs a fresh Manager, rehydrated from the persisted
// image, each time the current one fires the manager_kill test hook. It
// restarts on that hook only: a panic is not recovered and does not trigger
// a restart. The replacement is installed at once, so only the manager_kill
// request itself goes unanswered; requests already running against the old
// instance complete and reply. The replacement never re-attaches to the old
// worker and starts idle with no environment.
type SelfSupervisor struct {
	cfg Config

	current atomic.Pointer[Manager]
	log     telemetry.Logger
}

// NewSelfSupervisor constructs a SelfSupervisor and immediately starts its
// first Manager instance, rehydrated from the persisted image if one
// exists.
func NewSelfSupervisor(cfg Config) *SelfSupervisor {
	log := cfg.Telemetry
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	s := &SelfSupervisor{cfg: cfg, log: log}
	s.spawn()
	return s
}

// Current returns the live Manager instance. Callers must re-fetch this on
// every request rather than caching it, since a restart swaps in a new
// instance.
func (s *SelfSupervisor) Current() *Manager {
	return s.current.Load()
}

func (s *SelfSupervisor) spawn() {
	var m *Manager
	if s.cfg.Store != nil {
		if img, err := s.cfg.Store.Load(); err == nil {
			m = Restore(s.cfg, img)
		} else {
			s.log.Warn(context.Background(), "failed to load persisted image, starting empty", "error", err)
			m = New(s.cfg)
		}
	} else {
		m = New(s.cfg)
	}
	s.current.Store(m)
	go s.watch(m)
}

// watch blocks until m reports itself killed, then spawns a replacement.
// This is the restart loop: one per Manager generation, exiting exactly
// once a successor has been installed.
func (s *SelfSupervisor) watch(m *Manager) {
	<-m.Killed()
	s.log.Warn(context.Background(), "manager instance killed, restarting")
	s.spawn()
}
