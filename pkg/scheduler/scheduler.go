// Package scheduler runs the sync engine on a fixed interval so batches
// uploaded by remote extraction hosts get merged without manual triggers.
package scheduler

import (
	"context"
	"log"
	"time"
)

// Syncer merges pending staging batches into the store.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// Scheduler triggers periodic sync runs.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
}

// New creates a scheduler; interval must be positive.
func New(syncer Syncer, interval time.Duration) *Scheduler {
	return &Scheduler{syncer: syncer, interval: interval}
}

// Run syncs once immediately and then on every tick until the context is
// canceled. Sync errors are logged and the loop continues; one bad run must
// not stop future merges.
func (s *Scheduler) Run(ctx context.Context) error {
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	added, err := s.syncer.Sync(ctx)
	if err != nil {
		log.Printf("[ERROR] scheduled sync failed: %v", err)
		return
	}
	if added > 0 {
		log.Printf("[INFO] scheduled sync merged %d items", added)
	}
}
