// Package syncer merges staged extraction batches into the durable store.
// Sync is single-writer by contract: callers serialize invocations, e.g. via
// a scheduled job.
package syncer

import (
	"context"
	"fmt"
	"log"

	"github.com/umputun/myfeed/pkg/domain"
)

// Staging is the batch store side of a sync run.
type Staging interface {
	Batches() ([]string, error)
	ReadBatch(path string) ([]domain.FeedItem, error)
	Prune(all bool) error
}

// Store is the durable store side of a sync run.
type Store interface {
	SeenIDs(ctx context.Context) (map[string]struct{}, error)
	InsertItems(ctx context.Context, items []domain.FeedItem) (int, error)
}

// Syncer runs one incremental merge per Sync call.
type Syncer struct {
	staging Staging
	store   Store

	// KeepAll skips pruning entirely, for debugging. Normally Sync keeps
	// only the newest processed batch unless PruneAll is set.
	KeepAll  bool
	PruneAll bool
}

// New creates a syncer over the given staging and durable stores.
func New(staging Staging, store Store) *Syncer {
	return &Syncer{staging: staging, store: store}
}

// Sync merges all pending batches, oldest first, and returns the number of
// newly inserted items. When any batch fails to parse, every pending batch
// is deleted: staged data is suspect wholesale and the next extraction run
// regenerates it from source. Batches are only pruned after the merge
// transaction commits, never before.
func (s *Syncer) Sync(ctx context.Context) (added int, err error) {
	seen, err := s.store.SeenIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load store ids: %w", err)
	}
	log.Printf("[INFO] %d feed items already in the store", len(seen))

	batches, err := s.staging.Batches()
	if err != nil {
		return 0, fmt.Errorf("list staging batches: %w", err)
	}
	if len(batches) == 0 {
		log.Printf("[INFO] no staging batches pending")
		return 0, nil
	}

	// parse everything up front so corruption is detected before a single
	// row is written
	var pending []domain.FeedItem
	for _, batch := range batches {
		items, readErr := s.staging.ReadBatch(batch)
		if readErr != nil {
			log.Printf("[WARN] staging batch %s is broken, removing all staged data: %v", batch, readErr)
			if pruneErr := s.staging.Prune(true); pruneErr != nil {
				log.Printf("[ERROR] failed to remove staged data: %v", pruneErr)
			}
			return 0, fmt.Errorf("read batch %s: %w", batch, readErr)
		}
		log.Printf("[INFO] loaded %d records from %s", len(items), batch)
		for _, item := range items {
			if _, ok := seen[item.ID]; ok {
				continue // already merged, silently skipped
			}
			seen[item.ID] = struct{}{}
			pending = append(pending, item)
		}
	}

	added, err = s.store.InsertItems(ctx, pending)
	if err != nil {
		// a failed merge taints the staged data as a whole, same as a parse
		// failure: drop it all and let the next extraction run regenerate
		log.Printf("[WARN] merge failed, removing all staged data: %v", err)
		if pruneErr := s.staging.Prune(true); pruneErr != nil {
			log.Printf("[ERROR] failed to remove staged data: %v", pruneErr)
		}
		return 0, fmt.Errorf("merge staged items: %w", err)
	}
	log.Printf("[INFO] %d new items added to the store", added)

	if !s.KeepAll {
		if err := s.staging.Prune(s.PruneAll); err != nil {
			return added, fmt.Errorf("prune staging batches: %w", err)
		}
	}
	return added, nil
}
