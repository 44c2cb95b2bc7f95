// Package extract drives the configured set of sources and turns their
// output into a single validated stream ready for staging.
package extract

import (
	"context"
	"fmt"
	"iter"
	"log"
	"strings"
	"time"

	"github.com/umputun/myfeed/pkg/blur"
	"github.com/umputun/myfeed/pkg/domain"
	"github.com/umputun/myfeed/pkg/feed"
	"github.com/umputun/myfeed/pkg/timeshift"
	"github.com/umputun/myfeed/pkg/transform"
)

// Extractor runs sources in declaration order and applies per-item
// validation, dedup warning, blur annotation, timeshift and transforms.
type Extractor struct {
	Sources []feed.Source

	// Include and Exclude are substring filters matched against source
	// names. A source runs when it matches any include (or none are given)
	// and matches no exclude.
	Include []string
	Exclude []string

	Blur       *blur.Set
	Shift      *timeshift.Shifter
	Transforms transform.Chain

	// ExcludeIDs holds ids already merged into the store, typically pulled
	// from the read API of the host running the sync engine. Matching items
	// are not re-transmitted.
	ExcludeIDs map[string]struct{}

	stats []SourceStats
}

// SourceStats is per-source accounting for one run.
type SourceStats struct {
	Name     string
	Produced int
	Emitted  int
	Took     time.Duration
}

// Stats returns per-source accounting collected by the last Run consumption.
func (e *Extractor) Stats() []SourceStats { return e.stats }

// Run returns the flat lazy stream of validated items from all selected
// sources. Any source error or validation failure aborts the whole run;
// sources are deliberately not isolated from each other, a single bad
// adapter is treated as an operator problem rather than something to paper
// over.
func (e *Extractor) Run(ctx context.Context) iter.Seq2[domain.FeedItem, error] {
	e.stats = e.stats[:0]
	return func(yield func(domain.FeedItem, error) bool) {
		for _, src := range e.Sources {
			if !e.selected(src.Name()) {
				log.Printf("[DEBUG] skipping source %s", src.Name())
				continue
			}
			if !e.runSource(ctx, src, yield) {
				return
			}
		}
	}
}

// runSource drives one source, reporting whether iteration may continue.
func (e *Extractor) runSource(ctx context.Context, src feed.Source, yield func(domain.FeedItem, error) bool) bool {
	log.Printf("[INFO] extracting %s...", src.Name())
	start := time.Now()
	stats := SourceStats{Name: src.Name()}
	emitted := map[string]struct{}{} // dedup scope is the current source's run

	defer func() {
		stats.Took = time.Since(start)
		e.stats = append(e.stats, stats)
		log.Printf("[INFO] extracted %s: %d items (took %.2fs)", src.Name(), stats.Emitted, stats.Took.Seconds())
	}()

	for item, err := range src.Items(ctx) {
		if err != nil {
			yield(domain.FeedItem{}, fmt.Errorf("source %s: %w", src.Name(), err))
			return false
		}
		stats.Produced++

		if err := item.Check(); err != nil {
			yield(domain.FeedItem{}, fmt.Errorf("source %s: %w", src.Name(), err))
			return false
		}

		if _, dup := emitted[item.ID]; dup {
			log.Printf("[WARN] duplicate id %s from %s", item.ID, src.Name())
		}
		emitted[item.ID] = struct{}{}

		if _, synced := e.ExcludeIDs[item.ID]; synced {
			continue
		}

		if e.Blur.Match(&item) {
			item.Blur()
			log.Printf("[INFO] blurred item id=%s title=%q", item.ID, item.Title)
		}

		if shifted, ok := e.Shift.Apply(item); ok {
			log.Printf("[DEBUG] timeshift %s %q from %s to %s", item.Ftype, item.Title, item.WhenDate(), shifted.WhenDate())
			item = shifted
		}

		result, ok := e.Transforms.Apply(item)
		if !ok {
			continue
		}

		stats.Emitted++
		if !yield(result, nil) {
			return false
		}
	}
	return true
}

// selected applies include/exclude substring filters to a source name.
func (e *Extractor) selected(name string) bool {
	if len(e.Include) > 0 {
		matched := false
		for _, substr := range e.Include {
			if strings.Contains(name, substr) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, substr := range e.Exclude {
		if strings.Contains(name, substr) {
			return false
		}
	}
	return true
}
