// Package feed defines the source contract and the built-in source adapters.
// A source produces a lazy, finite, single-pass sequence of feed items; the
// extraction orchestrator drives an ordered list of them.
package feed

import (
	"context"
	"iter"

	"github.com/umputun/myfeed/pkg/domain"
)

// Source produces feed items. Items yields each item with a nil error, or a
// single non-nil error and stops; an error aborts the whole extraction run.
type Source interface {
	Name() string // fully-qualified, matched against include/exclude filters
	Items(ctx context.Context) iter.Seq2[domain.FeedItem, error]
}
