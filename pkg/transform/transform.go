// Package transform runs user-supplied rewrite/filter functions over feed
// items before they are staged.
package transform

import "github.com/umputun/myfeed/pkg/domain"

// Func rewrites a single item. Returning false drops the item from the feed;
// to keep an item unchanged return it with true.
type Func func(item domain.FeedItem) (domain.FeedItem, bool)

// Chain is an ordered list of transforms applied to every extracted item.
type Chain []Func

// Apply folds the chain over one item. Every transform is invoked with the
// ORIGINAL input item, not the output of the previous transform, and the last
// produced candidate wins; this matches the long-standing behavior existing
// transform sets depend on. The first transform that declines drops the item
// and stops the chain.
func (c Chain) Apply(item domain.FeedItem) (domain.FeedItem, bool) {
	result := item
	for _, fn := range c {
		candidate, ok := fn(item)
		if !ok {
			return domain.FeedItem{}, false
		}
		result = candidate
	}
	return result, true
}
