package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/myfeed/pkg/domain"
)

func TestChain_Apply(t *testing.T) {
	keep := func(item domain.FeedItem) (domain.FeedItem, bool) { return item, true }
	drop := func(domain.FeedItem) (domain.FeedItem, bool) { return domain.FeedItem{}, false }
	retitle := func(title string) Func {
		return func(item domain.FeedItem) (domain.FeedItem, bool) {
			item.Title = title
			return item, true
		}
	}

	item := domain.FeedItem{ID: "a", Title: "original"}

	t.Run("empty chain keeps item", func(t *testing.T) {
		out, ok := Chain{}.Apply(item)
		require.True(t, ok)
		assert.Equal(t, item, out)
	})

	t.Run("drop short-circuits the chain", func(t *testing.T) {
		called := false
		after := func(i domain.FeedItem) (domain.FeedItem, bool) { called = true; return i, true }
		_, ok := Chain{keep, drop, after}.Apply(item)
		assert.False(t, ok)
		assert.False(t, called)
	})

	t.Run("drop after keep yields nothing", func(t *testing.T) {
		_, ok := Chain{keep, drop}.Apply(item)
		assert.False(t, ok)
	})

	t.Run("last candidate wins over earlier rewrites", func(t *testing.T) {
		// transforms see the original input, so the second rewrite is not
		// stacked on the first
		out, ok := Chain{retitle("first"), retitle("second")}.Apply(item)
		require.True(t, ok)
		assert.Equal(t, "second", out.Title)
	})

	t.Run("rewrite then keep retains rewrite", func(t *testing.T) {
		out, ok := Chain{retitle("renamed"), keep}.Apply(item)
		require.True(t, ok)
		// keep returns the original input, which becomes the final candidate
		assert.Equal(t, "original", out.Title)
	})
}
