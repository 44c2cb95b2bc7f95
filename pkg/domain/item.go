package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation indicates a feed item failed its post-construction check.
// Callers match it with errors.Is.
var ErrValidation = errors.New("validation failed")

// BlurFlag marks an item whose image should be blurred client-side.
// Flags are additive, downstream stages never remove them.
const BlurFlag = "i_blur"

// FeedItem is one normalized activity record. Items are produced by source
// adapters, validated with Check, staged and eventually merged into the store.
// Once merged an item is immutable.
type FeedItem struct {
	ID    string // unique, namespaced by source, e.g. "trakt_123"
	Title string
	Ftype string // open-ended category tag: scrobble, episode, movie, book, ...

	When time.Time // when the activity happened, must carry an explicit offset

	Score       *float64 // normalized to 0-10
	Subtitle    *string  // show name, or album name for a scrobble
	Creator     *string  // artist, author, studio
	Collection  *string  // grouping key for episodic media
	Part        *int     // e.g. season or volume
	Subpart     *int     // e.g. episode or chapter
	ReleaseDate *Date
	URL         *string
	ImageURL    *string

	Tags  []string       // free-form descriptors
	Flags []string       // system-set annotations, e.g. BlurFlag
	Data  map[string]any // source-specific extras, opaque to the core
}

// Check normalizes blank optional URLs to absent and verifies bounds.
// It must be called once per item right after creation, before the item
// may enter staging.
func (f *FeedItem) Check() error {
	if f.URL != nil && strings.TrimSpace(*f.URL) == "" {
		f.URL = nil
	}
	if f.ImageURL != nil && strings.TrimSpace(*f.ImageURL) == "" {
		f.ImageURL = nil
	}
	if f.Score != nil && (*f.Score < 0.0 || *f.Score > 10.0) {
		return fmt.Errorf("%w: item %s score %.2f not within 0-10", ErrValidation, f.ID, *f.Score)
	}
	if f.When.IsZero() {
		return fmt.Errorf("%w: item %s has no timestamp", ErrValidation, f.ID)
	}
	return nil
}

// Blur appends the blur flag when the item has an image to blur.
func (f *FeedItem) Blur() {
	if f.ImageURL != nil {
		f.Flags = append(f.Flags, BlurFlag)
	}
}

// WhenDate returns the date component of When in the item's own offset.
func (f *FeedItem) WhenDate() Date {
	y, m, d := f.When.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseWhen parses an item timestamp. The offset is mandatory: a timestamp
// without one fails validation rather than being silently assumed UTC.
func ParseWhen(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q lacks an explicit offset: %v", ErrValidation, s, err)
	}
	return t, nil
}

// Ptr returns a pointer to v, a helper for optional fields.
func Ptr[T any](v T) *T { return &v }
