// Package timeshift remaps dates of activity that happened before tracking
// started. A life-long history imported in one go would otherwise collapse
// onto a single date; instead pre-tracking items are spread proportionally
// across the window the system was actually in use, preserving their relative
// chronological order.
package timeshift

import (
	"fmt"
	"time"

	"github.com/umputun/myfeed/pkg/domain"
)

// Shifter holds the remapping window. Anchor is the earliest date ever
// considered, Start and End bound the window shifted items land in; End is
// typically the account creation date.
type Shifter struct {
	Anchor domain.Date
	Start  domain.Date
	End    domain.Date
	types  map[string]struct{}
}

// New creates a Shifter for the given window, applied only to items whose
// ftype is in types.
func New(anchor, start, end domain.Date, types []string) (*Shifter, error) {
	if !anchor.Before(end) {
		return nil, fmt.Errorf("timeshift anchor %s must precede end %s", anchor, end)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("timeshift start %s must not follow end %s", start, end)
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return &Shifter{Anchor: anchor, Start: start, End: end, types: set}, nil
}

// Eligible reports whether the item is subject to shifting: its ftype is
// configured and it predates the end of the window.
func (s *Shifter) Eligible(item *domain.FeedItem) bool {
	if s == nil {
		return false
	}
	if _, ok := s.types[item.Ftype]; !ok {
		return false
	}
	return item.WhenDate().Before(s.End)
}

// Apply returns a copy of the item with its date remapped and true, or the
// item unchanged and false when it is not eligible. Time of day and UTC
// offset are preserved, only the date component moves. The input is never
// mutated.
func (s *Shifter) Apply(item domain.FeedItem) (domain.FeedItem, bool) {
	if !s.Eligible(&item) {
		return item, false
	}

	target := s.shiftedDate(item.WhenDate())
	shifted := item
	shifted.When = time.Date(target.Year, target.Month, target.Day,
		item.When.Hour(), item.When.Minute(), item.When.Second(), item.When.Nanosecond(),
		item.When.Location())
	return shifted, true
}

// shiftedDate maps a pre-End date into [Start, End] proportionally to its
// position in [Anchor, End]. Dates before Anchor snap to Start.
func (s *Shifter) shiftedDate(d domain.Date) domain.Date {
	if d.Before(s.Anchor) {
		return s.Start
	}
	frac := float64(d.DaysSince(s.Anchor)) / float64(s.End.DaysSince(s.Anchor))
	windowDays := s.End.DaysSince(s.Start)
	return s.Start.AddDays(int(frac * float64(windowDays)))
}
