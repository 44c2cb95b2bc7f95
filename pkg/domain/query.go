package domain

import "fmt"

// sort fields accepted by the read API
const (
	SortWhen    = "when"
	SortScore   = "score"
	SortRelease = "release_date"
)

// sort directions
const (
	DirAsc  = "asc"
	DirDesc = "desc"
)

// pagination bounds, out-of-range requests are rejected rather than clamped
const (
	MinLimit = 1
	MaxLimit = 500
)

// ListRequest describes one read query against the store.
type ListRequest struct {
	Offset  int
	Limit   int
	OrderBy string // SortWhen, SortScore or SortRelease
	Dir     string // DirAsc or DirDesc

	Ftypes []string // allow-list of ftypes, empty means all

	// Query is a free-text filter matched against title, creator, subtitle
	// and id collectively. When empty the per-field filters below apply
	// independently instead.
	Query    string
	Title    string
	Creator  string
	Subtitle string
}

// Validate checks request bounds and enum values.
func (r *ListRequest) Validate() error {
	if r.Offset < 0 {
		return fmt.Errorf("offset must be non-negative, got %d", r.Offset)
	}
	if r.Limit < MinLimit || r.Limit > MaxLimit {
		return fmt.Errorf("limit must be between %d and %d, got %d", MinLimit, MaxLimit, r.Limit)
	}
	switch r.OrderBy {
	case SortWhen, SortScore, SortRelease:
	default:
		return fmt.Errorf("unknown order_by %q", r.OrderBy)
	}
	switch r.Dir {
	case DirAsc, DirDesc:
	default:
		return fmt.Errorf("unknown sort direction %q", r.Dir)
	}
	return nil
}
