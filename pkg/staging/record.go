package staging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/umputun/myfeed/pkg/domain"
)

// Record is the wire shape of one feed item in a staging batch, one JSON
// object per line. Timestamps are written as ISO-8601 with an explicit
// offset; integer epoch seconds are accepted on read for producers that
// cannot preserve offsets.
type Record struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Ftype       string         `json:"ftype"`
	When        whenValue      `json:"when"`
	Score       *float64       `json:"score"`
	Subtitle    *string        `json:"subtitle"`
	Creator     *string        `json:"creator"`
	Collection  *string        `json:"collection"`
	Part        *int           `json:"part"`
	Subpart     *int           `json:"subpart"`
	ReleaseDate *domain.Date   `json:"release_date"`
	URL         *string        `json:"url"`
	ImageURL    *string        `json:"image_url"`
	Tags        []string       `json:"tags"`
	Flags       []string       `json:"flags"`
	Data        map[string]any `json:"data,omitempty"` // opaque, passed through unexamined
}

// whenValue marshals as RFC3339 with offset and unmarshals from either that
// form or integer epoch seconds.
type whenValue struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (w whenValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *whenValue) UnmarshalJSON(data []byte) error {
	var epoch int64
	if err := json.Unmarshal(data, &epoch); err == nil {
		w.Time = time.Unix(epoch, 0).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("when is neither epoch seconds nor a string: %s", data)
	}
	t, err := domain.ParseWhen(s)
	if err != nil {
		return err
	}
	w.Time = t
	return nil
}

// NewRecord converts a domain item into its wire shape.
func NewRecord(item *domain.FeedItem) Record {
	rec := Record{
		ID:          item.ID,
		Title:       item.Title,
		Ftype:       item.Ftype,
		When:        whenValue{item.When},
		Score:       item.Score,
		Subtitle:    item.Subtitle,
		Creator:     item.Creator,
		Collection:  item.Collection,
		Part:        item.Part,
		Subpart:     item.Subpart,
		ReleaseDate: item.ReleaseDate,
		URL:         item.URL,
		ImageURL:    item.ImageURL,
		Tags:        item.Tags,
		Flags:       item.Flags,
		Data:        item.Data,
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Flags == nil {
		rec.Flags = []string{}
	}
	return rec
}

// Item converts the wire shape back into a domain item.
func (r *Record) Item() (domain.FeedItem, error) {
	if r.ID == "" {
		return domain.FeedItem{}, fmt.Errorf("record has no id")
	}
	item := domain.FeedItem{
		ID:          r.ID,
		Title:       r.Title,
		Ftype:       r.Ftype,
		When:        r.When.Time,
		Score:       r.Score,
		Subtitle:    r.Subtitle,
		Creator:     r.Creator,
		Collection:  r.Collection,
		Part:        r.Part,
		Subpart:     r.Subpart,
		ReleaseDate: r.ReleaseDate,
		URL:         r.URL,
		ImageURL:    r.ImageURL,
		Tags:        r.Tags,
		Flags:       r.Flags,
		Data:        r.Data,
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.Flags == nil {
		item.Flags = []string{}
	}
	return item, nil
}
