package feed

import (
	"context"
	"crypto/sha1" //nolint:gosec // id namespacing, not cryptography
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/umputun/myfeed/pkg/domain"
)

// RSSSource turns entries of an RSS/Atom feed into feed items. Each entry
// becomes one item with the configured ftype; HTML in titles and summaries
// is stripped.
type RSSSource struct {
	SourceName string
	URL        string
	Ftype      string // category tag assigned to every produced item
	UserAgent  string
	Timeout    time.Duration

	client   *http.Client
	sanitize *bluemonday.Policy
}

// NewRSSSource creates an RSS source adapter.
func NewRSSSource(name, url, ftype, userAgent string, timeout time.Duration) *RSSSource {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RSSSource{
		SourceName: name,
		URL:        url,
		Ftype:      ftype,
		UserAgent:  userAgent,
		Timeout:    timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sanitize: bluemonday.StrictPolicy(),
	}
}

// Name returns the source's qualified name.
func (s *RSSSource) Name() string { return "rss." + s.SourceName }

// Items fetches the feed once and yields one item per entry.
func (s *RSSSource) Items(ctx context.Context) iter.Seq2[domain.FeedItem, error] {
	return func(yield func(domain.FeedItem, error) bool) {
		parsed, err := s.fetch(ctx)
		if err != nil {
			yield(domain.FeedItem{}, err)
			return
		}
		for _, entry := range parsed.Items {
			if ctx.Err() != nil {
				yield(domain.FeedItem{}, ctx.Err())
				return
			}
			if !yield(s.toItem(parsed, entry), nil) {
				return
			}
		}
	}
}

func (s *RSSSource) fetch(ctx context.Context) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	addBrowserHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: unexpected status %d", s.URL, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.URL, err)
	}
	return parsed, nil
}

func (s *RSSSource) toItem(parsed *gofeed.Feed, entry *gofeed.Item) domain.FeedItem {
	item := domain.FeedItem{
		ID:    fmt.Sprintf("%s_%s", s.SourceName, entryID(entry)),
		Title: s.clean(entry.Title),
		Ftype: s.Ftype,
		Data:  map[string]any{},
	}

	if entry.PublishedParsed != nil {
		item.When = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		item.When = *entry.UpdatedParsed
	}

	if entry.Link != "" {
		item.URL = domain.Ptr(entry.Link)
	}
	if entry.Image != nil && entry.Image.URL != "" {
		item.ImageURL = domain.Ptr(entry.Image.URL)
	}
	if desc := s.clean(entry.Description); desc != "" {
		item.Subtitle = domain.Ptr(desc)
	}
	if len(entry.Authors) > 0 && entry.Authors[0].Name != "" {
		item.Creator = domain.Ptr(entry.Authors[0].Name)
	}
	if parsed.Title != "" {
		item.Collection = domain.Ptr(parsed.Title)
	}
	item.Tags = append(item.Tags, entry.Categories...)
	return item
}

// clean strips HTML tags and collapses whitespace.
func (s *RSSSource) clean(html string) string {
	return strings.Join(strings.Fields(s.sanitize.Sanitize(html)), " ")
}

// entryID picks a stable per-entry identifier: GUID, then link, then a hash
// of the title.
func entryID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	if entry.Link != "" {
		return entry.Link
	}
	sum := sha1.Sum([]byte(entry.Title)) //nolint:gosec // id namespacing, not cryptography
	return hex.EncodeToString(sum[:8])
}

// acceptLanguages contains common browser Accept-Language values
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.9,es;q=0.8",
}

// addBrowserHeaders makes feed requests look like a regular browser client,
// some endpoints reject obvious bots
func addBrowserHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,*/*;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))]) //nolint:gosec // non-cryptographic randomness is fine
	req.Header.Set("Connection", "keep-alive")
}
