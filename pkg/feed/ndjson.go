package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/umputun/myfeed/pkg/domain"
	"github.com/umputun/myfeed/pkg/staging"
)

// NDJSONSource reads pre-normalized feed items from an NDJSON export file in
// the staging interchange shape, e.g. produced by extraction tooling running
// on another host.
type NDJSONSource struct {
	SourceName string
	Path       string
}

// Name returns the source's qualified name.
func (s *NDJSONSource) Name() string {
	if s.SourceName != "" {
		return s.SourceName
	}
	return "ndjson." + s.Path
}

// Items yields items from the file one line at a time.
func (s *NDJSONSource) Items(ctx context.Context) iter.Seq2[domain.FeedItem, error] {
	return func(yield func(domain.FeedItem, error) bool) {
		f, err := os.Open(s.Path) //nolint:gosec // path comes from config
		if err != nil {
			yield(domain.FeedItem{}, fmt.Errorf("open ndjson source: %w", err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for lineNo := 1; scanner.Scan(); lineNo++ {
			if ctx.Err() != nil {
				yield(domain.FeedItem{}, ctx.Err())
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec staging.Record
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				yield(domain.FeedItem{}, fmt.Errorf("parse %s line %d: %w", s.Path, lineNo, err))
				return
			}
			item, err := rec.Item()
			if err != nil {
				yield(domain.FeedItem{}, fmt.Errorf("parse %s line %d: %w", s.Path, lineNo, err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(domain.FeedItem{}, fmt.Errorf("read %s: %w", s.Path, err))
		}
	}
}
