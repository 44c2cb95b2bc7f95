// Package staging persists extraction runs as immutable, timestamped NDJSON
// batch files awaiting merge into the durable store. A batch is written once
// and never modified; the sync engine deletes batches after a successful
// merge or wipes them all when one turns out corrupt.
package staging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/umputun/myfeed/pkg/domain"
)

// ErrCorrupt indicates a staging batch failed to parse. The sync engine
// reacts by discarding all pending batches.
var ErrCorrupt = errors.New("staging batch corrupt")

const batchTimeFormat = "20060102T150405.000"

// Store manages staging batch files in a single directory.
type Store struct {
	dir string
	now func() time.Time // injectable for tests
}

// NewStore creates a store over dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Write serializes items into a new batch file named by creation time and
// returns its path and the number of records written. The file is written to
// a temp name first and renamed into place so readers never see a partial
// batch. A run that emitted nothing writes no file: an all-filtered
// extraction is the steady state, not a batch worth staging.
func (s *Store) Write(items []domain.FeedItem) (path string, n int, err error) {
	if len(items) == 0 {
		log.Printf("[INFO] no records emitted, skipping staging batch")
		return "", 0, nil
	}

	var f *os.File
	var tmp string
	base := s.now().UTC().Format(batchTimeFormat)
	for seq := 0; ; seq++ {
		name := fmt.Sprintf("feed-%s.json", base)
		if seq > 0 { // another run finished within the same millisecond
			name = fmt.Sprintf("feed-%s_%d.json", base, seq)
		}
		path = filepath.Join(s.dir, name)
		tmp = path + ".tmp"

		if _, err := os.Stat(path); err == nil {
			continue
		}
		f, err = os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // staging dir comes from config
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("create batch file: %w", err)
		}
		break
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range items {
		rec := NewRecord(&items[i])
		if err := enc.Encode(&rec); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return "", 0, fmt.Errorf("encode record %s: %w", items[i].ID, err)
		}
		n++
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("flush batch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("close batch file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("finalize batch file: %w", err)
	}

	log.Printf("[INFO] wrote %d records to staging batch %s", n, path)
	return path, n, nil
}

// Batches lists pending batch files, oldest first. Batch names embed their
// creation time so lexical order is chronological order.
func (s *Store) Batches() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	var batches []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "feed-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		batches = append(batches, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(batches)
	return batches, nil
}

// ReadBatch parses one batch file. Any malformed line makes the whole batch
// corrupt; a batch with no records is a valid no-op, e.g. a leftover from
// tooling that staged an all-filtered run.
func (s *Store) ReadBatch(path string) ([]domain.FeedItem, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from Batches
	if err != nil {
		return nil, fmt.Errorf("open batch %s: %w", path, err)
	}
	defer f.Close()

	var items []domain.FeedItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024) // single records can carry large data maps
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, path, lineNo, err)
		}
		item, err := rec.Item()
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, path, lineNo, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return items, nil
}

// Prune deletes processed batches. By default the newest batch is kept to
// simplify crash recovery of the next extraction run; all=true removes
// everything.
func (s *Store) Prune(all bool) error {
	batches, err := s.Batches()
	if err != nil {
		return err
	}
	if !all && len(batches) > 0 {
		batches = batches[:len(batches)-1]
	}
	for _, b := range batches {
		log.Printf("[INFO] removing staging batch %s", b)
		if err := os.Remove(b); err != nil {
			return fmt.Errorf("remove batch %s: %w", b, err)
		}
	}
	return nil
}
