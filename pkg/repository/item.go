package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/myfeed/pkg/domain"
)

// ItemRepository handles all feed item database operations.
type ItemRepository struct {
	db       *sqlx.DB
	denylist []string // ftypes excluded from score-ordered queries
}

// itemSQL represents a feed item row
type itemSQL struct {
	ID          int64           `db:"id"`
	FeedID      string          `db:"feed_id"`
	Ftype       string          `db:"ftype"`
	Title       string          `db:"title"`
	Subtitle    *string         `db:"subtitle"`
	Creator     *string         `db:"creator"`
	Collection  *string         `db:"collection"`
	Part        *int            `db:"part"`
	Subpart     *int            `db:"subpart"`
	Score       *float64        `db:"score"`
	WhenTS      int64           `db:"when_ts"`
	TZOffset    int             `db:"tz_offset"`
	ReleaseDate *string         `db:"release_date"`
	URL         *string         `db:"url"`
	ImageURL    *string         `db:"image_url"`
	Tags        stringsSQL      `db:"tags"`
	Flags       stringsSQL      `db:"flags"`
	Data        json.RawMessage `db:"data"` // opaque, stored and returned as-is
	CreatedAt   time.Time       `db:"created_at"`
}

// stringsSQL is a JSON array of strings for SQL operations
type stringsSQL []string

// Value implements driver.Valuer for database storage
func (s stringsSQL) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *stringsSQL) Scan(value interface{}) error {
	if value == nil {
		*s = stringsSQL{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		*s = stringsSQL{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// Close closes the database connection.
func (r *ItemRepository) Close() error { return r.db.Close() }

// Ping verifies the database connection.
func (r *ItemRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// SeenIDs returns the set of item ids already merged into the store.
func (r *ItemRepository) SeenIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT feed_id FROM items"); err != nil {
		return nil, fmt.Errorf("load seen ids: %w", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen, nil
}

// IDs returns all item ids in the store, for cross-host incremental
// filtering at extraction time.
func (r *ItemRepository) IDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, "SELECT feed_id FROM items ORDER BY feed_id"); err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	return ids, nil
}

// Count returns the number of items in the store.
func (r *ItemRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM items"); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// ListTypes returns the distinct ftype values present in the store.
func (r *ItemRepository) ListTypes(ctx context.Context) ([]string, error) {
	types := []string{}
	if err := r.db.SelectContext(ctx, &types, "SELECT DISTINCT ftype FROM items ORDER BY ftype"); err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	return types, nil
}

// InsertItems merges items into the store inside a single transaction,
// skipping ids already present; commit is all-or-nothing so readers never
// see a partial batch. Returns the number of rows actually inserted.
// SQLite busy errors retry with backoff, anything else aborts.
func (r *ItemRepository) InsertItems(ctx context.Context, items []domain.FeedItem) (added int, err error) {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	err = retrier.Do(ctx, func() error {
		added = 0
		insertErr := r.insertTx(ctx, items, &added)
		if insertErr != nil {
			if isLockError(insertErr) {
				return insertErr // repeater will retry this
			}
			return &criticalError{err: insertErr}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert items: %w", err)
	}
	return added, nil
}

func (r *ItemRepository) insertTx(ctx context.Context, items []domain.FeedItem, added *int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO items (
			feed_id, ftype, title, subtitle, creator, collection, part, subpart,
			score, when_ts, tz_offset, release_date, url, image_url, tags, flags, data
		) VALUES (
			:feed_id, :ftype, :title, :subtitle, :creator, :collection, :part, :subpart,
			:score, :when_ts, :tz_offset, :release_date, :url, :image_url, :tags, :flags, :data
		)`

	seen := map[string]struct{}{}
	for i := range items {
		item := &items[i]
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}

		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM items WHERE feed_id = ?)", item.ID); err != nil {
			return fmt.Errorf("check item %s: %w", item.ID, err)
		}
		if exists {
			continue // idempotent merge, duplicates silently skipped
		}

		row, err := toSQL(item)
		if err != nil {
			return fmt.Errorf("convert item %s: %w", item.ID, err)
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("insert item %s: %w", item.ID, err)
		}
		*added++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteAll removes every item from the store, used by update-db --delete-first.
func (r *ItemRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("delete all items: %w", err)
	}
	return nil
}

// List runs one read query: ftype allow-list, free-text or per-field
// substring filters, sort and pagination per the request.
func (r *ItemRepository) List(ctx context.Context, req domain.ListRequest) ([]domain.FeedItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var where []string
	var args []interface{}

	if len(req.Ftypes) > 0 {
		inClause, inArgs, err := sqlx.In("ftype IN (?)", req.Ftypes)
		if err != nil {
			return nil, fmt.Errorf("build ftype filter: %w", err)
		}
		where = append(where, inClause)
		args = append(args, inArgs...)
	}

	if q := strings.TrimSpace(req.Query); q != "" {
		// free-text query searches title, creator, subtitle and id collectively
		where = append(where, "(title LIKE ? OR creator LIKE ? OR subtitle LIKE ? OR feed_id LIKE ?)")
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	} else {
		for _, f := range []struct{ column, value string }{
			{"title", req.Title},
			{"creator", req.Creator},
			{"subtitle", req.Subtitle},
		} {
			if v := strings.TrimSpace(f.value); v != "" {
				where = append(where, f.column+" LIKE ?")
				args = append(args, "%"+v+"%")
			}
		}
	}

	var orderBy string
	switch req.OrderBy {
	case domain.SortScore:
		where = append(where, "score IS NOT NULL")
		if len(r.denylist) > 0 {
			notIn, notInArgs, err := sqlx.In("ftype NOT IN (?)", r.denylist)
			if err != nil {
				return nil, fmt.Errorf("build curation filter: %w", err)
			}
			where = append(where, notIn)
			args = append(args, notInArgs...)
		}
		// secondary when DESC surfaces recently finished items among ties
		orderBy = fmt.Sprintf("score %s, when_ts DESC", sqlDir(req.Dir))
	case domain.SortRelease:
		where = append(where, "release_date IS NOT NULL")
		orderBy = fmt.Sprintf("release_date %s, when_ts DESC", sqlDir(req.Dir))
	default:
		orderBy = fmt.Sprintf("when_ts %s, feed_id ASC", sqlDir(req.Dir))
	}

	query := "SELECT * FROM items"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	args = append(args, req.Limit, req.Offset)

	var rows []itemSQL
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]domain.FeedItem, 0, len(rows))
	for i := range rows {
		item, err := toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func sqlDir(dir string) string {
	if dir == domain.DirAsc {
		return "ASC"
	}
	return "DESC"
}

// toSQL converts a domain item into its row shape.
func toSQL(item *domain.FeedItem) (*itemSQL, error) {
	_, offset := item.When.Zone()
	row := &itemSQL{
		FeedID:     item.ID,
		Ftype:      item.Ftype,
		Title:      item.Title,
		Subtitle:   item.Subtitle,
		Creator:    item.Creator,
		Collection: item.Collection,
		Part:       item.Part,
		Subpart:    item.Subpart,
		Score:      item.Score,
		WhenTS:     item.When.Unix(),
		TZOffset:   offset,
		URL:        item.URL,
		ImageURL:   item.ImageURL,
		Tags:       stringsSQL(item.Tags),
		Flags:      stringsSQL(item.Flags),
	}
	if item.ReleaseDate != nil {
		s := item.ReleaseDate.String()
		row.ReleaseDate = &s
	}
	if len(item.Data) > 0 {
		data, err := json.Marshal(item.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal data for %s: %w", item.ID, err)
		}
		row.Data = data
	}
	return row, nil
}

// toDomain converts a row back into a domain item, reconstructing the
// original UTC offset.
func toDomain(row *itemSQL) (domain.FeedItem, error) {
	item := domain.FeedItem{
		ID:         row.FeedID,
		Title:      row.Title,
		Ftype:      row.Ftype,
		When:       time.Unix(row.WhenTS, 0).In(time.FixedZone("", row.TZOffset)),
		Score:      row.Score,
		Subtitle:   row.Subtitle,
		Creator:    row.Creator,
		Collection: row.Collection,
		Part:       row.Part,
		Subpart:    row.Subpart,
		URL:        row.URL,
		ImageURL:   row.ImageURL,
		Tags:       row.Tags,
		Flags:      row.Flags,
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.Flags == nil {
		item.Flags = []string{}
	}
	if row.ReleaseDate != nil {
		date, err := domain.ParseDate(*row.ReleaseDate)
		if err != nil {
			return domain.FeedItem{}, fmt.Errorf("item %s: %w", row.FeedID, err)
		}
		item.ReleaseDate = &date
	}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &item.Data); err != nil {
			return domain.FeedItem{}, fmt.Errorf("item %s data: %w", row.FeedID, err)
		}
	}
	return item, nil
}

var _ sql.Scanner = (*stringsSQL)(nil)
