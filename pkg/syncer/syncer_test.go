package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/myfeed/pkg/domain"
	"github.com/umputun/myfeed/pkg/repository"
	"github.com/umputun/myfeed/pkg/staging"
)

func setupSync(t *testing.T) (*Syncer, *staging.Store, *repository.ItemRepository, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := staging.NewStore(dir)
	require.NoError(t, err)

	repo, err := repository.New(context.Background(), repository.Config{DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, repo.Close()) })

	return New(st, repo), st, repo, dir
}

func item(id string) domain.FeedItem {
	return domain.FeedItem{
		ID: id, Title: "t " + id, Ftype: "movie",
		When: time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSyncer_Sync(t *testing.T) {
	s, st, repo, _ := setupSync(t)
	ctx := context.Background()

	_, _, err := st.Write([]domain.FeedItem{item("a_1"), item("a_2")})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // distinct batch names
	_, _, err = st.Write([]domain.FeedItem{item("a_2"), item("a_3")})
	require.NoError(t, err)

	added, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, added, "a_2 merged once across batches")

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// newest batch retained for crash recovery of the next run
	batches, err := st.Batches()
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestSyncer_SyncIdempotent(t *testing.T) {
	s, st, repo, _ := setupSync(t)
	ctx := context.Background()

	_, _, err := st.Write([]domain.FeedItem{item("a_1"), item("a_2")})
	require.NoError(t, err)

	added, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// the retained batch is reprocessed on the next invocation, merging zero
	added, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncer_NoBatches(t *testing.T) {
	s, _, _, _ := setupSync(t)
	added, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestSyncer_CorruptBatchWipesAll(t *testing.T) {
	s, st, repo, dir := setupSync(t)
	ctx := context.Background()

	_, _, err := st.Write([]domain.FeedItem{item("a_1")})
	require.NoError(t, err)
	// a later batch with garbage content
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feed-99999999T999999.999.json"), []byte("{broken\n"), 0o600))

	_, err = s.Sync(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, staging.ErrCorrupt)

	// nothing merged, all pending batches removed
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	batches, err := st.Batches()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestSyncer_EmptyBatchIsNoOp(t *testing.T) {
	s, st, repo, dir := setupSync(t)
	ctx := context.Background()

	_, _, err := st.Write([]domain.FeedItem{item("a_1")})
	require.NoError(t, err)
	// a later batch with no records, e.g. staged by an all-filtered run
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feed-99999999T999999.999.json"), []byte("\n"), 0o600))

	added, err := s.Sync(ctx)
	require.NoError(t, err, "zero-record batch must not taint staged data")
	assert.Equal(t, 1, added)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the good batch survives")

	batches, err := st.Batches()
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestSyncer_PruneAll(t *testing.T) {
	s, st, _, _ := setupSync(t)
	s.PruneAll = true

	_, _, err := st.Write([]domain.FeedItem{item("a_1")})
	require.NoError(t, err)

	_, err = s.Sync(context.Background())
	require.NoError(t, err)

	batches, err := st.Batches()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestSyncer_KeepAll(t *testing.T) {
	s, st, _, _ := setupSync(t)
	s.KeepAll = true

	_, _, err := st.Write([]domain.FeedItem{item("a_1")})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, _, err = st.Write([]domain.FeedItem{item("a_2")})
	require.NoError(t, err)

	_, err = s.Sync(context.Background())
	require.NoError(t, err)

	batches, err := st.Batches()
	require.NoError(t, err)
	assert.Len(t, batches, 2, "nothing pruned with KeepAll")
}

// failingStore simulates a merge failure to verify the conservative wipe
type failingStore struct{}

func (failingStore) SeenIDs(context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (failingStore) InsertItems(context.Context, []domain.FeedItem) (int, error) {
	return 0, errors.New("disk full")
}

func TestSyncer_MergeFailureWipesAll(t *testing.T) {
	dir := t.TempDir()
	st, err := staging.NewStore(dir)
	require.NoError(t, err)

	_, _, err = st.Write([]domain.FeedItem{item("a_1")})
	require.NoError(t, err)

	s := New(st, failingStore{})
	_, err = s.Sync(context.Background())
	require.Error(t, err)

	batches, err := st.Batches()
	require.NoError(t, err)
	assert.Empty(t, batches)
}
