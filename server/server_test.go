package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/myfeed/pkg/domain"
)

type fakeConfig struct {
	token string
}

func (c *fakeConfig) GetServerConfig() (string, time.Duration) { return ":0", time.Second }
func (c *fakeConfig) GetAuthToken() string                     { return c.token }

type fakeStore struct {
	items   []domain.FeedItem
	lastReq domain.ListRequest
	err     error
}

func (f *fakeStore) List(_ context.Context, req domain.ListRequest) ([]domain.FeedItem, error) {
	f.lastReq = req
	return f.items, f.err
}
func (f *fakeStore) ListTypes(context.Context) ([]string, error) {
	return []string{"article", "movie"}, f.err
}
func (f *fakeStore) IDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.items))
	for _, it := range f.items {
		ids = append(ids, it.ID)
	}
	return ids, f.err
}
func (f *fakeStore) Count(context.Context) (int, error) { return len(f.items), f.err }

type fakeSyncer struct {
	added int
	err   error
	calls int
}

func (f *fakeSyncer) Sync(context.Context) (int, error) {
	f.calls++
	return f.added, f.err
}

func newTestServer(t *testing.T, cfg *fakeConfig, store *fakeStore, syncer *fakeSyncer) *httptest.Server {
	t.Helper()
	srv := New(cfg, store, syncer, "test", false)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server url
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestServer_Status(t *testing.T) {
	store := &fakeStore{items: []domain.FeedItem{{ID: "a"}, {ID: "b"}}}
	ts := newTestServer(t, &fakeConfig{}, store, &fakeSyncer{})

	var body map[string]interface{}
	code := getJSON(t, ts.URL+"/api/v1/status", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 2, body["items"], 0.01)
}

func TestServer_Ping(t *testing.T) {
	ts := newTestServer(t, &fakeConfig{}, &fakeStore{}, &fakeSyncer{})
	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_List(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("", -7*3600))
	store := &fakeStore{items: []domain.FeedItem{
		{ID: "movie_x", Title: "X", Ftype: "movie", When: when, Score: domain.Ptr(8.5)},
	}}
	ts := newTestServer(t, &fakeConfig{}, store, &fakeSyncer{})

	var body struct {
		Items []map[string]interface{} `json:"items"`
		Count int                      `json:"count"`
	}
	code := getJSON(t, ts.URL+"/data/", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "movie_x", body.Items[0]["id"])
	assert.Equal(t, "2024-03-01T12:00:00-07:00", body.Items[0]["when"], "offset preserved")

	// defaults applied when no params given
	assert.Equal(t, 100, store.lastReq.Limit)
	assert.Equal(t, domain.SortWhen, store.lastReq.OrderBy)
	assert.Equal(t, domain.DirDesc, store.lastReq.Dir)
}

func TestServer_ListParams(t *testing.T) {
	store := &fakeStore{}
	ts := newTestServer(t, &fakeConfig{}, store, &fakeSyncer{})

	var body map[string]interface{}
	code := getJSON(t, ts.URL+"/data/?limit=5&offset=10&order_by=score&sort=asc&ftype=movie,episode&query=alien", &body)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, 5, store.lastReq.Limit)
	assert.Equal(t, 10, store.lastReq.Offset)
	assert.Equal(t, domain.SortScore, store.lastReq.OrderBy)
	assert.Equal(t, domain.DirAsc, store.lastReq.Dir)
	assert.Equal(t, []string{"movie", "episode"}, store.lastReq.Ftypes)
	assert.Equal(t, "alien", store.lastReq.Query)
}

func TestServer_ListRejectsBadParams(t *testing.T) {
	ts := newTestServer(t, &fakeConfig{}, &fakeStore{}, &fakeSyncer{})

	tests := []struct {
		name  string
		query string
	}{
		{"limit zero", "?limit=0"},
		{"limit over max", "?limit=501"},
		{"limit not a number", "?limit=abc"},
		{"negative offset", "?offset=-1"},
		{"unknown order", "?order_by=popularity"},
		{"unknown direction", "?sort=sideways"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			code := getJSON(t, ts.URL+"/data/"+tt.query, &body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_Types(t *testing.T) {
	ts := newTestServer(t, &fakeConfig{}, &fakeStore{}, &fakeSyncer{})

	var body struct {
		Types []string `json:"types"`
	}
	code := getJSON(t, ts.URL+"/data/types", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"article", "movie"}, body.Types)
}

func TestServer_Auth(t *testing.T) {
	store := &fakeStore{items: []domain.FeedItem{{ID: "a"}}}
	syncer := &fakeSyncer{added: 3}
	ts := newTestServer(t, &fakeConfig{token: "sekret"}, store, syncer)

	t.Run("ids rejected without token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/data/ids")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ids rejected with wrong token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/data/ids", http.NoBody)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ids allowed with token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/data/ids", http.NoBody)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer sekret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, []string{"a"}, body.IDs)
	})

	t.Run("sync with token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/data/sync", http.NoBody)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer sekret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]int
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 3, body["added"])
		assert.Equal(t, 1, syncer.calls)
	})

	t.Run("list stays open", func(t *testing.T) {
		var body map[string]interface{}
		code := getJSON(t, ts.URL+"/data/", &body)
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestServer_AuthDisabledWithEmptyToken(t *testing.T) {
	ts := newTestServer(t, &fakeConfig{}, &fakeStore{}, &fakeSyncer{})

	resp, err := http.Get(ts.URL + "/data/ids")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RunShutdown(t *testing.T) {
	srv := New(&fakeConfig{}, &fakeStore{}, &fakeSyncer{}, "test", true)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, srv.Run(ctx))
}
