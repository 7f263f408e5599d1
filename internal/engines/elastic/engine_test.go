package elastic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kev-ang/ruben/internal/benchmark"
)

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery(`{"index": "edge", "query": {"term": {"src": "a"}}}`)
	require.NoError(t, err)
	assert.Equal(t, "edge", q.Index)
	assert.JSONEq(t, `{"term": {"src": "a"}}`, string(q.Query))

	q, err = ParseQuery(`{"index": "edge"}`)
	require.NoError(t, err)
	assert.Empty(t, q.Query)

	_, err = ParseQuery(`{"query": {}}`)
	assert.Error(t, err)
	_, err = ParseQuery(`SELECT 1`)
	assert.Error(t, err)
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, splitAddresses("http://a:9200, http://b:9200"))
	assert.Equal(t, []string{"http://a:9200"}, splitAddresses([]any{"http://a:9200"}))
	assert.Nil(t, splitAddresses(nil))
}

func TestConfigure(t *testing.T) {
	e := New("Elastic").(*Engine)
	assert.Error(t, e.Configure(nil))

	require.NoError(t, e.Configure(map[string]any{SettingEndpoint: "es:9200", SettingUsername: "elastic", SettingPassword: "pw"}))
	assert.Equal(t, []string{"http://es:9200"}, e.config.Addresses)
	assert.Equal(t, "elastic", e.config.Username)
	assert.Equal(t, "ruben-edge", e.indexName("Edge"))
}

func TestClassify(t *testing.T) {
	breaker := &types.ElasticsearchError{Status: 429, ErrorCause: types.ErrorCause{Type: "circuit_breaking_exception"}}
	assert.Equal(t, benchmark.ClassificationResourceExhausted, benchmark.Classify(classify(fmt.Errorf("count: %w", breaker))))

	missing := &types.ElasticsearchError{Status: 404, ErrorCause: types.ErrorCause{Type: "index_not_found_exception"}}
	assert.Equal(t, benchmark.ClassificationEngineError, benchmark.Classify(classify(missing)))
}

// fakeCluster answers the handful of endpoints the adapter uses.
type fakeCluster struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		docs := strings.Count(strings.TrimSpace(string(body)), "\n")/2 + 1
		items := make([]string, docs)
		for i := range items {
			items[i] = `{"index":{"_index":"ruben-edge","_id":"` + fmt.Sprint(i) + `","status":201}}`
		}
		fmt.Fprintf(w, `{"took":1,"errors":false,"items":[%s]}`, strings.Join(items, ","))
	case strings.HasSuffix(r.URL.Path, "/_refresh"):
		fmt.Fprint(w, `{"_shards":{"total":1,"successful":1,"failed":0}}`)
	case strings.HasSuffix(r.URL.Path, "/_count"):
		if strings.Contains(string(body), `"src":"a"`) {
			fmt.Fprint(w, `{"count":1,"_shards":{"total":1,"successful":1,"skipped":0,"failed":0}}`)
			return
		}
		fmt.Fprint(w, `{"count":3,"_shards":{"total":1,"successful":1,"skipped":0,"failed":0}}`)
	case r.Method == http.MethodPut:
		fmt.Fprintf(w, `{"acknowledged":true,"shards_acknowledged":true,"index":%q}`, strings.TrimPrefix(r.URL.Path, "/"))
	case r.Method == http.MethodDelete:
		fmt.Fprint(w, `{"acknowledged":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"not_found","reason":"unexpected"},"status":404}`)
	}
}

func (f *fakeCluster) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func TestEngineAgainstFakeCluster(t *testing.T) {
	cluster := &fakeCluster{}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	ctx := context.Background()
	root := t.TempDir()
	tc := benchmark.TestCase{Category: "chain", TestName: "tc", Identifier: "n4"}
	path := tc.File(root, "Elastic", dataSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"edge": [
		{"src": "a", "dst": "b"}, {"src": "b", "dst": "c"}, {"src": "c", "dst": "d"}
	]}`), 0o644))

	e := New("Elastic")
	require.NoError(t, e.Configure(map[string]any{SettingAddresses: srv.URL}))
	require.NoError(t, e.Prepare(ctx, root, tc))
	require.NoError(t, e.(benchmark.Materializer).Materialize(ctx, root, tc))

	n, err := e.ExecuteQuery(ctx, `{"index": "edge"}`)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.ExecuteQuery(ctx, `{"index": "edge", "query": {"term": {"src":"a"}}}`)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, e.CleanUp(ctx))
	require.NoError(t, e.ShutDown(ctx))

	requests := strings.Join(cluster.Requests(), "\n")
	assert.Contains(t, requests, "PUT /ruben-edge")
	assert.Contains(t, requests, "/_bulk")
	assert.Contains(t, requests, "/ruben-edge/_refresh")
	assert.Contains(t, requests, "DELETE /ruben-edge")
}
