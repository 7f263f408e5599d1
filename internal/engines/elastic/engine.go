// Package elastic benchmarks Elasticsearch as a fact store with query DSL
// lookups.
//
// Test data: <identifier>.json maps index names to documents. Queries are
// {"index": ..., "query": {...}} and count the matching documents. The
// materialization phase refreshes the loaded indices.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

// Type is the registry key of this adapter.
const Type = "elasticsearch"

// Settings understood by the adapter.
const (
	SettingAddresses   = "addresses"
	SettingEndpoint    = "endpoint"
	SettingUsername    = "username"
	SettingPassword    = "password"
	SettingIndexPrefix = "index_prefix"
	SettingBulkWorkers = "bulk_workers"
)

const (
	dataSuffix    = ".json"
	defaultPrefix = "ruben-"
)

// Query counts the documents of one index matching a query DSL clause.
type Query struct {
	Index string          `json:"index"`
	Query json.RawMessage `json:"query,omitempty"`
}

// Engine bulk-loads test cases into prefixed indices that CleanUp deletes.
type Engine struct {
	adapter.Base

	config  elasticsearch.Config
	prefix  string
	workers int
	client  *elasticsearch.TypedClient
	indices map[string]struct{}
}

// New returns an unconfigured Elasticsearch engine.
func New(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name), indices: make(map[string]struct{})}
}

// Configure resolves the cluster addresses and credentials.
func (e *Engine) Configure(settings map[string]any) error {
	if err := e.Base.Configure(settings); err != nil {
		return err
	}
	addresses := splitAddresses(e.Settings[SettingAddresses])
	if len(addresses) == 0 {
		endpoint := e.Settings.String(SettingEndpoint, "")
		if endpoint == "" {
			return fmt.Errorf("setting %s or %s is required", SettingAddresses, SettingEndpoint)
		}
		addresses = []string{"http://" + endpoint}
	}
	workers, err := e.Settings.Int(SettingBulkWorkers, 2)
	if err != nil {
		return err
	}

	e.config = elasticsearch.Config{Addresses: addresses}
	if user := e.Settings.String(SettingUsername, ""); user != "" {
		e.config.Username = user
		e.config.Password = e.Settings.String(SettingPassword, "")
	}
	e.prefix = e.Settings.String(SettingIndexPrefix, defaultPrefix)
	e.workers = workers
	return nil
}

func splitAddresses(v any) []string {
	var out []string
	switch a := v.(type) {
	case string:
		for _, s := range strings.Split(a, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, s := range a {
			out = append(out, fmt.Sprint(s))
		}
	case []string:
		out = append(out, a...)
	}
	return out
}

func (e *Engine) connect() error {
	if e.client != nil {
		return nil
	}
	client, err := elasticsearch.NewTypedClient(e.config)
	if err != nil {
		return fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	e.client = client
	return nil
}

func (e *Engine) indexName(logical string) string {
	return e.prefix + strings.ToLower(logical)
}

// Prepare creates one index per entry and bulk-loads its documents.
func (e *Engine) Prepare(ctx context.Context, dataRoot string, tc benchmark.TestCase) error {
	data, err := e.ReadOptional(dataRoot, tc, dataSuffix)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("no %s found for %s", dataSuffix, tc.Name())
	}
	var docs map[string][]json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("failed to parse documents: %w", err)
	}
	if err := e.connect(); err != nil {
		return err
	}

	for _, logical := range slices.Sorted(maps.Keys(docs)) {
		index := e.indexName(logical)
		if _, err := e.client.Indices.Create(index).Do(ctx); err != nil {
			return classify(fmt.Errorf("failed to create index %s: %w", index, err))
		}
		e.indices[index] = struct{}{}
		if err := e.bulkLoad(ctx, index, docs[logical]); err != nil {
			return err
		}
	}
	slog.Debug("elasticsearch test case loaded", "engine", e.Name(), "test_case", tc.Name(), "indices", len(docs))
	return nil
}

func (e *Engine) bulkLoad(ctx context.Context, index string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      index,
		Client:     e.client,
		NumWorkers: e.workers,
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)
	for _, doc := range docs {
		err := bi.Add(ctx, esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(doc),
			OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err == nil {
					err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				mu.Lock()
				defer mu.Unlock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
			},
		})
		if err != nil {
			return fmt.Errorf("failed to queue document: %w", err)
		}
	}
	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("failed to close bulk indexer: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("failed to index %d of %d documents into %s: %w", failed, len(docs), index, firstErr)
	}
	return nil
}

// Materialize refreshes the loaded indices so queries see every document.
func (e *Engine) Materialize(ctx context.Context, _ string, _ benchmark.TestCase) error {
	if e.client == nil {
		return fmt.Errorf("not connected")
	}
	for _, index := range slices.Sorted(maps.Keys(e.indices)) {
		if _, err := e.client.Indices.Refresh().Index(index).Do(ctx); err != nil {
			return classify(fmt.Errorf("failed to refresh %s: %w", index, err))
		}
	}
	return nil
}

// ExecuteQuery counts the documents matching the query.
func (e *Engine) ExecuteQuery(ctx context.Context, query string) (int, error) {
	if e.client == nil {
		return 0, fmt.Errorf("not connected")
	}
	q, err := ParseQuery(query)
	if err != nil {
		return 0, &benchmark.QueryError{Query: query, Err: err}
	}

	req := e.client.Count().Index(e.indexName(q.Index))
	if len(q.Query) > 0 {
		body, err := json.Marshal(map[string]json.RawMessage{"query": q.Query})
		if err != nil {
			return 0, &benchmark.QueryError{Query: query, Err: err}
		}
		req = req.Raw(bytes.NewReader(body))
	}
	res, err := req.Do(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, classify(&benchmark.QueryError{Query: query, Err: err})
	}
	return int(res.Count), nil
}

// CleanUp deletes every index created for the test case.
func (e *Engine) CleanUp(ctx context.Context) error {
	if e.client == nil || len(e.indices) == 0 {
		return nil
	}
	var errs []error
	for _, index := range slices.Sorted(maps.Keys(e.indices)) {
		if _, err := e.client.Indices.Delete(index).Do(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete index %s: %w", index, err))
			continue
		}
		delete(e.indices, index)
	}
	return errors.Join(errs...)
}

// ShutDown drops the client; the HTTP transport holds no open sessions.
func (e *Engine) ShutDown(context.Context) error {
	e.client = nil
	return nil
}

// ParseQuery decodes a count query.
func ParseQuery(query string) (Query, error) {
	var q Query
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return Query{}, fmt.Errorf("invalid query document: %w", err)
	}
	if q.Index == "" {
		return Query{}, errors.New("query has no index")
	}
	return q, nil
}

// classify maps tripped circuit breakers and rejected executions to
// resource exhaustion.
func classify(err error) error {
	var esErr *types.ElasticsearchError
	if errors.As(err, &esErr) {
		if esErr.Status == 429 || esErr.ErrorCause.Type == "circuit_breaking_exception" {
			return &benchmark.ResourceExhaustedError{Resource: "elasticsearch memory", Err: err}
		}
	}
	return err
}
