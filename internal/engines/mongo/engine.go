// Package mongo benchmarks MongoDB, answering recursive queries with
// aggregation pipelines such as $graphLookup.
//
// Test data: <identifier>.json maps collection names to documents in
// extended JSON. The optional <identifier>_materialize.json lists pipelines
// (usually ending in $out or $merge) run in the materialization phase. A
// query is {"collection": ..., "pipeline": [...]} or
// {"collection": ..., "filter": {...}}.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

// Type is the registry key of this adapter.
const Type = "mongodb"

// Settings understood by the adapter.
const (
	SettingURI      = "uri"
	SettingEndpoint = "endpoint"
	SettingDatabase = "database"
)

const (
	dataSuffix        = ".json"
	materializeSuffix = "_materialize.json"

	defaultDatabase = "ruben"
)

// Server error codes that signal an exhausted resource.
var exhaustedCodes = []int{
	146, // ExceededMemoryLimit
	292, // QueryExceededMemoryLimitNoDiskUseAllowed
	14031,
}

// Query is a count request against one collection.
type Query struct {
	Collection string `bson:"collection"`
	Pipeline   bson.A `bson:"pipeline,omitempty"`
	Filter     bson.D `bson:"filter,omitempty"`
}

// Engine loads test cases into a dedicated database that CleanUp drops.
type Engine struct {
	adapter.Base

	uri      string
	database string
	client   *mongo.Client
}

// New returns an unconfigured MongoDB engine.
func New(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name)}
}

// Configure resolves the connection URI and database.
func (e *Engine) Configure(settings map[string]any) error {
	if err := e.Base.Configure(settings); err != nil {
		return err
	}
	uri := e.Settings.String(SettingURI, "")
	if uri == "" {
		endpoint := e.Settings.String(SettingEndpoint, "")
		if endpoint == "" {
			return fmt.Errorf("setting %s or %s is required", SettingURI, SettingEndpoint)
		}
		uri = "mongodb://" + endpoint
	}
	e.uri = uri
	e.database = e.Settings.String(SettingDatabase, defaultDatabase)
	return nil
}

func (e *Engine) connect(ctx context.Context) error {
	if e.client != nil {
		return nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(e.uri))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to ping: %w", err)
	}
	e.client = client
	return nil
}

func (e *Engine) db() *mongo.Database {
	return e.client.Database(e.database)
}

// Prepare inserts the documents of every collection.
func (e *Engine) Prepare(ctx context.Context, dataRoot string, tc benchmark.TestCase) error {
	data, err := e.ReadOptional(dataRoot, tc, dataSuffix)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("no %s found for %s", dataSuffix, tc.Name())
	}
	collections, err := parseCollections(data)
	if err != nil {
		return err
	}
	if err := e.connect(ctx); err != nil {
		return err
	}

	total := 0
	for _, name := range slices.Sorted(maps.Keys(collections)) {
		docs := collections[name]
		if len(docs) == 0 {
			continue
		}
		if _, err := e.db().Collection(name).InsertMany(ctx, docs); err != nil {
			return classify(fmt.Errorf("failed to insert into %s: %w", name, err))
		}
		total += len(docs)
	}
	slog.Debug("mongo test case loaded", "engine", e.Name(), "test_case", tc.Name(), "documents", total)
	return nil
}

// Materialize runs the optional materialization pipelines in order.
func (e *Engine) Materialize(ctx context.Context, dataRoot string, tc benchmark.TestCase) error {
	if e.client == nil {
		return fmt.Errorf("not connected")
	}
	data, err := e.ReadOptional(dataRoot, tc, materializeSuffix)
	if err != nil || data == nil {
		return err
	}
	steps, err := parseSteps(data)
	if err != nil {
		return err
	}
	for _, step := range steps {
		cursor, err := e.db().Collection(step.Collection).Aggregate(ctx, step.Pipeline)
		if err != nil {
			return classify(fmt.Errorf("failed to run pipeline on %s: %w", step.Collection, err))
		}
		if err := cursor.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteQuery counts the documents the query yields.
func (e *Engine) ExecuteQuery(ctx context.Context, query string) (int, error) {
	if e.client == nil {
		return 0, fmt.Errorf("not connected")
	}
	q, err := ParseQuery(query)
	if err != nil {
		return 0, &benchmark.QueryError{Query: query, Err: err}
	}
	coll := e.db().Collection(q.Collection)

	if q.Pipeline == nil {
		filter := q.Filter
		if filter == nil {
			filter = bson.D{}
		}
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return 0, e.queryError(ctx, query, err)
		}
		return int(n), nil
	}

	pipeline := append(q.Pipeline, bson.D{{Key: "$count", Value: "n"}})
	cursor, err := coll.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(false))
	if err != nil {
		return 0, e.queryError(ctx, query, err)
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	var counted []struct {
		N int `bson:"n"`
	}
	if err := cursor.All(ctx, &counted); err != nil {
		return 0, e.queryError(ctx, query, err)
	}
	if len(counted) == 0 {
		return 0, nil
	}
	return counted[0].N, nil
}

func (e *Engine) queryError(ctx context.Context, query string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return classify(&benchmark.QueryError{Query: query, Err: err})
}

// CleanUp drops the benchmark database.
func (e *Engine) CleanUp(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	if err := e.db().Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", e.database, err)
	}
	return nil
}

// ShutDown disconnects the client.
func (e *Engine) ShutDown(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	err := e.client.Disconnect(ctx)
	e.client = nil
	return err
}

// ParseQuery decodes an extended JSON query.
func ParseQuery(query string) (Query, error) {
	var q Query
	if err := bson.UnmarshalExtJSON([]byte(query), false, &q); err != nil {
		return Query{}, fmt.Errorf("invalid query document: %w", err)
	}
	if q.Collection == "" {
		return Query{}, errors.New("query has no collection")
	}
	if q.Pipeline != nil && q.Filter != nil {
		return Query{}, errors.New("query has both a pipeline and a filter")
	}
	return q, nil
}

func parseCollections(data []byte) (map[string][]any, error) {
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}
	collections := make(map[string][]any, len(raw))
	for name, rawDocs := range raw {
		docs := make([]any, 0, len(rawDocs))
		for i, rawDoc := range rawDocs {
			var doc bson.D
			if err := bson.UnmarshalExtJSON(rawDoc, false, &doc); err != nil {
				return nil, fmt.Errorf("collection %s document %d: %w", name, i, err)
			}
			docs = append(docs, doc)
		}
		collections[name] = docs
	}
	return collections, nil
}

func parseSteps(data []byte) ([]Query, error) {
	var wrapper struct {
		Steps []Query `bson:"steps"`
	}
	doc := append(append([]byte(`{"steps":`), data...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse materialization pipelines: %w", err)
	}
	for i, step := range wrapper.Steps {
		if step.Collection == "" || step.Pipeline == nil {
			return nil, fmt.Errorf("materialization step %d needs a collection and a pipeline", i)
		}
	}
	return wrapper.Steps, nil
}

func classify(err error) error {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range exhaustedCodes {
			if serverErr.HasErrorCode(code) {
				return &benchmark.ResourceExhaustedError{Resource: "mongodb memory", Err: err}
			}
		}
	}
	return err
}
