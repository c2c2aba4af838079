// Package vectorstore adapts the child-chunk embedding index (spec C2) onto
// Qdrant. It exposes a closed filter expression language over chunk metadata
// instead of a raw query builder, so callers in internal/retrieve cannot
// construct filters the underlying index cannot satisfy.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"legalrag/internal/domain"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// collection's configured dimensionality.
var ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")

// FilterOp is a closed vocabulary of filter predicates over chunk metadata.
// Callers cannot express arbitrary queries; only these operations are valid.
type FilterOp string

const (
	FilterEquals  FilterOp = "equals"
	FilterIn      FilterOp = "in"
	FilterRange   FilterOp = "range"
	FilterExcludeIDs FilterOp = "exclude_ids"
)

// Filter is one clause of a vector search restricting results by a
// ChildChunk metadata field (collection, tier, hierarchy_path); there is no
// prefix match, only the FilterOp operations above.
type Filter struct {
	Field    string
	Op       FilterOp
	Value    string
	Values   []string
	Min, Max float64
}

// Result is a single hit from a similarity search, joined back to its
// originating ChildChunk UUID. Score is clamped to [0, 1] regardless of the
// underlying distance metric so callers can compare scores across
// collections without knowing the metric.
type Result struct {
	ChildChunkUUID string
	Score          float64
	Metadata       map[string]string
}

// Store is the vector index contract consumed by internal/retrieve. Qdrant
// is the only production backend; the interface exists so tests can
// substitute an in-memory fake.
type Store interface {
	Upsert(ctx context.Context, chunk domain.ChildChunk) error
	Search(ctx context.Context, collection string, vector []float32, k int, filters []Filter) ([]Result, error)
	Scroll(ctx context.Context, collection string, cursor string, limit int) (chunkUUIDs []string, nextCursor string, err error)
	Delete(ctx context.Context, collection string, chunkUUID string) error
	Stats(ctx context.Context, collection string) (Stats, error)
	Close() error
}

// Stats summarizes a collection for the orchestrator's health reporting.
type Stats struct {
	PointCount int64
	Dimension  int
}

const payloadIDField = "_child_chunk_uuid"

type qdrantStore struct {
	client     *qdrant.Client
	dimensions int
	metric     string
	// retryBudget bounds the number of attempts for every Qdrant call,
	// upserts included; withRetry retries on any error and does not tell
	// transient failures from validation errors.
	retryBudget int
	retryWait   time.Duration
}

// New connects to Qdrant over gRPC. dsn is a URL such as
// "http://localhost:6334?api_key=...". Collections are created lazily on
// first Upsert, not at construction time, since a single store instance
// serves every collection named in the spec's tier taxonomy.
func New(dsn string, dimensions int, metric string) (Store, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("vectorstore: dimensions must be > 0")
	}
	return &qdrantStore{
		client:      client,
		dimensions:  dimensions,
		metric:      strings.ToLower(strings.TrimSpace(metric)),
		retryBudget: 3,
		retryWait:   200 * time.Millisecond,
	}, nil
}

func (q *qdrantStore) distance() qdrant.Distance {
	switch q.metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *qdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := withRetry(ctx, q.retryBudget, q.retryWait, func() (bool, error) {
		return q.client.CollectionExists(ctx, collection)
	})
	if err != nil {
		return fmt.Errorf("vectorstore: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: q.distance(),
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection: %w", err)
	}
	return nil
}

func chunkPointID(chunkUUID string) *qdrant.PointId {
	id := chunkUUID
	if _, err := uuid.Parse(chunkUUID); err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkUUID)).String()
	}
	return qdrant.NewIDUUID(id)
}

func (q *qdrantStore) Upsert(ctx context.Context, chunk domain.ChildChunk) error {
	if len(chunk.Embedding) != q.dimensions {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(chunk.Embedding), q.dimensions)
	}
	if err := q.ensureCollection(ctx, chunk.Collection); err != nil {
		return err
	}
	payload := map[string]any{
		payloadIDField:     chunk.UUID,
		"hierarchy_path":   chunk.HierarchyPath,
		"tier":             chunk.Tier,
		"fingerprint":      chunk.Fingerprint,
		"parent_chunk_ids": strings.Join(chunk.ParentChunkIDs, ","),
	}
	vec := make([]float32, len(chunk.Embedding))
	copy(vec, chunk.Embedding)
	points := []*qdrant.PointStruct{{
		Id:      chunkPointID(chunk.UUID),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payload),
	}}
	// Upserts are idempotent by point id, so retrying on any transient error
	// is safe; a partially-applied retry never double-inserts.
	_, err := withRetry(ctx, q.retryBudget, q.retryWait, func() (*qdrant.UpdateResult, error) {
		return q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: chunk.Collection,
			Points:         points,
		})
	})
	return err
}

func toQdrantFilter(filters []Filter) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	var must, mustNot []*qdrant.Condition
	for _, f := range filters {
		switch f.Op {
		case FilterEquals:
			must = append(must, qdrant.NewMatch(f.Field, f.Value))
		case FilterIn:
			must = append(must, qdrant.NewMatchKeywords(f.Field, f.Values...))
		case FilterRange:
			must = append(must, qdrant.NewRange(f.Field, &qdrant.Range{Gte: &f.Min, Lte: &f.Max}))
		case FilterExcludeIDs:
			for _, v := range f.Values {
				mustNot = append(mustNot, qdrant.NewHasID(chunkPointID(v)))
			}
		}
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

func clampScore(raw float64, metric string) float64 {
	// Dot and Euclidean distances are unbounded; cosine is already in
	// [-1, 1]. Callers only need a comparable [0, 1] relevance score, so
	// anything below 0 is floored and anything above 1 is capped.
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}

func (q *qdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, filters []Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	if len(vector) != q.dimensions {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vector), q.dimensions)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := withRetry(ctx, q.retryBudget, q.retryWait, func() ([]*qdrant.ScoredPoint, error) {
		return q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQueryDense(vec),
			Limit:          &limit,
			Filter:         toQdrantFilter(filters),
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		chunkUUID := ""
		metadata := make(map[string]string)
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					chunkUUID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		if chunkUUID == "" {
			continue // orphaned point with no back-reference; skip rather than surface a dangling id
		}
		results = append(results, Result{
			ChildChunkUUID: chunkUUID,
			Score:          clampScore(float64(hit.Score), q.metric),
			Metadata:       metadata,
		})
	}
	return results, nil
}

func (q *qdrantStore) Scroll(ctx context.Context, collection string, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 100
	}
	limit32 := uint32(limit)
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &limit32,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if cursor != "" {
		req.Offset = chunkPointID(cursor)
	}
	points, err := withRetry(ctx, q.retryBudget, q.retryWait, func() ([]*qdrant.RetrievedPoint, error) {
		return q.client.Scroll(ctx, req)
	})
	if err != nil {
		return nil, "", fmt.Errorf("vectorstore: scroll: %w", err)
	}
	ids := make([]string, 0, len(points))
	var next string
	for _, p := range points {
		if p.Payload != nil {
			if v, ok := p.Payload[payloadIDField]; ok {
				ids = append(ids, v.GetStringValue())
				next = v.GetStringValue()
			}
		}
	}
	if len(points) < limit {
		next = ""
	}
	return ids, next, nil
}

func (q *qdrantStore) Delete(ctx context.Context, collection string, chunkUUID string) error {
	_, err := withRetry(ctx, q.retryBudget, q.retryWait, func() (*qdrant.UpdateResult, error) {
		return q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelector(chunkPointID(chunkUUID)),
		})
	})
	return err
}

func (q *qdrantStore) Stats(ctx context.Context, collection string) (Stats, error) {
	info, err := withRetry(ctx, q.retryBudget, q.retryWait, func() (*qdrant.CollectionInfo, error) {
		return q.client.GetCollectionInfo(ctx, collection)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("vectorstore: stats: %w", err)
	}
	return Stats{PointCount: int64(info.GetPointsCount()), Dimension: q.dimensions}, nil
}

func (q *qdrantStore) Close() error {
	return q.client.Close()
}

func withRetry[T any](ctx context.Context, attempts int, wait time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait * time.Duration(i+1)):
		}
	}
	return zero, lastErr
}
