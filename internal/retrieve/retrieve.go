// Package retrieve implements hybrid retrieval (spec C6): full-text and
// vector candidates fused by Reciprocal Rank Fusion, reranked, joined back
// to parent chunks, optionally expanded through the knowledge graph, with a
// golden-route fast path for recurring queries.
package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"legalrag/internal/config"
	"legalrag/internal/domain"
	"legalrag/internal/embedding"
	"legalrag/internal/graphstore"
	"legalrag/internal/parentstore"
	"legalrag/internal/rerank"
	"legalrag/internal/vectorstore"
)

// Item is one result of a retrieval query: a parent chunk together with the
// scoring and provenance that produced it.
type Item struct {
	ParentChunk   domain.ParentChunk
	Score         float64
	ViaChildUUIDs []string // child chunks within this parent that matched
	FromGraph     bool     // true when this item was added by graph expansion, not fusion
}

// Result is the outcome of a single Query call.
type Result struct {
	Items       []Item
	GoldenRoute bool // true when the golden-route cache short-circuited full retrieval
	RerankUsed  bool
	EarlyExit   bool
}

// RouteCache persists golden routes (spec's supplemented query→parent-chunk
// fast path) so a recurring query bypasses fusion and reranking entirely.
type RouteCache interface {
	Lookup(ctx context.Context, embedding []float32, threshold float64) (domain.Route, bool, error)
	Store(ctx context.Context, route domain.Route) error
}

// Retriever answers hybrid retrieval queries. Every dependency is an
// interface so tests can substitute in-memory fakes for Postgres/Qdrant.
type Retriever struct {
	Embedder    embedding.Embedder
	VectorStore vectorstore.Store
	FullText    FullTextSearch
	Parents     parentstore.Store
	Graph       graphstore.Store
	Reranker    rerank.Reranker
	Routes      RouteCache // nil disables the golden-route path

	Collection string
	Cfg        config.RetrievalConfig
}

// QueryFingerprint derives the golden-route cache key for a normalized query
// string: lowercase, collapsed whitespace, sha256.
func QueryFingerprint(query string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Query resolves a natural-language query into parent chunks. limit bounds
// the number of Items returned; Query never returns more than limit items
// even when graph expansion discovers additional candidates.
func (r *Retriever) Query(ctx context.Context, query string, limit int) (Result, error) {
	if limit <= 0 {
		limit = r.Cfg.DefaultK
	}
	if limit <= 0 {
		limit = 10
	}

	vecs, err := r.Embedder.Batch(ctx, []string{query})
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: embed query: %w", err)
	}
	queryVec := vecs[0]

	if r.Routes != nil {
		if route, ok, err := r.Routes.Lookup(ctx, queryVec, r.Cfg.GoldenRouteThreshold); err == nil && ok {
			items, err := r.loadParents(ctx, route.ParentChunkIDs, nil)
			if err == nil {
				return Result{Items: capItems(items, limit), GoldenRoute: true}, nil
			}
		}
	}

	var ftHits []FullTextHit
	var vecHits []vectorstore.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.FullText.Search(gctx, query, "simple", limit*4)
		if err != nil {
			return fmt.Errorf("full-text search: %w", err)
		}
		ftHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.VectorStore.Search(gctx, r.Collection, queryVec, limit*4, nil)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vecHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("retrieve: candidate fan-out: %w", err)
	}

	parentOf := map[string]string{}
	childParentIDs := map[string][]string{}
	for _, h := range vecHits {
		ids := splitParentIDs(h.Metadata["parent_chunk_ids"])
		childParentIDs[h.ChildChunkUUID] = ids
		if len(ids) > 0 {
			parentOf[h.ChildChunkUUID] = ids[0]
		}
	}

	fusedList := fuseRRF(ftHits, vecHits, r.Cfg.DefaultAlpha, r.Cfg.RRFK)
	diversified := diversify(fusedList, limit*2, parentOf)

	candidates := make([]rerank.Candidate, 0, len(diversified))
	for _, f := range diversified {
		candidates = append(candidates, rerank.Candidate{ChildChunkUUID: f.ChildChunkUUID, FusedScore: f.Score})
	}

	var rerankOutcome rerank.Outcome
	if r.Reranker != nil && len(candidates) > 0 {
		var err error
		rerankOutcome, err = r.Reranker.Rerank(ctx, query, candidates)
		if err != nil {
			return Result{}, fmt.Errorf("retrieve: rerank: %w", err)
		}
	} else {
		for _, c := range candidates {
			rerankOutcome.Items = append(rerankOutcome.Items, rerank.Scored{Candidate: c, RerankScore: c.FusedScore})
		}
	}
	sort.SliceStable(rerankOutcome.Items, func(i, j int) bool {
		return rerankOutcome.Items[i].RerankScore > rerankOutcome.Items[j].RerankScore
	})

	// Group child chunk hits by owning parent, taking the highest child-level
	// score as the parent-level score, then resolve parents from the
	// relational store.
	parentScore := map[string]float64{}
	parentChildren := map[string][]string{}
	var parentOrder []string
	for _, s := range rerankOutcome.Items {
		ids := childParentIDs[s.ChildChunkUUID]
		if len(ids) == 0 {
			continue // orphaned child chunk with no parent reference; excluded per the no-orphans invariant
		}
		pid := ids[0]
		if _, ok := parentScore[pid]; !ok {
			parentOrder = append(parentOrder, pid)
		}
		if s.RerankScore > parentScore[pid] {
			parentScore[pid] = s.RerankScore
		}
		parentChildren[pid] = append(parentChildren[pid], s.ChildChunkUUID)
	}
	sort.SliceStable(parentOrder, func(i, j int) bool { return parentScore[parentOrder[i]] > parentScore[parentOrder[j]] })

	items, err := r.loadParents(ctx, parentOrder, parentScore)
	if err != nil {
		return Result{}, err
	}
	for i := range items {
		items[i].ViaChildUUIDs = parentChildren[items[i].ParentChunk.ID]
	}

	if r.Graph != nil && r.Cfg.GraphExpandTopN > 0 {
		items = r.expandGraph(ctx, items, limit)
	}

	items = capItems(items, limit)

	if r.Routes != nil && len(items) > 0 {
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ParentChunk.ID
		}
		_ = r.Routes.Store(ctx, domain.Route{
			Fingerprint:    QueryFingerprint(query),
			Query:          query,
			Embedding:      queryVec,
			ParentChunkIDs: ids,
		})
	}

	return Result{Items: items, RerankUsed: r.Reranker != nil, EarlyExit: rerankOutcome.EarlyExit}, nil
}

func (r *Retriever) loadParents(ctx context.Context, ids []string, score map[string]float64) ([]Item, error) {
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		p, err := r.Parents.GetParent(ctx, id)
		if err != nil {
			continue // stale route-cache entry or dangling reference; skip rather than fail the whole query
		}
		s := 1.0
		if score != nil {
			s = score[id]
		}
		items = append(items, Item{ParentChunk: p, Score: s})
	}
	return items, nil
}

// expandGraph looks up the entity named by each of the top GraphExpandTopN
// results' hierarchy path, traverses its neighbours, and appends each entity
// reached as an additional score-0 item whose ParentChunk carries the
// entity's id, name and description (no parent chunks are fetched).
// Expansion is bounded by config and never overrides a fused/reranked item
// already present.
func (r *Retriever) expandGraph(ctx context.Context, items []Item, limit int) []Item {
	topN := r.Cfg.GraphExpandTopN
	if topN > len(items) {
		topN = len(items)
	}
	seen := map[string]bool{}
	for _, it := range items {
		seen[it.ParentChunk.ID] = true
	}

	var expanded []Item
	for _, it := range items[:topN] {
		ent, err := r.Graph.FindEntityByName(ctx, it.ParentChunk.HierarchyPath)
		if err != nil {
			continue
		}
		hits, err := r.Graph.Traverse(ctx, ent.ID, r.Cfg.GraphExpandMaxHops, nil)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if len(expanded)+len(items) >= limit*2 {
				break
			}
			expanded = append(expanded, Item{
				ParentChunk: domain.ParentChunk{ID: h.Entity.ID, Text: h.Entity.Description, HierarchyPath: h.Entity.Name},
				Score:       0, // graph-sourced items rank below every fused/reranked hit
				FromGraph:   true,
			})
		}
	}

	out := make([]Item, 0, len(items)+len(expanded))
	out = append(out, items...)
	for _, e := range expanded {
		if !seen[e.ParentChunk.ID] {
			seen[e.ParentChunk.ID] = true
			out = append(out, e)
		}
	}
	return out
}

func capItems(items []Item, limit int) []Item {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func splitParentIDs(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
