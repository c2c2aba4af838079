// Package rerank reorders hybrid-retrieval candidates (spec C3) with a
// cross-encoder-style scorer, short-circuiting when the fused retriever
// already produced a confident top hit.
package rerank

import "context"

// Candidate is one item eligible for reranking, carrying its fused score
// from internal/retrieve so a Reranker can decide whether reordering is
// worth the cost.
type Candidate struct {
	ChildChunkUUID string
	Text           string
	FusedScore     float64
}

// Scored is a Candidate annotated with the reranker's own relevance score.
type Scored struct {
	Candidate
	RerankScore float64
}

// Outcome reports what a Rerank call actually did, so callers can record it
// in retrieval metadata (spec requires early-exit to be observable).
type Outcome struct {
	Items     []Scored
	EarlyExit bool // true when the reranker was skipped because the top candidate already cleared the threshold
}

// Reranker reorders candidates for a query. Implementations must not drop
// candidates; every input item appears exactly once in Outcome.Items.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) (Outcome, error)
}

// EarlyExitReranker wraps an inner Reranker and skips it entirely when the
// highest fused score among candidates already meets threshold, avoiding a
// cross-encoder call on queries the fusion stage already resolved well.
type EarlyExitReranker struct {
	Inner     Reranker
	Threshold float64
}

func (r EarlyExitReranker) Rerank(ctx context.Context, query string, candidates []Candidate) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{}, nil
	}
	top := candidates[0].FusedScore
	for _, c := range candidates {
		if c.FusedScore > top {
			top = c.FusedScore
		}
	}
	if top >= r.Threshold {
		items := make([]Scored, len(candidates))
		for i, c := range candidates {
			items[i] = Scored{Candidate: c, RerankScore: c.FusedScore}
		}
		return Outcome{Items: items, EarlyExit: true}, nil
	}
	return r.Inner.Rerank(ctx, query, candidates)
}

// NoopReranker preserves fused-score ordering without an additional model
// call; used in tests and as a fallback when no cross-encoder is configured.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, candidates []Candidate) (Outcome, error) {
	items := make([]Scored, len(candidates))
	for i, c := range candidates {
		items[i] = Scored{Candidate: c, RerankScore: c.FusedScore}
	}
	return Outcome{Items: items}, nil
}
