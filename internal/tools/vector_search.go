package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"legalrag/internal/domain"
	"legalrag/internal/retrieve"
)

// vectorSearchTool wraps the hybrid retriever (spec C6) as an agent-callable
// tool: a natural-language query in, ranked passages with citations out.
type vectorSearchTool struct {
	retriever *retrieve.Retriever
}

// NewVectorSearchTool constructs the vector_search tool backed by r.
func NewVectorSearchTool(r *retrieve.Retriever) Tool {
	return &vectorSearchTool{retriever: r}
}

func (t *vectorSearchTool) Name() string { return "vector_search" }

func (t *vectorSearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Search the hybrid legal knowledge base for passages relevant to a query. Returns ranked parent chunks with citation ids.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query":  map[string]any{"type": "string", "description": "Natural-language question or keyword query"},
				"top_k":  map[string]any{"type": "integer", "description": "Maximum passages to return", "minimum": 1, "maximum": 50},
				"filter": map[string]any{"type": "string", "description": "Optional collection tag; ignored: the search always runs over the retriever's configured collection"},
			},
		},
	}
}

type vectorSearchArgs struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
	Filter string `json:"filter"`
}

type vectorSearchHit struct {
	CitationID string `json:"citation_id"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text"`
	Score      float64 `json:"score"`
	FromGraph  bool    `json:"from_graph,omitempty"`
}

func (t *vectorSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args vectorSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("vector_search: malformed arguments: %w", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("vector_search: query is required")
	}
	if t.retriever == nil {
		return nil, fmt.Errorf("vector_search: retriever not configured")
	}

	result, err := t.retriever.Query(ctx, args.Query, args.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector_search: %w", err)
	}

	hits := make([]vectorSearchHit, 0, len(result.Items))
	for _, item := range result.Items {
		hits = append(hits, vectorSearchHit{
			CitationID: citationID(item.ParentChunk),
			Text:       item.ParentChunk.Text,
			Score:      item.Score,
			FromGraph:  item.FromGraph,
		})
	}
	return map[string]any{
		"ok":           true,
		"results":      hits,
		"route_cached": result.GoldenRoute,
	}, nil
}

// citationID is the stable identifier the final answer must reference when
// it cites a passage retrieved by this tool.
func citationID(p domain.ParentChunk) string {
	return p.DocumentID + "#" + p.HierarchyPath
}
