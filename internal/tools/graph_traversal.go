package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"legalrag/internal/domain"
	"legalrag/internal/graphstore"
)

// graphTraversalTool wraps the knowledge graph store (spec C5) as an
// agent-callable tool: given an entity name, returns a textual subgraph
// summary up to a bounded depth.
type graphTraversalTool struct {
	graph graphstore.Store
}

// NewGraphTraversalTool constructs the graph_traversal tool backed by g.
func NewGraphTraversalTool(g graphstore.Store) Tool {
	return &graphTraversalTool{graph: g}
}

func (t *graphTraversalTool) Name() string { return "graph_traversal" }

func (t *graphTraversalTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Traverse the legal knowledge graph outward from a named entity (e.g. a regulation, visa type, or agency) and summarize related entities.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"entity_name"},
			"properties": map[string]any{
				"entity_name": map[string]any{"type": "string", "description": "Entity name to start from"},
				"depth":       map[string]any{"type": "integer", "description": "Traversal depth, capped at 3", "minimum": 1, "maximum": 3},
			},
		},
	}
}

type graphTraversalArgs struct {
	EntityName string `json:"entity_name"`
	Depth      int    `json:"depth"`
}

func (t *graphTraversalTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args graphTraversalArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("graph_traversal: malformed arguments: %w", err)
	}
	if args.EntityName == "" {
		return nil, fmt.Errorf("graph_traversal: entity_name is required")
	}
	if t.graph == nil {
		return nil, fmt.Errorf("graph_traversal: graph store not configured")
	}

	depth := args.Depth
	if depth <= 0 || depth > graphstore.MaxTraversalDepth {
		depth = graphstore.MaxTraversalDepth
	}

	start, err := t.graph.FindEntityByName(ctx, args.EntityName)
	if err != nil {
		if err == graphstore.ErrEntityNotFound {
			return map[string]any{"ok": false, "error": fmt.Sprintf("entity %q not found in knowledge graph", args.EntityName)}, nil
		}
		return nil, fmt.Errorf("graph_traversal: %w", err)
	}

	hits, err := t.graph.Traverse(ctx, start.ID, depth, nil)
	if err != nil {
		return nil, fmt.Errorf("graph_traversal: %w", err)
	}
	return map[string]any{
		"ok":      true,
		"root":    start.Name,
		"summary": summarizeSubgraph(start, hits),
	}, nil
}

func summarizeSubgraph(root domain.Entity, hits []graphstore.TraversalHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("%s (%s): no related entities found", root.Name, root.Type)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s\n", root.Name, root.Type, root.Description)
	for _, h := range hits {
		fmt.Fprintf(&b, "- [%d hop] %s %s %s (%s)\n", h.Depth, h.FromID, h.ViaRel, h.Entity.Name, h.Entity.Type)
	}
	return b.String()
}
