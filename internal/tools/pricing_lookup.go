package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PriceRecord is one entry in the internal pricing catalogue.
type PriceRecord struct {
	ServiceType string  `json:"service_type"`
	Description string  `json:"description"`
	AmountIDR   float64 `json:"amount_idr"`
	Unit        string  `json:"unit"` // e.g. "per application", "per year"
}

// pricingLookupTool answers pricing_lookup calls from a fixed in-memory
// catalogue. Real deployments would source this from the pricing sheet
// Document ingested into C4, but the tool itself only needs lookup-by-key.
type pricingLookupTool struct {
	catalogue map[string]PriceRecord
}

// NewPricingLookupTool constructs the pricing_lookup tool over catalogue,
// keyed by lowercase service_type.
func NewPricingLookupTool(catalogue []PriceRecord) Tool {
	byKey := make(map[string]PriceRecord, len(catalogue))
	for _, rec := range catalogue {
		byKey[strings.ToLower(rec.ServiceType)] = rec
	}
	return &pricingLookupTool{catalogue: byKey}
}

func (t *pricingLookupTool) Name() string { return "pricing_lookup" }

func (t *pricingLookupTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Look up the standard price for a named service (e.g. a visa category or permit type) from the internal pricing catalogue.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"service_type"},
			"properties": map[string]any{
				"service_type": map[string]any{"type": "string", "description": "Catalogue key, e.g. \"kitas_work_permit\""},
			},
		},
	}
}

type pricingLookupArgs struct {
	ServiceType string `json:"service_type"`
}

func (t *pricingLookupTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args pricingLookupArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("pricing_lookup: malformed arguments: %w", err)
	}
	if args.ServiceType == "" {
		return nil, fmt.Errorf("pricing_lookup: service_type is required")
	}
	rec, ok := t.catalogue[strings.ToLower(args.ServiceType)]
	if !ok {
		return map[string]any{"ok": false, "error": fmt.Sprintf("no pricing found for %q", args.ServiceType)}, nil
	}
	return map[string]any{"ok": true, "record": rec}, nil
}
