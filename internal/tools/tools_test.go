package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalrag/internal/domain"
	"legalrag/internal/graphstore"
)

func TestCalculator_Arithmetic(t *testing.T) {
	tool := NewCalculatorTool()
	out, err := tool.Call(context.Background(), json.RawMessage(`{"expression":"(1500000 + 250000) * 1.1"}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, true, m["ok"])
	assert.InDelta(t, 1925000.0, m["result"], 0.001)
}

func TestCalculator_DivisionByZero(t *testing.T) {
	tool := NewCalculatorTool()
	out, err := tool.Call(context.Background(), json.RawMessage(`{"expression":"1/0"}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, false, m["ok"])
}

func TestCalculator_RejectsNonGrammar(t *testing.T) {
	_, err := evalExpression(`import "os"`)
	assert.Error(t, err)
}

func TestPricingLookup_Found(t *testing.T) {
	tool := NewPricingLookupTool([]PriceRecord{
		{ServiceType: "kitas_work_permit", AmountIDR: 3_500_000, Unit: "per year"},
	})
	out, err := tool.Call(context.Background(), json.RawMessage(`{"service_type":"KITAS_Work_Permit"}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, true, m["ok"])
	rec := m["record"].(PriceRecord)
	assert.Equal(t, 3_500_000.0, rec.AmountIDR)
}

func TestPricingLookup_NotFound(t *testing.T) {
	tool := NewPricingLookupTool(nil)
	out, err := tool.Call(context.Background(), json.RawMessage(`{"service_type":"unknown"}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, false, m["ok"])
}

type fakeGraphStore struct {
	entity domain.Entity
	hits   []graphstore.TraversalHit
	found  bool
}

func (f *fakeGraphStore) UpsertEntity(ctx context.Context, e domain.Entity) error             { return nil }
func (f *fakeGraphStore) UpsertRelationship(ctx context.Context, r domain.Relationship) error { return nil }
func (f *fakeGraphStore) GetEntity(ctx context.Context, id string) (domain.Entity, error)      { return f.entity, nil }
func (f *fakeGraphStore) Close()                                                               {}
func (f *fakeGraphStore) FindEntityByName(ctx context.Context, name string) (domain.Entity, error) {
	if !f.found {
		return domain.Entity{}, graphstore.ErrEntityNotFound
	}
	return f.entity, nil
}
func (f *fakeGraphStore) Traverse(ctx context.Context, startID string, depth int, relTypes []domain.RelationshipType) ([]graphstore.TraversalHit, error) {
	return f.hits, nil
}

func TestGraphTraversal_Found(t *testing.T) {
	store := &fakeGraphStore{
		found:  true,
		entity: domain.Entity{ID: "visa_c1", Type: domain.EntityVisa, Name: "C1 Visa", Description: "Tourist visa"},
		hits: []graphstore.TraversalHit{
			{Entity: domain.Entity{ID: "req_sponsor", Type: domain.EntityRequirement, Name: "Sponsor Letter"}, Depth: 1, ViaRel: domain.RelRequires, FromID: "visa_c1"},
		},
	}
	tool := NewGraphTraversalTool(store)
	out, err := tool.Call(context.Background(), json.RawMessage(`{"entity_name":"C1 Visa","depth":2}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, true, m["ok"])
	assert.Contains(t, m["summary"], "Sponsor Letter")
}

func TestGraphTraversal_EntityNotFound(t *testing.T) {
	tool := NewGraphTraversalTool(&fakeGraphStore{found: false})
	out, err := tool.Call(context.Background(), json.RawMessage(`{"entity_name":"nonexistent"}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, false, m["ok"])
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Echo back the message.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"message"},
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
		},
	}
}
func (echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &args)
	return map[string]any{"ok": true, "echo": args.Message}, nil
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	payload, err := reg.Dispatch(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, false, decoded["ok"])
}

func TestRegistry_DispatchValidatesSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	payload, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, false, decoded["ok"])
}

func TestRegistry_DispatchSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})
	payload, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "hi", decoded["echo"])
}

func TestRegistry_DispatchEmitsSubtoolLifecycle(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})

	var events []SubtoolEvent
	ctx := WithSubtoolSink(context.Background(), func(ev SubtoolEvent) {
		events = append(events, ev)
	})

	_, err := reg.Dispatch(ctx, "echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "start", events[0].Phase)
	assert.Equal(t, "echo", events[0].Name)
	assert.Equal(t, "end", events[1].Phase)
	assert.Equal(t, "echo", events[1].Name)
	assert.Empty(t, events[1].Error)
	assert.GreaterOrEqual(t, events[1].DurationMS, int64(0))
}

func TestRegistry_DispatchSchemaFailureEmitsNoSubtoolEvents(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool{})

	var events []SubtoolEvent
	ctx := WithSubtoolSink(context.Background(), func(ev SubtoolEvent) {
		events = append(events, ev)
	})

	// Missing the required "message" field fails schema validation before
	// the tool ever runs, so no lifecycle event should fire.
	_, err := reg.Dispatch(ctx, "echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}
