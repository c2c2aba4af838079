// Package tools implements the agent's tool layer (spec C7): a flat
// registry of typed, schema-validated capabilities the orchestrator can
// dispatch by name.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"legalrag/internal/llm"
)

// Tool is an executable capability the agent can call.
type Tool interface {
	Name() string
	JSONSchema() map[string]any
	Call(ctx context.Context, raw json.RawMessage) (any, error)
}

// Registry keeps track of tools, validates arguments against each tool's
// declared schema, and dispatches calls by name. Unknown tools and schema
// violations both return a structured error payload rather than a Go error,
// so a bad tool call becomes an observation turn instead of aborting the
// orchestrator loop.
type Registry interface {
	Schemas() []llm.ToolSchema
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error)
	Register(t Tool)
}

type defaultRegistry struct {
	byName map[string]Tool
}

// NewRegistry returns a basic in-memory registry.
func NewRegistry() Registry {
	return &defaultRegistry{byName: make(map[string]Tool)}
}

func (r *defaultRegistry) Register(t Tool) { r.byName[t.Name()] = t }

func (r *defaultRegistry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.byName))
	for name, t := range r.byName {
		schema := t.JSONSchema()
		out = append(out, llm.ToolSchema{
			Name:        name,
			Description: strFrom(schema["description"]),
			Parameters:  mapFrom(schema["parameters"]),
		})
	}
	return out
}

func (r *defaultRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	t := r.byName[name]
	if t == nil {
		return errorPayload(fmt.Sprintf("unknown tool %q", name)), nil
	}
	if err := validateArgs(t.JSONSchema(), raw); err != nil {
		return errorPayload("invalid arguments: " + err.Error()), nil
	}

	sink := SubtoolSinkFromContext(ctx)
	sink.emit(SubtoolEvent{Phase: "start", Name: name, Args: raw})
	started := time.Now()

	val, err := t.Call(ctx, raw)
	dur := time.Since(started).Milliseconds()
	if err != nil {
		sink.emit(SubtoolEvent{Phase: "end", Name: name, Args: raw, Error: err.Error(), DurationMS: dur})
		return errorPayload(err.Error()), nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		sink.emit(SubtoolEvent{Phase: "end", Name: name, Args: raw, Error: err.Error(), DurationMS: dur})
		return errorPayload(err.Error()), nil
	}
	sink.emit(SubtoolEvent{Phase: "end", Name: name, Args: raw, Payload: b, DurationMS: dur})
	return b, nil
}

func errorPayload(msg string) []byte {
	b, _ := json.Marshal(map[string]any{"ok": false, "error": msg})
	return b
}

// validateArgs checks raw tool-call arguments against the tool's declared
// JSON parameter schema before dispatch. A tool with no "parameters" entry
// is treated as schema-less and always passes.
func validateArgs(toolSchema map[string]any, raw json.RawMessage) error {
	params := mapFrom(toolSchema["parameters"])
	if params == nil {
		return nil
	}
	schemaJSON, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	var instance any
	if len(raw) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("malformed arguments json: %w", err)
	}
	return resolved.Validate(instance)
}

func strFrom(v any) string         { s, _ := v.(string); return s }
func mapFrom(v any) map[string]any { m, _ := v.(map[string]any); return m }
