package orchestrator

import "encoding/json"

// EventType enumerates the typed events streamed back to a caller of
// POST /api/chat/stream, in the order the state machine produces them.
type EventType string

const (
	EventToken    EventType = "token"
	EventToolCall EventType = "tool_call"
	EventMetadata EventType = "metadata"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// ToolCallEvent reports one tool dispatch: the call the model made and the
// observation it produced. Deduplicated/Discarded record the dedup and
// tie-breaking decisions so a UI can surface why a call did not run.
type ToolCallEvent struct {
	Name         string          `json:"name"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	Discarded    bool            `json:"discarded,omitempty"`
	DiscardedWhy string          `json:"discarded_why,omitempty"`
}

// Metadata closes out a turn with citations, routing, and accounting info.
type Metadata struct {
	Citations    []string `json:"citations"`
	RouteUsed    bool     `json:"route_used"`
	ModelChain   []string `json:"model_chain"`
	Steps        int      `json:"steps"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	Truncated    bool     `json:"truncated"`
	VerifierTag  string   `json:"verifier_status,omitempty"`
}

// ErrorKind mirrors the error taxonomy from §7: the orchestrator only ever
// emits one of these on an "error" event.
type ErrorKind string

const (
	ErrInput     ErrorKind = "input_error"
	ErrRetrieval ErrorKind = "retrieval_error"
	ErrProvider  ErrorKind = "provider_error"
	ErrBudget    ErrorKind = "budget_exceeded"
	ErrCancelled ErrorKind = "cancelled"
	ErrFatal     ErrorKind = "fatal_error"
)

// Event is one item in the stream. Exactly one of Token/ToolCall/Metadata/Err
// is populated, matching Type.
type Event struct {
	Type     EventType     `json:"type"`
	Token    string        `json:"token,omitempty"`
	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`
	Metadata *Metadata     `json:"metadata,omitempty"`
	ErrKind  ErrorKind     `json:"error_kind,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// Sink receives events as the state machine produces them. A nil Sink is
// valid: Run still returns a final Result, it just streams to nobody.
type Sink func(Event)

func emit(sink Sink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
