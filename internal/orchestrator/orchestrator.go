// Package orchestrator implements the ReAct state machine (spec C11): for
// each turn it assembles identity/memory context, asks the LLM gateway to
// generate, dispatches at most one tool call per step, optionally verifies
// the draft against retrieved evidence, and streams typed events while
// persisting the finished turn.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"legalrag/internal/config"
	"legalrag/internal/domain"
	"legalrag/internal/llm"
	"legalrag/internal/memory"
	"legalrag/internal/observability"
	"legalrag/internal/tools"
	"legalrag/internal/verify"
)

// Generator is the subset of gateway.Gateway the orchestrator depends on.
// Declaring it locally (rather than importing the gateway package's concrete
// type) keeps this package testable with a stub and avoids coupling the
// state machine to one fallback-chain implementation.
type Generator interface {
	Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, string, error)
	ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) (string, error)
}

// AsProvider adapts a Generator to llm.Provider, discarding the chain's
// "which provider answered" detail, so a Generator can back the verifier's
// judge call without the verifier needing to know about fallback chains.
func AsProvider(g Generator) llm.Provider { return providerAdapter{g} }

type providerAdapter struct{ gen Generator }

func (p providerAdapter) Chat(ctx context.Context, msgs []llm.Message, t []llm.ToolSchema, model string) (llm.Message, error) {
	msg, _, err := p.gen.Chat(ctx, msgs, t, model)
	return msg, err
}

func (p providerAdapter) ChatStream(ctx context.Context, msgs []llm.Message, t []llm.ToolSchema, model string, h llm.StreamHandler) error {
	_, err := p.gen.ChatStream(ctx, msgs, t, model, h)
	return err
}

// TurnSink persists finished turns durably (spec C12). A nil Sink is valid;
// the orchestrator simply does not persist (useful in tests).
type TurnSink interface {
	AppendTurn(ctx context.Context, t domain.Turn) error
}

// Orchestrator wires together the components a turn touches. Every field
// besides Gen, Tools, Memory, and Cfg is optional and degrades gracefully
// when nil/zero.
type Orchestrator struct {
	Gen      Generator
	Tools    tools.Registry
	Memory   *memory.Assembler
	Verifier *verify.Verifier // nil or Features.EnableVerifier=false disables
	Sink     TurnSink         // nil disables persistence

	System   string // base system prompt, before the USER CONTEXT block is appended
	Model    string
	Cfg      config.OrchestratorConfig
	Features config.FeatureFlags

	toolCallSeq uint64
}

// Request is one incoming chat turn, matching the POST /api/chat/stream and
// POST /api/agentic-rag/query wire bodies.
type Request struct {
	UserID         string       `json:"user_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Message        string       `json:"message"`
	History        []llm.Message `json:"history,omitempty"`
	Model          string       `json:"model,omitempty"` // overrides Orchestrator.Model when set
}

// Result is the non-streaming outcome of Run, also returned alongside a
// stream of Events for streaming callers.
type Result struct {
	Answer     string
	Citations  []string
	RouteUsed  bool
	ModelChain []string
	Steps      int
	Truncated  bool
}

const defaultStepBudget = 6

// Run executes the full state machine for req, invoking sink (if non-nil)
// with every event in order, and returns the final Result. Tool failures
// and an exhausted step budget are not Go errors: they are reported through
// the "tool_call"/"metadata"/"done" events and reflected in Result. Run
// returns an error when Gen is nil, when ctx is done before a generation
// step, or when the generator fails (its provider chain is exhausted); the
// last two also emit an "error" event.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	log := observability.LoggerWithTrace(ctx)

	if o.Gen == nil {
		return Result{}, fmt.Errorf("orchestrator: no generator configured")
	}

	reqTimeout := time.Duration(o.Cfg.PerRequestTimeoutSeconds) * time.Second
	if reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reqTimeout)
		defer cancel()
	}

	ctx = tools.WithSubtoolSink(ctx, func(ev tools.SubtoolEvent) {
		if ev.Phase != "end" {
			return
		}
		observability.RecordToolDuration(ctx, ev.Name, ev.DurationMS, ev.Error == "")
	})

	if isOutOfDomain(req.Message) {
		log.Info().Str("conversation_id", req.ConversationID).Msg("orchestrator_out_of_domain_refusal")
		return o.finalize(ctx, req, OutOfDomainRefusal, nil, false, false, 0, sink)
	}

	memCtx := memory.Context{}
	if o.Memory != nil {
		memCtx = o.Memory.Assemble(ctx, req.UserID, req.ConversationID)
	}

	if isIdentityQuestion(req.Message) {
		answer := identityAnswer(memCtx)
		log.Info().Str("conversation_id", req.ConversationID).Msg("orchestrator_identity_shortcut")
		return o.finalize(ctx, req, answer, nil, false, false, 0, sink)
	}

	system := o.System
	if memCtx.Block != "" {
		system = strings.TrimSpace(system + "\n\n" + memCtx.Block)
	}

	msgs := buildInitialMessages(system, req.Message, req.History)
	schemas := o.Tools.Schemas()

	model := req.Model
	if model == "" {
		model = o.Model
	}

	budget := o.Cfg.StepBudget
	if budget <= 0 {
		budget = defaultStepBudget
	}

	var (
		citations  []string
		truncated  bool
		steps      int
		modelChain []string
		evidence   []domain.ParentChunk
		routeUsed  bool
		draft      string
	)

generate:
	for steps < budget {
		select {
		case <-ctx.Done():
			return o.abort(ctx, req, ErrCancelled, ctx.Err(), sink)
		default:
		}

		msg, providerName, toolCalls, err := o.generateStep(ctx, msgs, schemas, model, sink)
		if err != nil {
			return o.abort(ctx, req, ErrProvider, err, sink)
		}
		modelChain = appendUnique(modelChain, providerName)
		toolCalls = o.ensureToolCallIDs(toolCalls)
		msg.ToolCalls = toolCalls
		msgs = append(msgs, msg)

		if len(toolCalls) == 0 {
			draft = msg.Content
			break generate
		}

		chosen, discarded, ok := selectToolCall(toolCalls)
		for _, d := range discarded {
			log.Warn().Str("tool", d.Name).Str("why", d.DiscardedWhy).Msg("orchestrator_tool_call_discarded")
			emit(sink, Event{Type: EventToolCall, ToolCall: &d})
		}
		if !ok {
			draft = msg.Content
			break generate
		}

		payload, dispatchErr := o.Tools.Dispatch(ctx, chosen.Name, chosen.Args)
		if dispatchErr != nil {
			payload = []byte(fmt.Sprintf(`{"ok":false,"error":%q}`, dispatchErr.Error()))
		}
		steps++

		if chosen.Name == "vector_search" {
			hits, routed := extractCitations(payload)
			citations = appendUnique(citations, hits...)
			evidence = append(evidence, payloadToEvidence(payload)...)
			routeUsed = routeUsed || routed
		}

		emit(sink, Event{Type: EventToolCall, ToolCall: &ToolCallEvent{
			Name: chosen.Name, Args: chosen.Args, Result: json.RawMessage(payload), ToolCallID: chosen.ID,
		}})

		msgs = append(msgs, llm.Message{Role: "tool", Content: string(payload), ToolID: chosen.ID})

		if steps >= budget {
			truncated = true
			draft = msg.Content
			break generate
		}
	}

	if o.Features.EnableVerifier && o.Verifier != nil && draft != "" {
		verdict, _ := o.Verifier.Verify(ctx, req.Message, draft, evidence)
		if verdict.Status == verify.StatusFail && steps < budget {
			msgs = append(msgs, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("A fact-check flagged your previous answer: %s. Revise your answer so every claim is directly supported by the retrieved passages.", verdict.Reasoning),
			})
			steps++
			goto generate
		}
		if verdict.Status != verify.StatusPass {
			draft = "[low confidence] " + draft
		}
	}

	if draft == "" && truncated {
		draft = "(no final answer reached within the step budget)"
	}

	result, err := o.finalize(ctx, req, draft, citations, routeUsed, truncated, steps, sink)
	result.ModelChain = modelChain
	return result, err
}

// generateStep calls the gateway once, accumulating streamed content and
// tool calls, and forwards token events to sink as they arrive.
func (o *Orchestrator) generateStep(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string, sink Sink) (llm.Message, string, []llm.ToolCall, error) {
	var content strings.Builder
	var calls []llm.ToolCall

	h := &sinkStreamHandler{
		onDelta: func(s string) {
			content.WriteString(s)
			emit(sink, Event{Type: EventToken, Token: s})
		},
		onToolCall: func(tc llm.ToolCall) { calls = append(calls, tc) },
	}

	providerName, err := o.Gen.ChatStream(ctx, msgs, schemas, model, h)
	if err != nil {
		return llm.Message{}, "", nil, err
	}

	return llm.Message{Role: "assistant", Content: content.String(), ToolCalls: calls}, providerName, calls, nil
}

type sinkStreamHandler struct {
	onDelta    func(string)
	onToolCall func(llm.ToolCall)
}

func (h *sinkStreamHandler) OnDelta(content string)    { h.onDelta(content) }
func (h *sinkStreamHandler) OnToolCall(tc llm.ToolCall) { h.onToolCall(tc) }
func (h *sinkStreamHandler) OnImage(llm.GeneratedImage) {}
func (h *sinkStreamHandler) OnThoughtSummary(string)    {}
func (h *sinkStreamHandler) OnThoughtSignature(string)  {}

// abort ends the turn on a fatal/cancelled condition: emits an error event,
// persists the partial turn for audit, and returns the triggering error.
func (o *Orchestrator) abort(ctx context.Context, req Request, kind ErrorKind, cause error, sink Sink) (Result, error) {
	log := observability.LoggerWithTrace(ctx)
	log.Error().Err(cause).Str("kind", string(kind)).Str("conversation_id", req.ConversationID).Msg("orchestrator_turn_aborted")
	emit(sink, Event{Type: EventError, ErrKind: kind, Err: cause.Error()})

	if o.Sink != nil {
		persistCtx := context.WithoutCancel(ctx)
		_ = o.Sink.AppendTurn(persistCtx, domain.Turn{
			ConversationID: req.ConversationID, Role: domain.RoleUser, Content: req.Message, Timestamp: now(),
		})
	}
	return Result{}, cause
}

// finalize emits the metadata+done events, persists the turn, and returns
// the Result.
func (o *Orchestrator) finalize(ctx context.Context, req Request, answer string, citations []string, routeUsed, truncated bool, steps int, sink Sink) (Result, error) {
	meta := &Metadata{
		Citations:   citations,
		RouteUsed:   routeUsed,
		Steps:       steps,
		Truncated:   truncated,
		InputTokens: llm.EstimateTokens(req.Message),
		OutputTokens: llm.EstimateTokens(answer),
	}
	emit(sink, Event{Type: EventMetadata, Metadata: meta})
	emit(sink, Event{Type: EventDone})

	if o.Sink != nil {
		ts := now()
		_ = o.Sink.AppendTurn(ctx, domain.Turn{ConversationID: req.ConversationID, Role: domain.RoleUser, Content: req.Message, Timestamp: ts})
		_ = o.Sink.AppendTurn(ctx, domain.Turn{ConversationID: req.ConversationID, Role: domain.RoleAssistant, Content: answer, Timestamp: ts})
	}

	return Result{
		Answer:    answer,
		Citations: citations,
		RouteUsed: routeUsed,
		Steps:     steps,
		Truncated: truncated,
	}, nil
}

func identityAnswer(ctx memory.Context) string {
	if ctx.Anonymous || ctx.Block == "" {
		return "I don't have an identity record for you on file, so I can't say who you are."
	}
	return "Based on your profile:\n\n" + ctx.Block
}

func buildInitialMessages(system, user string, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, 2+len(history))
	if system != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, history...)
	if user != "" {
		msgs = append(msgs, llm.Message{Role: "user", Content: user})
	}
	return msgs
}

func appendUnique(list []string, vals ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		list = append(list, v)
	}
	return list
}

type vectorSearchToolResult struct {
	OK          bool   `json:"ok"`
	RouteCached bool   `json:"route_cached"`
	Results     []struct {
		CitationID string  `json:"citation_id"`
		Text       string  `json:"text"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// extractCitations parses a vector_search tool payload into the citation
// ids it surfaced and whether the golden-route cache served it.
func extractCitations(payload []byte) ([]string, bool) {
	var r vectorSearchToolResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false
	}
	ids := make([]string, 0, len(r.Results))
	for _, hit := range r.Results {
		ids = append(ids, hit.CitationID)
	}
	return ids, r.RouteCached
}

// payloadToEvidence reconstructs minimal ParentChunks from a vector_search
// payload for the verifier; citation ids are "document_id#hierarchy_path".
func payloadToEvidence(payload []byte) []domain.ParentChunk {
	var r vectorSearchToolResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil
	}
	out := make([]domain.ParentChunk, 0, len(r.Results))
	for _, hit := range r.Results {
		docID, path := hit.CitationID, ""
		if idx := strings.IndexByte(hit.CitationID, '#'); idx >= 0 {
			docID, path = hit.CitationID[:idx], hit.CitationID[idx+1:]
		}
		out = append(out, domain.ParentChunk{DocumentID: docID, HierarchyPath: path, Text: hit.Text})
	}
	return out
}

// now is a seam so tests can avoid depending on wall-clock time if needed.
var now = time.Now

// ensureToolCallIDs assigns a sequential id to any tool call missing one, so
// every tool observation can be correlated back to its call. Calls carrying
// a provider thought signature (Gemini) keep their id untouched even if
// empty, since the signature itself is what must round-trip.
func (o *Orchestrator) ensureToolCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) != "" || strings.TrimSpace(calls[i].ThoughtSignature) != "" {
			continue
		}
		o.toolCallSeq++
		calls[i].ID = fmt.Sprintf("orch-call-%d", o.toolCallSeq)
	}
	return calls
}
