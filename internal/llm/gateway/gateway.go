// Package gateway builds the LLM fallback chain (spec C8): an ordered list
// of providers tried in turn until one answers, plus a regex-based tool-call
// parser for models that do not support native function calling.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"legalrag/internal/config"
	"legalrag/internal/llm"
	"legalrag/internal/llm/anthropic"
	"legalrag/internal/llm/google"
	openaillm "legalrag/internal/llm/openai"
	"legalrag/internal/observability"
)

// namedProvider pairs a provider with the chain entry that produced it, so
// fallback logging can name which vendor answered or failed.
type namedProvider struct {
	name     string
	model    string
	provider llm.Provider
}

// Gateway dispatches chat requests across a fallback chain of providers.
// Callers get provider-agnostic behavior: the first reachable, non-exhausted
// provider in the chain serves the request.
type Gateway struct {
	providers []namedProvider
}

// Build constructs a Gateway from the configured fallback chain. Every
// entry in cfg.LLM.Chain must name a provider this package knows how to
// construct ("anthropic", "openai", "google").
func Build(cfg config.Config, httpClient *http.Client) (*Gateway, error) {
	if len(cfg.LLM.Chain) == 0 {
		return nil, fmt.Errorf("gateway: no providers configured")
	}
	gw := &Gateway{}
	for _, entry := range cfg.LLM.Chain {
		switch strings.ToLower(entry.Name) {
		case "anthropic":
			c := anthropic.New(cfg.Anthropic, httpClient)
			gw.providers = append(gw.providers, namedProvider{name: "anthropic", model: entry.Model, provider: c})
		case "openai":
			c := openaillm.New(cfg.OpenAI, httpClient)
			gw.providers = append(gw.providers, namedProvider{name: "openai", model: entry.Model, provider: c})
		case "google":
			c, err := google.New(cfg.Google, httpClient)
			if err != nil {
				return nil, fmt.Errorf("gateway: build google provider: %w", err)
			}
			gw.providers = append(gw.providers, namedProvider{name: "google", model: entry.Model, provider: c})
		default:
			return nil, fmt.Errorf("gateway: unknown provider %q in chain", entry.Name)
		}
	}
	return gw, nil
}

// Chat tries each provider in the chain in order, returning the first
// successful response. Tool calls are extracted natively when the provider
// supports them, else recovered from a "TOOL: name ARGS: {...}" convention
// in the response text for weaker models.
func (g *Gateway) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, modelOverride string) (llm.Message, string, error) {
	log := observability.LoggerWithTrace(ctx)
	var lastErr error
	for _, np := range g.providers {
		model := firstNonEmpty(modelOverride, np.model)
		msg, err := np.provider.Chat(ctx, msgs, tools, model)
		if err != nil {
			log.Warn().Err(err).Str("provider", np.name).Msg("gateway_provider_failed")
			lastErr = err
			continue
		}
		if len(msg.ToolCalls) == 0 {
			if tc, ok := parseFallbackToolCall(msg.Content); ok {
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
		}
		return msg, np.name, nil
	}
	return llm.Message{}, "", fmt.Errorf("gateway: all providers exhausted: %w", lastErr)
}

// ChatStream tries providers in order. A provider that fails before emitting
// any output is a clean fallback candidate; a provider that fails mid-stream
// has already shown partial output to the caller and is not retried, since
// silently restarting would duplicate content already sent downstream.
func (g *Gateway) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, modelOverride string, h llm.StreamHandler) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	var lastErr error
	for _, np := range g.providers {
		model := firstNonEmpty(modelOverride, np.model)
		wrapper := &fallbackDetectHandler{inner: h, toolParser: newFallbackToolAccumulator()}
		err := np.provider.ChatStream(ctx, msgs, tools, model, wrapper)
		if err == nil {
			wrapper.toolParser.flush(h)
			return np.name, nil
		}
		log.Warn().Err(err).Str("provider", np.name).Bool("emitted", wrapper.emitted).Msg("gateway_stream_provider_failed")
		lastErr = err
		if wrapper.emitted {
			return np.name, fmt.Errorf("gateway: provider %s failed mid-stream: %w", np.name, err)
		}
	}
	return "", fmt.Errorf("gateway: all providers exhausted: %w", lastErr)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// fallbackDetectHandler wraps a StreamHandler to track whether any output
// has reached the caller yet, and to accumulate text so a trailing
// "TOOL: name ARGS: {...}" convention can still be recognized even when the
// underlying provider has no native tool-calling support.
type fallbackDetectHandler struct {
	inner      llm.StreamHandler
	emitted    bool
	toolParser *fallbackToolAccumulator
}

func (h *fallbackDetectHandler) OnDelta(content string) {
	h.emitted = true
	h.toolParser.feed(content)
	h.inner.OnDelta(content)
}
func (h *fallbackDetectHandler) OnToolCall(tc llm.ToolCall) {
	h.emitted = true
	h.toolParser.sawNativeCall = true
	h.inner.OnToolCall(tc)
}
func (h *fallbackDetectHandler) OnImage(img llm.GeneratedImage) {
	h.emitted = true
	h.inner.OnImage(img)
}
func (h *fallbackDetectHandler) OnThoughtSummary(summary string) {
	h.emitted = true
	h.inner.OnThoughtSummary(summary)
}
func (h *fallbackDetectHandler) OnThoughtSignature(sig string) {
	h.inner.OnThoughtSignature(sig)
}

// fallbackToolAccumulator buffers streamed text to recognize the
// "TOOL: name ARGS: {...}" convention used by models without native
// function-calling support. It only fires when no native tool call arrived.
type fallbackToolAccumulator struct {
	buf           strings.Builder
	sawNativeCall bool
}

func newFallbackToolAccumulator() *fallbackToolAccumulator { return &fallbackToolAccumulator{} }

func (a *fallbackToolAccumulator) feed(s string) { a.buf.WriteString(s) }

func (a *fallbackToolAccumulator) flush(h llm.StreamHandler) {
	if a.sawNativeCall {
		return
	}
	if tc, ok := parseFallbackToolCall(a.buf.String()); ok {
		h.OnToolCall(tc)
	}
}

// toolCallPattern recognizes the textual tool-call convention emitted by
// models that cannot be given native function-calling schemas:
//
//	TOOL: vector_search ARGS: {"query": "pasal 5 ayat 2"}
var toolCallPattern = regexp.MustCompile(`(?s)TOOL:\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*ARGS:\s*(\{.*\})`)

func parseFallbackToolCall(content string) (llm.ToolCall, bool) {
	m := toolCallPattern.FindStringSubmatch(content)
	if m == nil {
		return llm.ToolCall{}, false
	}
	return llm.ToolCall{Name: m[1], Args: []byte(m[2]), ID: "fallback-" + m[1]}, true
}
