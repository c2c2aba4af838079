package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"net/http"

	"legalrag/internal/config"
	"legalrag/internal/llm"
	"legalrag/internal/observability"
)

// Client adapts the OpenAI chat completions API to llm.Provider, used for
// the embedding-adjacent chat model and as a fallback provider in the
// gateway's chain.
type Client struct {
	sdk        sdk.Client
	model      string
	extra      map[string]any
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ImageAttachment is a single image included in a user turn, e.g. a scanned
// regulation page submitted for a vision-capable tool call.
type ImageAttachment struct {
	MimeType   string
	Base64Data string
}

func New(c config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(c.APIKey)}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	opts = append(opts, option.WithHTTPClient(httpClient))

	return &Client{
		sdk:        sdk.NewClient(opts...),
		model:      c.Model,
		extra:      c.ExtraParams,
		baseURL:    c.BaseURL,
		apiKey:     c.APIKey,
		httpClient: httpClient,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isEmptyArgsBytes(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "{}" || trimmed == "null"
}

// Chat implements llm.Provider.Chat using OpenAI Chat Completions.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := firstNonEmpty(model, c.model)
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(effectiveModel)}
	params.Messages = AdaptMessages(string(params.Model), msgs)
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_completion_error")
		span.RecordError(err)
		return llm.Message{}, err
	}

	var out llm.Message
	if len(comp.Choices) > 0 {
		msg := comp.Choices[0].Message
		out = llm.Message{Role: "assistant", Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
				if isEmptyArgsBytes([]byte(v.Function.Arguments)) {
					log.Warn().Str("tool", v.Function.Name).Msg("skipping tool call with empty arguments")
					continue
				}
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
					Name: v.Function.Name,
					Args: json.RawMessage(v.Function.Arguments),
					ID:   v.ID,
				})
			}
		}
	}

	llm.LogRedactedResponse(ctx, comp.Choices)
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	llm.RecordTokenMetricsFromContext(ctx, string(params.Model), int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_completion_ok")
	return out, nil
}

// ChatStream implements streaming chat completions using OpenAI's streaming API.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	effectiveModel := firstNonEmpty(model, c.model)
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(effectiveModel)}
	params.Messages = AdaptMessages(string(params.Model), msgs)
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := make(map[int]*llm.ToolCall)
	toolCallsFlushed := false
	var promptTokens, completionTokens, totalTokens int

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens > 0 {
				promptTokens = int(chunk.Usage.PromptTokens)
				completionTokens = int(chunk.Usage.CompletionTokens)
				totalTokens = int(chunk.Usage.TotalTokens)
			}
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llm.ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}
		if chunk.Choices[0].FinishReason != "" && !toolCallsFlushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" && !isEmptyArgsBytes(tc.Args) {
					h.OnToolCall(*tc)
				}
			}
			toolCallsFlushed = true
		}
	}

	err := stream.Err()
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_stream_error")
		span.RecordError(err)
		return err
	}
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
	if promptTokens > 0 || completionTokens > 0 {
		llm.RecordTokenMetricsFromContext(ctx, string(params.Model), promptTokens, completionTokens)
	}
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_stream_ok")
	return nil
}

// ChatWithImageAttachments sends a chat completion with one or more image
// attachments alongside the final user turn, used by vision-capable tools
// (e.g. reading a scanned regulation page).
func (c *Client) ChatWithImageAttachments(ctx context.Context, msgs []llm.Message, images []ImageAttachment, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := firstNonEmpty(model, c.model)
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(effectiveModel)}

	adapted := AdaptMessages(string(params.Model), msgs)
	for i := len(adapted) - 1; i >= 0; i-- {
		if adapted[i].OfUser == nil {
			continue
		}
		userMsg := adapted[i].OfUser
		var parts []sdk.ChatCompletionContentPartUnionParam
		if userMsg.Content.OfString.Valid() && userMsg.Content.OfString.Value != "" {
			parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
				OfText: &sdk.ChatCompletionContentPartTextParam{Text: userMsg.Content.OfString.Value},
			})
		}
		for _, img := range images {
			if strings.TrimSpace(img.MimeType) == "" || strings.TrimSpace(img.Base64Data) == "" {
				continue
			}
			dataURL := "data:" + img.MimeType + ";base64," + img.Base64Data
			parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
				OfImageURL: &sdk.ChatCompletionContentPartImageParam{
					ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
				},
			})
		}
		adapted[i] = sdk.ChatCompletionMessageParamUnion{
			OfUser: &sdk.ChatCompletionUserMessageParam{
				Content: sdk.ChatCompletionUserMessageParamContentUnion{OfArrayOfContentParts: parts},
			},
		}
		break
	}
	params.Messages = adapted
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatWithImageAttachments", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Msg("chat_with_image_error")
		span.RecordError(err)
		return llm.Message{}, err
	}
	if len(comp.Choices) == 0 {
		return llm.Message{}, nil
	}
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	llm.RecordTokenMetricsFromContext(ctx, string(params.Model), int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
	msg := comp.Choices[0].Message
	return llm.Message{Role: "assistant", Content: msg.Content}, nil
}

// GenerateImage is retained for parity with the image-capable tool surface
// but is not wired into the default Chat path, and no tool handler in this
// module calls it.
func (c *Client) GenerateImage(ctx context.Context, prompt, model, size string) (llm.Message, error) {
	imgModel := firstNonEmpty(model, c.model, "gpt-image-1")
	if size == "" {
		size = "1024x1024"
	}
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ImageGen", imgModel, 0, 1)
	defer span.End()
	log := observability.LoggerWithTrace(ctx)

	resp, err := c.sdk.Images.Generate(ctx, sdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  sdk.ImageModel(imgModel),
		N:      param.NewOpt[int64](1),
		Size:   sdk.ImageGenerateParamsSize(size),
	})
	if err != nil {
		log.Error().Err(err).Str("model", imgModel).Msg("image_generation_error")
		span.RecordError(err)
		return llm.Message{}, err
	}
	images := make([]llm.GeneratedImage, 0, len(resp.Data))
	for _, img := range resp.Data {
		if strings.TrimSpace(img.B64JSON) == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			continue
		}
		images = append(images, llm.GeneratedImage{Data: data, MIMEType: "image/png"})
	}
	return llm.Message{Role: "assistant", Content: fmt.Sprintf("generated %d image(s)", len(images)), Images: images}, nil
}
