package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"legalrag/internal/llm"
	"legalrag/internal/llm/openai"
)

// visionTool answers questions about an inline image (e.g. a scanned
// regulation page or a photographed permit) via a vision-capable chat model.
// It is optional: callers that never register it simply omit "vision" from
// the tool schemas advertised to the model.
type visionTool struct {
	client *openai.Client
	model  string
}

// NewVisionTool constructs the vision tool backed by client, using model for
// every call (empty falls back to the client's configured default).
func NewVisionTool(client *openai.Client, model string) Tool {
	return &visionTool{client: client, model: model}
}

func (t *visionTool) Name() string { return "vision" }

func (t *visionTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Answer a question about an image, such as a scanned regulation page or photographed permit.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"image_base64", "question"},
			"properties": map[string]any{
				"image_base64": map[string]any{"type": "string", "description": "Base64-encoded image bytes"},
				"mime_type":    map[string]any{"type": "string", "description": "Image MIME type, defaults to image/png"},
				"question":     map[string]any{"type": "string", "description": "What to look for or answer about the image"},
			},
		},
	}
}

type visionArgs struct {
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	Question    string `json:"question"`
}

func (t *visionTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args visionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("vision: malformed arguments: %w", err)
	}
	if args.ImageBase64 == "" || args.Question == "" {
		return nil, fmt.Errorf("vision: image_base64 and question are required")
	}
	if t.client == nil {
		return nil, fmt.Errorf("vision: no vision-capable client configured")
	}
	mime := args.MimeType
	if mime == "" {
		mime = "image/png"
	}

	msgs := []llm.Message{
		{Role: "user", Content: args.Question},
	}
	images := []openai.ImageAttachment{{MimeType: mime, Base64Data: args.ImageBase64}}

	reply, err := t.client.ChatWithImageAttachments(ctx, msgs, images, nil, t.model)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	return map[string]any{"ok": true, "description": reply.Content}, nil
}
