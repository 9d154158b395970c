package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeModel = anthropic.ModelClaudeHaiku4_5

// ClaudeClassifier reads CAPTCHAs with a Claude vision model
type ClaudeClassifier struct {
	messages anthropic.MessageService
	model    anthropic.Model
}

// NewClaudeClassifier creates an Anthropic API client
func NewClaudeClassifier(apiKey, model string) (*ClaudeClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude classifier requires an API key")
	}

	m := anthropic.Model(model)
	if model == "" {
		m = defaultClaudeModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClassifier{messages: client.Messages, model: m}, nil
}

func (c *ClaudeClassifier) Name() string {
	return "claude"
}

func (c *ClaudeClassifier) Classify(ctx context.Context, image []byte) (string, error) {
	mediaType := http.DetectContentType(image)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/png"
	}

	resp, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 32,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(visionPrompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
