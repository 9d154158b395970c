package ocr

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"

	visionPrompt = "This image is a CAPTCHA. Reply with only the characters shown in it, " +
		"without spaces, punctuation or explanation."
)

// GeminiClassifier reads CAPTCHAs with a Gemini vision model
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier creates a Gemini API client
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini classifier requires an API key")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &GeminiClassifier{client: client, model: model}, nil
}

func (c *GeminiClassifier) Name() string {
	return "gemini"
}

func (c *GeminiClassifier) Classify(ctx context.Context, image []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, http.DetectContentType(image)),
			genai.NewPartFromText(visionPrompt),
		}, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				text.WriteString(part.Text)
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	return text.String(), nil
}
