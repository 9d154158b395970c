package ocr

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/common"
	"github.com/ternarybob/keepliver/internal/interfaces"
)

// NewClassifier builds the configured classifier. Backend "none" returns nil, nil.
func NewClassifier(ctx context.Context, config common.OCRConfig, logger arbor.ILogger) (interfaces.Classifier, error) {
	timeout := common.Duration(config.Timeout, 0)

	switch config.Backend {
	case "", "none":
		return nil, nil
	case "http":
		if config.Endpoint == "" {
			return nil, fmt.Errorf("ocr backend http requires an endpoint")
		}
		logger.Debug().Str("endpoint", config.Endpoint).Msg("Using HTTP OCR classifier")
		return NewHTTPClassifier(config.Endpoint, timeout), nil
	case "gemini":
		c, err := NewGeminiClassifier(ctx, config.APIKey, config.Model)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "claude":
		c, err := NewClaudeClassifier(config.APIKey, config.Model)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown ocr backend: %s", config.Backend)
	}
}
