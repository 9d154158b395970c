package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/keepliver/internal/httpclient"
)

// HTTPClassifier posts the image to a ddddocr-style OCR service
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClassifier creates a classifier for endpoint
func NewHTTPClassifier(endpoint string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		client:   httpclient.NewDefaultHTTPClient(timeout),
	}
}

func (c *HTTPClassifier) Name() string {
	return "http"
}

// Classify sends {"image": "<base64>"} and accepts {"result": ...}, {"data": ...} or plain text
func (c *HTTPClassifier) Classify(ctx context.Context, image []byte) (string, error) {
	payload, err := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return "", err
	}

	status, body, err := httpclient.Post(ctx, c.client, c.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("ocr service returned status %d", status)
	}

	return parseOCRResponse(body), nil
}

func parseOCRResponse(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] != '{' {
		return strings.TrimSpace(string(trimmed))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"result", "data", "code", "text"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}
