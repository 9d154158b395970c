package interfaces

import (
	"context"
)

// Classifier turns a CAPTCHA image into its text.
// Implementations may call a local OCR service or a vision model.
type Classifier interface {
	// Name identifies the backend in logs
	Name() string

	// Classify returns the recognized code for a PNG/JPEG image
	Classify(ctx context.Context, image []byte) (string, error)
}
