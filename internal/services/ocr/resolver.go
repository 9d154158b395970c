package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
)

// Resolver turns a CAPTCHA image into a code, or "" when it cannot.
// It never returns an error and never panics: every classifier failure is a miss.
type Resolver struct {
	classifier interfaces.Classifier
	timeout    time.Duration
	logger     arbor.ILogger
	reportOnce sync.Once
}

// NewResolver wraps classifier; a nil classifier makes every Resolve a miss
func NewResolver(classifier interfaces.Classifier, timeout time.Duration, logger arbor.ILogger) *Resolver {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Resolver{
		classifier: classifier,
		timeout:    timeout,
		logger:     logger,
	}
}

// Available reports whether a classifier is configured
func (r *Resolver) Available() bool {
	return r != nil && r.classifier != nil
}

// Resolve classifies image. The first failure is logged; later ones are silent.
func (r *Resolver) Resolve(ctx context.Context, image []byte) (code string) {
	if !r.Available() {
		r.report("classifier not configured", nil)
		return ""
	}
	if len(image) == 0 {
		return ""
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.report("classifier panicked", fmt.Errorf("%v", rec))
			code = ""
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.classifier.Classify(ctx, image)
	if err != nil {
		r.report("classifier failed", err)
		return ""
	}

	code = normalize(out)
	if code == "" {
		r.report("classifier returned nothing", nil)
		return ""
	}

	r.logger.Debug().Str("classifier", r.classifier.Name()).Int("length", len(code)).Msg("CAPTCHA recognized")
	return code
}

func (r *Resolver) report(reason string, err error) {
	if r == nil {
		return
	}
	r.reportOnce.Do(func() {
		name := "none"
		if r.classifier != nil {
			name = r.classifier.Name()
		}
		if err != nil {
			r.logger.Warn().Str("classifier", name).Err(err).Msgf("Optical CAPTCHA recognition unavailable: %s", reason)
			return
		}
		r.logger.Warn().Str("classifier", name).Msgf("Optical CAPTCHA recognition unavailable: %s", reason)
	})
}

// normalize keeps the first line and drops surrounding whitespace and quotes.
// Vision models sometimes wrap the code in quotes or add a trailing explanation.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t\"'`")
	return strings.Join(strings.Fields(s), "")
}
