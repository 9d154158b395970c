package login

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
	"github.com/ternarybob/keepliver/internal/models"
)

// page wraps the driver with best-effort interactions. None of its methods return errors;
// failures are reported as StepResult and logged at debug level.
type page struct {
	driver interfaces.BrowserDriver
	logger arbor.ILogger
}

func (p *page) exists(ctx context.Context, selector string) bool {
	ok, err := p.driver.Exists(ctx, selector)
	return err == nil && ok
}

// fill types value into selector, falling back to scripted assignment with input/change events
func (p *page) fill(ctx context.Context, selector, value string) models.StepResult {
	if !p.exists(ctx, selector) {
		return models.StepNotApplicable
	}
	err := p.driver.TypeInto(ctx, selector, value)
	if err == nil {
		return models.StepSucceeded
	}
	p.logger.Debug().Err(err).Str("selector", selector).Msg("Typing failed, assigning value by script")

	ok, err := evalBool(ctx, p.driver, jsCall(setValueJS, selector, value, []string{"blur"}))
	if err != nil || !ok {
		return models.StepFailedSoft
	}
	return models.StepSucceeded
}

// click clicks selector natively, then by script
func (p *page) click(ctx context.Context, selector string) models.StepResult {
	err := p.driver.Click(ctx, selector)
	if err == nil {
		return models.StepSucceeded
	}
	if !errors.Is(err, interfaces.ErrElementNotFound) {
		p.logger.Debug().Err(err).Str("selector", selector).Msg("Native click failed, clicking by script")
	}

	ok, err := evalBool(ctx, p.driver, jsCall(scriptClickJS, selector))
	switch {
	case err != nil:
		return models.StepFailedSoft
	case ok:
		return models.StepSucceeded
	default:
		return models.StepNotApplicable
	}
}

// clickText clicks the first button-like element whose text equals one of labels
func (p *page) clickText(ctx context.Context, labels []string) models.StepResult {
	ok, err := evalBool(ctx, p.driver, jsCall(clickByTextJS, labels))
	switch {
	case err != nil:
		return models.StepFailedSoft
	case ok:
		return models.StepSucceeded
	default:
		return models.StepNotApplicable
	}
}

// script runs fn and maps a boolean result to a StepResult
func (p *page) script(ctx context.Context, fn string, args ...interface{}) models.StepResult {
	raw, err := p.driver.Evaluate(ctx, jsCall(fn, args...))
	if err != nil {
		return models.StepFailedSoft
	}
	var ok *bool
	if err := json.Unmarshal(raw, &ok); err != nil || ok == nil {
		return models.StepNotApplicable
	}
	if *ok {
		return models.StepSucceeded
	}
	return models.StepNotApplicable
}

func (p *page) text(ctx context.Context, selector string) string {
	s, _ := evalString(ctx, p.driver, jsCall(textJS, selector))
	return s
}

// value returns the input value, and false when the input is absent
func (p *page) value(ctx context.Context, selector string) (string, bool) {
	raw, err := p.driver.Evaluate(ctx, jsCall(valueJS, selector))
	if err != nil {
		return "", false
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return "", false
	}
	return *v, true
}
