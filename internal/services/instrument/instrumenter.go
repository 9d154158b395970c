package instrument

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
	"github.com/ternarybob/keepliver/internal/models"
)

const (
	// BindingName is the host function the hook script posts to when present
	BindingName = "__keepliverEmit"

	guardExpr = "!!window.__keepliverHooked"
	drainExpr = "(window.__keepliverOutbox || []).splice(0)"
)

//go:embed hook.js
var hookScript string

// HookScript returns the page instrumentation script
func HookScript() string {
	return hookScript
}

// Instrumenter installs the hook script and moves everything it observes into a Sink
type Instrumenter struct {
	driver     interfaces.BrowserDriver
	sink       *Sink
	logger     arbor.ILogger
	events     <-chan string
	persistent bool
	networkOff bool
}

// New creates an instrumenter for driver
func New(driver interfaces.BrowserDriver, sink *Sink, logger arbor.ILogger) *Instrumenter {
	return &Instrumenter{
		driver: driver,
		sink:   sink,
		logger: logger,
	}
}

// Sink returns the capture sink
func (i *Instrumenter) Sink() *Sink {
	return i.sink
}

// Install registers the binding and the init script. Call it before the first navigation.
// Missing capabilities are not errors: the outbox and per-tick injection cover them.
func (i *Instrumenter) Install(ctx context.Context) error {
	events, err := i.driver.Bind(ctx, BindingName)
	switch {
	case err == nil:
		i.events = events
	case errors.Is(err, interfaces.ErrBindingUnsupported):
		i.logger.Debug().Str("backend", i.driver.Name()).Msg("No page binding; hook results are read from the outbox")
	default:
		return err
	}

	err = i.driver.AddInitScript(ctx, hookScript)
	switch {
	case err == nil:
		i.persistent = true
	case errors.Is(err, interfaces.ErrInitScriptUnsupported):
		i.logger.Debug().Str("backend", i.driver.Name()).Msg("No init scripts; hook is injected after each navigation")
	default:
		return err
	}
	return nil
}

// Pump injects the hook where needed and drains binding calls, the outbox and the network log
// into the sink. Evaluation failures during navigation are expected and only logged.
func (i *Instrumenter) Pump(ctx context.Context) {
	if !i.persistent {
		i.ensureInjected(ctx)
	}
	i.drainBinding()
	i.drainOutbox(ctx)
	i.drainNetwork(ctx)
}

func (i *Instrumenter) ensureInjected(ctx context.Context) {
	raw, err := i.driver.Evaluate(ctx, guardExpr)
	if err != nil {
		i.logger.Trace().Err(err).Msg("Hook guard check failed")
		return
	}
	var hooked bool
	if err := json.Unmarshal(raw, &hooked); err == nil && hooked {
		return
	}
	if _, err := i.driver.Evaluate(ctx, hookScript); err != nil {
		i.logger.Debug().Err(err).Msg("Hook injection failed")
		return
	}
	i.logger.Debug().Msg("Hook injected")
}

func (i *Instrumenter) drainBinding() {
	if i.events == nil {
		return
	}
	for {
		select {
		case raw, ok := <-i.events:
			if !ok {
				i.events = nil
				return
			}
			i.sink.Consume(raw)
		default:
			return
		}
	}
}

func (i *Instrumenter) drainOutbox(ctx context.Context) {
	raw, err := i.driver.Evaluate(ctx, drainExpr)
	if err != nil {
		i.logger.Trace().Err(err).Msg("Outbox drain failed")
		return
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return
	}
	for _, item := range items {
		i.sink.Consume(item)
	}
}

func (i *Instrumenter) drainNetwork(ctx context.Context) {
	if i.networkOff {
		return
	}
	events, err := i.driver.NetworkEvents(ctx)
	if err != nil {
		if errors.Is(err, interfaces.ErrNetworkLogUnavailable) {
			i.logger.Warn().Str("backend", i.driver.Name()).Msg("Network log unavailable; relying on page hooks")
			i.networkOff = true
			return
		}
		i.logger.Trace().Err(err).Msg("Network log read failed")
		return
	}
	i.Observe(events)
}

// Observe applies network events to the sink
func (i *Instrumenter) Observe(events []interfaces.NetworkEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case interfaces.NetworkRequest:
			if models.IsConnectRequest(ev.URL, ev.Method) {
				i.sink.OfferHeaders(ev.URL, ev.Headers)
			}
		case interfaces.NetworkResponse:
			if strings.Contains(ev.URL, models.SmsCodePath) {
				i.logger.Info().Int("status", ev.Status).Msg("SMS dispatch response seen")
				i.sink.MarkSMSSent()
			}
		}
	}
}
