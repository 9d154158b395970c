package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/common"
	"github.com/ternarybob/keepliver/internal/interfaces"
	"github.com/ysmood/gson"
)

// evalJS runs its argument through indirect eval so statements and expressions both work
const evalJS = `function (src) { return (0, eval)(src) }`

// rodDriver drives Chrome or Edge over the DevTools protocol with go-rod and its own launcher
type rodDriver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	events   *eventBuffer
	logger   arbor.ILogger
}

func startRod(ctx context.Context, opts Options, profileDir string, headless bool, logger arbor.ILogger) (interfaces.BrowserDriver, error) {
	bin, err := ResolveBrowser(opts.Vendor, opts.BinaryPath)
	if err != nil {
		return nil, err
	}

	l := launcher.New().
		Bin(bin).
		UserDataDir(profileDir).
		Leakless(false).
		Headless(false).
		Delete("enable-automation")
	for _, f := range launchFlags(headless) {
		if f.value == "" {
			l = l.Set(flags.Flag(f.name))
		} else {
			l = l.Set(flags.Flag(f.name), f.value)
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s for rod: %w", opts.Vendor, err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Vendor, err)
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	d := &rodDriver{
		launcher: l,
		browser:  b,
		page:     p,
		events:   newEventBuffer(),
		logger:   logger,
	}

	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		logger.Warn().Err(err).Msg("Failed to enable network events")
	}
	wait := p.EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if e.Request == nil {
			return
		}
		d.events.pushNetwork(interfaces.NetworkEvent{
			Kind:    interfaces.NetworkRequest,
			URL:     e.Request.URL,
			Method:  e.Request.Method,
			Headers: gsonHeaders(e.Request.Headers),
		})
	}, func(e *proto.NetworkResponseReceived) {
		if e.Response == nil {
			return
		}
		d.events.pushNetwork(interfaces.NetworkEvent{
			Kind:    interfaces.NetworkResponse,
			URL:     e.Response.URL,
			Status:  e.Response.Status,
			Headers: gsonHeaders(e.Response.Headers),
		})
	})
	common.SafeGo(logger, "rod-network-events", wait)

	logger.Debug().Str("binary", bin).Bool("headless", headless).Msg("Browser started over rod")
	return d, nil
}

func gsonHeaders(in proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.Str()
	}
	return out
}

func (d *rodDriver) Name() string {
	return string(BackendRod)
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	return d.page.Context(ctx).Navigate(url)
}

func (d *rodDriver) AddInitScript(ctx context.Context, script string) error {
	_, err := d.page.Context(ctx).EvalOnNewDocument(script)
	return err
}

func (d *rodDriver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	res, err := d.page.Context(ctx).Evaluate(rod.Eval(evalJS, expression).ByPromise())
	if err != nil {
		return nil, err
	}
	if res.Value.Nil() {
		return json.RawMessage("null"), nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (d *rodDriver) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := d.page.Context(ctx).Has(selector)
	return has, err
}

func (d *rodDriver) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, interfaces.ErrElementNotFound
	}
	return el.Context(ctx).Timeout(actionTimeout), nil
}

func (d *rodDriver) Click(ctx context.Context, selector string) error {
	el, err := d.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *rodDriver) TypeInto(ctx context.Context, selector, text string) error {
	el, err := d.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (d *rodDriver) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	el, err := d.element(ctx, selector)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (d *rodDriver) NetworkEvents(ctx context.Context) ([]interfaces.NetworkEvent, error) {
	events, dropped := d.events.drain()
	if dropped > 0 {
		d.logger.Warn().Int("dropped", dropped).Msg("Network event buffer overflowed")
	}
	return events, nil
}

func (d *rodDriver) Bind(ctx context.Context, name string) (<-chan string, error) {
	ch := d.events.channel(name)
	// Bound to the page, not ctx, so the binding outlives the install call
	_, err := d.page.Expose(name, func(payload gson.JSON) (interface{}, error) {
		d.events.deliver(name, payload.Str())
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expose %s: %w", name, err)
	}
	return ch, nil
}

// Close closes the browser and kills the process. The launcher's Cleanup is not called: it
// would delete the persistent profile.
func (d *rodDriver) Close() error {
	err := d.browser.Close()
	d.launcher.Kill()
	return err
}
