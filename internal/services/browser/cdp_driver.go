package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
)

// actionTimeout bounds single element actions, which chromedp would otherwise retry until visible
const actionTimeout = 5 * time.Second

// cdpDriver drives Chrome or Edge over the DevTools protocol with chromedp
type cdpDriver struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	events      *eventBuffer
	logger      arbor.ILogger
}

func startCDP(ctx context.Context, opts Options, profileDir string, headless bool, logger arbor.ILogger) (interfaces.BrowserDriver, error) {
	bin, err := ResolveBrowser(opts.Vendor, opts.BinaryPath)
	if err != nil {
		return nil, err
	}

	allocatorOpts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(bin),
		chromedp.UserDataDir(profileDir),
	}
	for _, f := range launchFlags(headless) {
		if f.value == "" {
			allocatorOpts = append(allocatorOpts, chromedp.Flag(f.name, true))
		} else {
			allocatorOpts = append(allocatorOpts, chromedp.Flag(f.name, f.value))
		}
	}
	if headless {
		allocatorOpts = append(allocatorOpts, chromedp.WindowSize(windowWidth, windowHeight))
	}

	allocatorCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocatorCtx)

	d := &cdpDriver{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		events:      newEventBuffer(),
		logger:      logger,
	}
	chromedp.ListenTarget(tabCtx, d.onEvent)

	// The first run allocates the browser
	startErr := make(chan error, 1)
	go func() { startErr <- chromedp.Run(tabCtx, network.Enable()) }()
	select {
	case err = <-startErr:
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(opts.StartTimeout):
		err = fmt.Errorf("browser did not start within %s", opts.StartTimeout)
	}
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start %s over cdp: %w", opts.Vendor, err)
	}

	logger.Debug().Str("binary", bin).Bool("headless", headless).Msg("Browser started over cdp")
	return d, nil
}

func (d *cdpDriver) Name() string {
	return string(BackendCDP)
}

// run executes actions on the tab, cancelled with ctx
func (d *cdpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (d *cdpDriver) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		d.events.pushNetwork(interfaces.NetworkEvent{
			Kind:    interfaces.NetworkRequest,
			URL:     e.Request.URL,
			Method:  e.Request.Method,
			Headers: headerStrings(e.Request.Headers),
		})
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		d.events.pushNetwork(interfaces.NetworkEvent{
			Kind:    interfaces.NetworkResponse,
			URL:     e.Response.URL,
			Status:  int(e.Response.Status),
			Headers: headerStrings(e.Response.Headers),
		})
	case *runtime.EventBindingCalled:
		d.events.deliver(e.Name, e.Payload)
	}
}

func (d *cdpDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *cdpDriver) AddInitScript(ctx context.Context, script string) error {
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

func (d *cdpDriver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var res []byte
	err := d.run(ctx, chromedp.Evaluate(expression, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res), nil
}

func (d *cdpDriver) Exists(ctx context.Context, selector string) (bool, error) {
	var count int
	expr := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := d.run(ctx, chromedp.Evaluate(expr, &count)); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *cdpDriver) requireElement(ctx context.Context, selector string) error {
	ok, err := d.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return interfaces.ErrElementNotFound
	}
	return nil
}

func (d *cdpDriver) Click(ctx context.Context, selector string) error {
	if err := d.requireElement(ctx, selector); err != nil {
		return err
	}
	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return d.run(actionCtx, chromedp.Click(selector, chromedp.ByQuery))
}

func (d *cdpDriver) TypeInto(ctx context.Context, selector, text string) error {
	if err := d.requireElement(ctx, selector); err != nil {
		return err
	}
	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return d.run(actionCtx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (d *cdpDriver) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := d.requireElement(ctx, selector); err != nil {
		return nil, err
	}
	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	var buf []byte
	if err := d.run(actionCtx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *cdpDriver) NetworkEvents(ctx context.Context) ([]interfaces.NetworkEvent, error) {
	events, dropped := d.events.drain()
	if dropped > 0 {
		d.logger.Warn().Int("dropped", dropped).Msg("Network event buffer overflowed")
	}
	return events, nil
}

func (d *cdpDriver) Bind(ctx context.Context, name string) (<-chan string, error) {
	ch := d.events.channel(name)
	if err := d.run(ctx, runtime.AddBinding(name)); err != nil {
		return nil, fmt.Errorf("failed to add binding %s: %w", name, err)
	}
	return ch, nil
}

func (d *cdpDriver) Close() error {
	// Cancel closes the browser gracefully; cancelling the allocator then reaps the process
	err := chromedp.Cancel(d.ctx)
	d.cancelTab()
	d.cancelAlloc()
	return err
}
