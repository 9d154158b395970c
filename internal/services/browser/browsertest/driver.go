// Package browsertest provides a scripted BrowserDriver for tests that must not start a browser.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ternarybob/keepliver/internal/interfaces"
)

// ErrClosed is returned by every call after Close
var ErrClosed = errors.New("driver closed")

// EvalFunc answers an Evaluate call. Returning (nil, nil) yields JSON null.
type EvalFunc func(expression string) (json.RawMessage, error)

// Driver is an in-memory BrowserDriver. Elements are plain selector strings; Evaluate is
// delegated to Eval. Capabilities can be switched off to mimic the WebDriver transport.
type Driver struct {
	NoBinding    bool
	NoInitScript bool
	NoNetworkLog bool

	// Eval answers Evaluate; nil answers null
	Eval EvalFunc
	// OnClick runs after a successful Click
	OnClick func(selector string)

	mu          sync.Mutex
	elements    map[string]bool
	screenshots map[string][]byte
	typed       map[string]string
	clicks      []string
	navigations []string
	initScripts []string
	evaluations []string
	network     []interfaces.NetworkEvent
	binding     chan string
	closed      bool
	closeCalls  int
}

// New creates a driver with every capability enabled
func New() *Driver {
	return &Driver{
		elements:    make(map[string]bool),
		screenshots: make(map[string][]byte),
		typed:       make(map[string]string),
	}
}

func (d *Driver) Name() string {
	return "fake"
}

// SetElement makes selector present or absent
func (d *Driver) SetElement(selector string, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[selector] = present
}

// SetScreenshot sets the PNG returned for selector and makes it present
func (d *Driver) SetScreenshot(selector string, png []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[selector] = true
	d.screenshots[selector] = png
}

// Emit delivers raw to the page binding, as if the page had called it
func (d *Driver) Emit(raw string) bool {
	d.mu.Lock()
	ch := d.binding
	d.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- raw
	return true
}

// PushNetwork queues events for the next NetworkEvents call
func (d *Driver) PushNetwork(events ...interfaces.NetworkEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.network = append(d.network, events...)
}

// Clicks returns the clicked selectors in order
func (d *Driver) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

// Typed returns the last text typed into selector
func (d *Driver) Typed(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typed[selector]
}

// Navigations returns the visited URLs
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// InitScripts returns the registered init scripts
func (d *Driver) InitScripts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.initScripts...)
}

// Evaluations returns every evaluated expression
func (d *Driver) Evaluations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.evaluations...)
}

// Closed reports whether Close was called, and how many times
func (d *Driver) Closed() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed, d.closeCalls
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.navigations = append(d.navigations, url)
	return nil
}

func (d *Driver) AddInitScript(ctx context.Context, script string) error {
	if d.NoInitScript {
		return interfaces.ErrInitScriptUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.initScripts = append(d.initScripts, script)
	return nil
}

func (d *Driver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.evaluations = append(d.evaluations, expression)
	eval := d.Eval
	d.mu.Unlock()

	if eval == nil {
		return json.RawMessage("null"), nil
	}
	raw, err := eval(expression)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return json.RawMessage("null"), nil
	}
	return raw, nil
}

func (d *Driver) Exists(ctx context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	return d.elements[selector], nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if !d.elements[selector] {
		d.mu.Unlock()
		return interfaces.ErrElementNotFound
	}
	d.clicks = append(d.clicks, selector)
	onClick := d.OnClick
	d.mu.Unlock()

	if onClick != nil {
		onClick(selector)
	}
	return nil
}

func (d *Driver) TypeInto(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if !d.elements[selector] {
		return interfaces.ErrElementNotFound
	}
	d.typed[selector] = text
	return nil
}

func (d *Driver) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	png, ok := d.screenshots[selector]
	if !ok || !d.elements[selector] {
		return nil, interfaces.ErrElementNotFound
	}
	return png, nil
}

func (d *Driver) NetworkEvents(ctx context.Context) ([]interfaces.NetworkEvent, error) {
	if d.NoNetworkLog {
		return nil, interfaces.ErrNetworkLogUnavailable
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	events := d.network
	d.network = nil
	return events, nil
}

func (d *Driver) Bind(ctx context.Context, name string) (<-chan string, error) {
	if d.NoBinding {
		return nil, interfaces.ErrBindingUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.binding == nil {
		d.binding = make(chan string, 64)
	}
	return d.binding, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	d.closed = true
	return nil
}

var _ interfaces.BrowserDriver = (*Driver)(nil)
