package interfaces

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrElementNotFound is returned when a selector matches nothing
	ErrElementNotFound = errors.New("element not found")

	// ErrNetworkLogUnavailable is returned by drivers that cannot observe network traffic
	ErrNetworkLogUnavailable = errors.New("network log unavailable")

	// ErrBindingUnsupported is returned by drivers that cannot expose a host function to the page
	ErrBindingUnsupported = errors.New("page binding unsupported")

	// ErrInitScriptUnsupported is returned by drivers without a run-before-page-scripts primitive.
	// Callers must evaluate the script after every navigation instead.
	ErrInitScriptUnsupported = errors.New("init script unsupported")
)

// NetworkEventKind distinguishes request and response observations
type NetworkEventKind string

const (
	NetworkRequest  NetworkEventKind = "request"
	NetworkResponse NetworkEventKind = "response"
)

// NetworkEvent is one observed request or response, normalized across transports
type NetworkEvent struct {
	Kind    NetworkEventKind
	URL     string
	Method  string // requests only
	Status  int    // responses only
	Headers map[string]string
}

// BrowserDriver is the capability set the capture flow needs from a live browser.
// Implementations exist for the remote debugging protocol (chromedp, go-rod) and for
// WebDriver (chromedriver, msedgedriver). All methods are safe to call after Close;
// they return an error instead of panicking.
type BrowserDriver interface {
	// Name identifies the backend in logs ("cdp", "rod", "webdriver")
	Name() string

	// Navigate loads url in the controlled tab and waits for the document to start loading
	Navigate(ctx context.Context, url string) error

	// AddInitScript registers a script that runs before any page script on every new document.
	// Returns ErrInitScriptUnsupported when the transport has no such primitive.
	AddInitScript(ctx context.Context, script string) error

	// Evaluate runs a JavaScript expression in the page and returns its JSON value.
	// Promises are awaited; undefined becomes null.
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)

	// Exists reports whether selector currently matches at least one element
	Exists(ctx context.Context, selector string) (bool, error)

	// Click clicks the first element matching selector
	Click(ctx context.Context, selector string) error

	// TypeInto clears the first element matching selector and types text into it
	TypeInto(ctx context.Context, selector, text string) error

	// ElementScreenshot captures the first element matching selector as PNG
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)

	// NetworkEvents drains the network events observed since the previous call.
	// Returns ErrNetworkLogUnavailable when the transport has no network log.
	NetworkEvents(ctx context.Context) ([]NetworkEvent, error)

	// Bind exposes a host function named name to the page. Every call from the page delivers
	// its single string argument on the returned channel.
	// Returns ErrBindingUnsupported when the transport cannot do this.
	Bind(ctx context.Context, name string) (<-chan string, error)

	// Close releases the browser process and any driver service. Safe to call more than once.
	Close() error
}
