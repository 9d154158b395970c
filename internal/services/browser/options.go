// Package browser starts and stops the browser session behind one of the BrowserDriver backends.
package browser

import (
	"errors"
	"fmt"
	"time"
)

// Backend selects the automation transport
type Backend string

const (
	BackendCDP       Backend = "cdp"
	BackendRod       Backend = "rod"
	BackendWebDriver Backend = "webdriver"
)

// Vendor selects the browser
type Vendor string

const (
	VendorChrome Vendor = "chrome"
	VendorEdge   Vendor = "edge"
)

// ErrExecutableNotFound is returned when the browser binary or the WebDriver executable cannot be found
var ErrExecutableNotFound = errors.New("executable not found")

// ErrUnknownBackend is returned for a backend name outside cdp, rod and webdriver
var ErrUnknownBackend = errors.New("unknown browser backend")

// Options configures a browser session
type Options struct {
	Backend       Backend
	Vendor        Vendor
	ProfileDir    string
	Headless      bool
	ForceHeadless bool
	// DriverPath is the chromedriver/msedgedriver file or directory (webdriver only)
	DriverPath string
	// BinaryPath overrides the browser executable
	BinaryPath string
	// StartTimeout bounds the launch
	StartTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = BackendCDP
	}
	if o.Vendor == "" {
		o.Vendor = VendorChrome
	}
	if o.ProfileDir == "" {
		o.ProfileDir = "./.browser-profile"
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 60 * time.Second
	}
	return o
}

func (o Options) validate() error {
	switch o.Backend {
	case BackendCDP, BackendRod, BackendWebDriver:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, o.Backend)
	}
	switch o.Vendor {
	case VendorChrome, VendorEdge:
	default:
		return fmt.Errorf("unknown browser vendor: %q", o.Vendor)
	}
	return nil
}
