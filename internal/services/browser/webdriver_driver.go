package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
)

const webdriverEvalScript = "return (0, eval)(arguments[0]);"

// webDriver drives Chrome or Edge through chromedriver/msedgedriver. WebDriver has no bindings
// and no init scripts; network events come from the performance log.
type webDriver struct {
	service *selenium.Service
	wd      selenium.WebDriver
	logger  arbor.ILogger
}

func startWebDriver(ctx context.Context, opts Options, profileDir string, headless bool, logger arbor.ILogger) (interfaces.BrowserDriver, error) {
	driverPath, err := ResolveDriver(opts.Vendor, opts.DriverPath)
	if err != nil {
		return nil, err
	}
	bin := ""
	if opts.BinaryPath != "" {
		if bin, err = ResolveBrowser(opts.Vendor, opts.BinaryPath); err != nil {
			return nil, err
		}
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to pick a driver port: %w", err)
	}
	service, err := selenium.NewChromeDriverService(driverPath, port)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", driverPath, err)
	}

	browserArgs := append([]string{"--user-data-dir=" + profileDir}, args(launchFlags(headless))...)
	perfLogging := log.Capabilities{log.Performance: log.All}

	caps := selenium.Capabilities{}
	if opts.Vendor == VendorEdge {
		edgeOptions := map[string]interface{}{"args": browserArgs}
		if bin != "" {
			edgeOptions["binary"] = bin
		}
		caps["browserName"] = "MicrosoftEdge"
		caps["ms:edgeOptions"] = edgeOptions
		caps["ms:loggingPrefs"] = perfLogging
	} else {
		caps["browserName"] = "chrome"
		caps.AddChrome(chrome.Capabilities{Path: bin, Args: browserArgs})
		caps["goog:loggingPrefs"] = perfLogging
	}

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://127.0.0.1:%d", port))
	if err != nil {
		_ = service.Stop()
		return nil, fmt.Errorf("failed to create %s session: %w", opts.Vendor, err)
	}

	logger.Debug().
		Str("driver", driverPath).
		Int("port", port).
		Bool("headless", headless).
		Msg("Browser started over webdriver")
	return &webDriver{service: service, wd: wd, logger: logger}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (d *webDriver) Name() string {
	return string(BackendWebDriver)
}

func (d *webDriver) Navigate(ctx context.Context, url string) error {
	return d.wd.Get(url)
}

func (d *webDriver) AddInitScript(ctx context.Context, script string) error {
	return interfaces.ErrInitScriptUnsupported
}

func (d *webDriver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	res, err := d.wd.ExecuteScript(webdriverEvalScript, []interface{}{expression})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (d *webDriver) Exists(ctx context.Context, selector string) (bool, error) {
	elements, err := d.wd.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return false, err
	}
	return len(elements) > 0, nil
}

func (d *webDriver) element(selector string) (selenium.WebElement, error) {
	elements, err := d.wd.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, interfaces.ErrElementNotFound
	}
	return elements[0], nil
}

func (d *webDriver) Click(ctx context.Context, selector string) error {
	el, err := d.element(selector)
	if err != nil {
		return err
	}
	return el.Click()
}

func (d *webDriver) TypeInto(ctx context.Context, selector, text string) error {
	el, err := d.element(selector)
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return err
	}
	return el.SendKeys(text)
}

func (d *webDriver) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	el, err := d.element(selector)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(true)
}

func (d *webDriver) NetworkEvents(ctx context.Context) ([]interfaces.NetworkEvent, error) {
	entries, err := d.wd.Log(log.Performance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrNetworkLogUnavailable, err)
	}
	messages := make([]string, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, entry.Message)
	}
	return parsePerfLog(messages), nil
}

func (d *webDriver) Bind(ctx context.Context, name string) (<-chan string, error) {
	return nil, interfaces.ErrBindingUnsupported
}

// Close quits the browser before stopping the driver service
func (d *webDriver) Close() error {
	return errors.Join(d.wd.Quit(), d.service.Stop())
}
