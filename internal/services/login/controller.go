// Package login drives the CTYUN sign-in page until the auth bundle, the device identity and
// the connect headers have all been observed.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
	"github.com/ternarybob/keepliver/internal/models"
	"github.com/ternarybob/keepliver/internal/services/challenge"
	"github.com/ternarybob/keepliver/internal/services/instrument"
)

var (
	ErrAuthTimeout        = errors.New("timed out waiting for login")
	ErrDeviceInfoTimeout  = errors.New("timed out waiting for device info")
	ErrHeadersTimeout     = errors.New("timed out waiting for connect headers")
	ErrMissingCredentials = errors.New("account login requires both account and password")
)

// IsTimeout reports whether err is one of the controller's timeouts
func IsTimeout(err error) bool {
	return errors.Is(err, ErrAuthTimeout) ||
		errors.Is(err, ErrDeviceInfoTimeout) ||
		errors.Is(err, ErrHeadersTimeout)
}

// Mode selects how the user signs in
type Mode string

const (
	ModeQR      Mode = "qr"
	ModeAccount Mode = "account"
)

// Timing holds the poll cadences
type Timing struct {
	AuthPoll     time.Duration
	CapturePoll  time.Duration
	ClickEvery   time.Duration
	CaptchaEvery time.Duration
	ConnectWait  time.Duration
}

// DefaultTiming returns the production cadences
func DefaultTiming() Timing {
	return Timing{
		AuthPoll:     time.Second,
		CapturePoll:  500 * time.Millisecond,
		ClickEvery:   5 * time.Second,
		CaptchaEvery: time.Second,
		ConnectWait:  10 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.AuthPoll <= 0 {
		t.AuthPoll = d.AuthPoll
	}
	if t.CapturePoll <= 0 {
		t.CapturePoll = d.CapturePoll
	}
	if t.ClickEvery <= 0 {
		t.ClickEvery = d.ClickEvery
	}
	if t.CaptchaEvery <= 0 {
		t.CaptchaEvery = d.CaptchaEvery
	}
	if t.ConnectWait <= 0 {
		t.ConnectWait = d.ConnectWait
	}
	return t
}

// Options configures a controller
type Options struct {
	Mode     Mode
	Account  string
	Password string
	// Timeout bounds the whole run, sign-in and capture together
	Timeout     time.Duration
	AutoConnect bool
	Timing      Timing
}

// Controller runs one sign-in. It is not safe for concurrent use.
type Controller struct {
	*page
	inst   *instrument.Instrumenter
	engine *challenge.Engine
	opts   Options

	state       State
	challenge   ChallengeState
	bindPage    *deviceBindPage
	lastCaptcha time.Time
	promptedQR  bool
}

// NewController creates a controller over an instrumented driver
func NewController(driver interfaces.BrowserDriver, inst *instrument.Instrumenter, engine *challenge.Engine, opts Options, logger arbor.ILogger) *Controller {
	if opts.Mode == "" {
		opts.Mode = ModeQR
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	opts.Timing = opts.Timing.withDefaults()

	p := &page{driver: driver, logger: logger}
	return &Controller{
		page:     p,
		inst:     inst,
		engine:   engine,
		opts:     opts,
		bindPage: &deviceBindPage{page: p, inst: inst},
	}
}

// State returns the current state
func (c *Controller) State() State {
	return c.state
}

// Challenge returns the device-bind state
func (c *Controller) Challenge() *ChallengeState {
	return &c.challenge
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("Login state changed")
	c.state = s
}

// Run signs in and waits for the capture. It returns a complete artifact or an error; the
// timeouts are ErrAuthTimeout, ErrDeviceInfoTimeout and ErrHeadersTimeout.
func (c *Controller) Run(ctx context.Context) (*models.CaptureArtifact, error) {
	if c.opts.Mode == ModeAccount && (c.opts.Account == "" || c.opts.Password == "") {
		return nil, ErrMissingCredentials
	}

	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	c.logger.Info().
		Str("mode", string(c.opts.Mode)).
		Dur("timeout", c.opts.Timeout).
		Msg("Waiting for login")

	auth, err := c.waitForAuth(ctx, runCtx)
	if err != nil {
		return nil, err
	}
	c.setState(StateAuthCaptured)
	c.logger.Info().Str("account", auth.Account()).Msg("Login detected")

	if c.opts.AutoConnect {
		c.connect(runCtx)
	}

	device, headers, err := c.waitForCapture(ctx, runCtx)
	if err != nil {
		return nil, err
	}
	c.setState(StateArtifactReady)
	c.logger.Info().
		Str("connect_url", headers.URL).
		Int("headers", len(headers.Headers)).
		Msg("Device info and connect headers captured")

	return models.NewCaptureArtifact(auth, device, headers), nil
}

func (c *Controller) waitForAuth(parent, ctx context.Context) (*models.AuthBundle, error) {
	ticker := time.NewTicker(c.opts.Timing.AuthPoll)
	defer ticker.Stop()

	for {
		c.inst.Pump(ctx)

		if c.opts.Mode == ModeAccount && c.state < StateSubmitted {
			c.signIn(ctx)
		} else if c.opts.Mode == ModeQR && !c.promptedQR {
			c.promptedQR = true
			c.logger.Info().Msg("Scan the QR code in the browser window to sign in")
		}

		c.handleDeviceBind(ctx)
		c.handleCaptcha(ctx)

		if auth := c.readAuth(ctx); auth != nil {
			return auth, nil
		}

		select {
		case <-ctx.Done():
			return nil, c.timeout(parent, ErrAuthTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Controller) waitForCapture(parent, ctx context.Context) (models.DeviceIdentity, *models.ConnectHeaders, error) {
	ticker := time.NewTicker(c.opts.Timing.CapturePoll)
	defer ticker.Stop()
	lastClick := time.Now()

	sink := c.inst.Sink()
	for {
		c.inst.Pump(ctx)
		if sink.Complete() {
			return sink.Device(), sink.Headers(), nil
		}

		c.handleDeviceBind(ctx)

		if c.opts.AutoConnect && time.Since(lastClick) >= c.opts.Timing.ClickEvery {
			lastClick = time.Now()
			c.logger.Debug().Msg("Still waiting for capture, clicking connect again")
			c.clickConnect(ctx)
		}

		select {
		case <-ctx.Done():
			if sink.Device() == nil {
				return nil, nil, c.timeout(parent, ErrDeviceInfoTimeout)
			}
			return nil, nil, c.timeout(parent, ErrHeadersTimeout)
		case <-ticker.C:
		}
	}
}

// timeout returns the parent's error when the run was cancelled from outside
func (c *Controller) timeout(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	c.setState(StateTimedOut)
	return fmt.Errorf("%w after %s", err, c.opts.Timeout)
}

// signIn advances account mode sign-in as far as the page allows on this tick
func (c *Controller) signIn(ctx context.Context) {
	if c.state < StateViewSelected {
		// The page may already show the account form
		clicked := c.clickText(ctx, accountViewLabels)
		shown := c.script(ctx, showAccountFormJS)
		c.logger.Debug().
			Str("label", clicked.String()).
			Str("form", shown.String()).
			Msg("Account view selection attempted")
		c.setState(StateViewSelected)
	}

	if c.state < StateCredentialsFilled {
		account := c.fill(ctx, selAccountInput, c.opts.Account)
		password := c.fill(ctx, selPasswordInput, c.opts.Password)
		if !account.Ok() || !password.Ok() {
			c.logger.Debug().
				Str("account", account.String()).
				Str("password", password.String()).
				Msg("Credential inputs not ready")
			return
		}
		if r := c.script(ctx, tickCheckboxJS, selAgreeCheckbox); r.Ok() {
			c.logger.Debug().Msg("Agreement checkbox ticked")
		}
		c.setState(StateCredentialsFilled)
	}

	if r := c.submit(ctx); r.Ok() {
		c.setState(StateSubmitted)
		c.logger.Info().Msg("Login submitted")
	}
}

func (c *Controller) submit(ctx context.Context) models.StepResult {
	if r := c.click(ctx, selSubmit); r.Ok() {
		return r
	}
	return c.clickText(ctx, submitLabels)
}

func (c *Controller) handleDeviceBind(ctx context.Context) {
	if !c.exists(ctx, selBindDialog) {
		c.challenge.reset()
		return
	}
	if !c.challenge.begin() {
		return
	}

	c.setState(StateChallengePending)
	c.logger.Info().Msg("Device verification required")
	completed := c.engine.ResolveDeviceBind(ctx, c.bindPage)
	c.challenge.finish(completed)
	if completed {
		c.logger.Info().Msg("Device verification completed")
	}
}

func (c *Controller) handleCaptcha(ctx context.Context) {
	if c.engine.Mode() == challenge.ModeOff {
		return
	}
	if time.Since(c.lastCaptcha) < c.opts.Timing.CaptchaEvery {
		return
	}
	if code, present := c.value(ctx, selCaptchaInput); !present || code != "" {
		return
	}
	if !c.exists(ctx, selCaptchaImage) {
		return
	}
	c.lastCaptcha = time.Now()

	image, err := c.driver.ElementScreenshot(ctx, selCaptchaImage)
	if err != nil || len(image) == 0 {
		c.logger.Debug().Err(err).Msg("CAPTCHA image screenshot failed")
		return
	}

	c.setState(StateChallengePending)
	code := c.engine.ResolveCaptcha(ctx, image)
	if code == "" {
		return
	}
	if r := c.fill(ctx, selCaptchaInput, code); !r.Ok() {
		c.logger.Warn().Str("result", r.String()).Msg("Could not fill CAPTCHA code")
		return
	}
	if r := c.submit(ctx); r.Ok() {
		c.logger.Info().Msg("CAPTCHA submitted, login re-submitted")
	}
}

func (c *Controller) readAuth(ctx context.Context) *models.AuthBundle {
	blob, err := evalString(ctx, c.driver, authDataJS)
	if err != nil || blob == "" {
		return nil
	}
	auth, err := models.ParseAuthBundle(blob)
	if err != nil {
		c.logger.Trace().Err(err).Msg("authData not usable yet")
		return nil
	}
	return auth
}

// connect waits for the desktop entry button and clicks it
func (c *Controller) connect(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.Timing.ConnectWait)
	defer cancel()

	ticker := time.NewTicker(c.opts.Timing.CapturePoll)
	defer ticker.Stop()
	for !c.exists(waitCtx, selConnect) {
		select {
		case <-waitCtx.Done():
			c.logger.Debug().Msg("Connect button not found, trying text match")
			if r := c.clickText(ctx, connectLabels); r.Ok() {
				c.logger.Info().Msg("Connect clicked")
			}
			return
		case <-ticker.C:
		}
	}

	if r := c.clickConnect(ctx); r.Ok() {
		c.logger.Info().Msg("Connect clicked")
	}
}

func (c *Controller) clickConnect(ctx context.Context) models.StepResult {
	c.script(ctx, scrollIntoViewJS, selConnect)
	if r := c.click(ctx, selConnect); r.Ok() {
		return r
	}
	return c.clickText(ctx, connectLabels)
}
