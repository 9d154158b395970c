// Package app wires the capture run: secrets, relay, browser session, instrumentation, login
// controller and artifact store.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/common"
	"github.com/ternarybob/keepliver/internal/interfaces"
	"github.com/ternarybob/keepliver/internal/services/artifact"
	"github.com/ternarybob/keepliver/internal/services/browser"
	"github.com/ternarybob/keepliver/internal/services/challenge"
	"github.com/ternarybob/keepliver/internal/services/instrument"
	"github.com/ternarybob/keepliver/internal/services/login"
	"github.com/ternarybob/keepliver/internal/services/ocr"
	"github.com/ternarybob/keepliver/internal/services/relay"
	"golang.org/x/sync/errgroup"
)

// SessionStarter launches the browser
type SessionStarter func(ctx context.Context, opts browser.Options, logger arbor.ILogger) (*browser.Session, error)

// Option customizes an App
type Option func(*App)

// WithSessionStarter replaces browser.Start
func WithSessionStarter(start SessionStarter) Option {
	return func(a *App) { a.startSession = start }
}

// WithPrompter replaces the stdin console prompter
func WithPrompter(p challenge.Prompter) Option {
	return func(a *App) { a.prompter = p }
}

// WithClassifier replaces the configured OCR classifier
func WithClassifier(c interfaces.Classifier) Option {
	return func(a *App) { a.classifier = c; a.classifierSet = true }
}

// WithTiming overrides the login controller cadences
func WithTiming(t login.Timing) Option {
	return func(a *App) { a.timing = t }
}

// App holds the components of one capture run
type App struct {
	Config *common.Config
	Logger arbor.ILogger
	RunID  string
	Store  *artifact.Store

	startSession  SessionStarter
	prompter      challenge.Prompter
	classifier    interfaces.Classifier
	classifierSet bool
	timing        login.Timing
}

// New validates the configuration and builds the run. The OCR classifier is created here so
// that a bad API key fails before the browser starts.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{
		Config:       cfg,
		Logger:       logger,
		RunID:        uuid.New().String(),
		Store:        artifact.NewStore(cfg.Output.Path, logger),
		startSession: browser.Start,
		timing:       login.DefaultTiming(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if !a.classifierSet {
		classifier, err := ocr.NewClassifier(ctx, cfg.OCR, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create OCR classifier: %w", err)
		}
		a.classifier = classifier
	}
	if a.prompter == nil {
		a.prompter = challenge.NewConsolePrompter(os.Stdin, os.Stdout)
	}
	return a, nil
}

// Run performs one capture. On success the artifact has been written; on any failure nothing
// is written and the browser is closed.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	if err := common.ResolveCredentials(cfg); err != nil {
		return err
	}
	if cfg.Login.Mode == string(login.ModeAccount) && (cfg.Login.Account == "" || cfg.Login.Password == "") {
		return login.ErrMissingCredentials
	}

	logger.Info().
		Str("run_id", a.RunID).
		Str("login_mode", cfg.Login.Mode).
		Str("captcha_mode", cfg.Captcha.Mode).
		Str("output", a.Store.Path()).
		Msg("Starting capture run")

	telegram := relay.NewTelegram(relay.Config{
		Token:   cfg.Telegram.Token,
		ChatID:  cfg.Telegram.ChatID,
		APIBase: cfg.Telegram.APIBase,
	}, logger)

	// The relay bootstrap and the browser launch are independent
	var session *browser.Session
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.bootstrapRelay(gctx, telegram)
		return nil
	})
	g.Go(func() error {
		s, err := a.startSession(gctx, a.browserOptions(), logger)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err := g.Wait(); err != nil {
		if session != nil {
			_ = session.Stop()
		}
		return err
	}
	defer session.Stop()

	driver := session.Driver()
	inst := instrument.New(driver, instrument.NewSink(logger), logger)
	if err := inst.Install(ctx); err != nil {
		return fmt.Errorf("failed to install page instrumentation: %w", err)
	}
	if err := driver.Navigate(ctx, cfg.Browser.StartURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Browser.StartURL, err)
	}

	engine := challenge.NewEngine(challenge.Options{
		Mode:            challenge.Mode(cfg.Captcha.Mode),
		Port:            cfg.Captcha.Port,
		BaseURL:         cfg.Captcha.BaseURL,
		Template:        cfg.Captcha.PhoneVerifyTemplate,
		CaptchaTimeout:  cfg.CaptchaTimeout(),
		TelegramTimeout: cfg.TelegramTimeout(),
	}, ocr.NewResolver(a.classifier, common.Duration(cfg.OCR.Timeout, 20*time.Second), logger), telegram, a.prompter, logger)

	timing := a.timing
	timing.AuthPoll = common.Duration(cfg.Login.PollTick, timing.AuthPoll)
	controller := login.NewController(driver, inst, engine, login.Options{
		Mode:        login.Mode(cfg.Login.Mode),
		Account:     cfg.Login.Account,
		Password:    cfg.Login.Password,
		Timeout:     cfg.LoginTimeout(),
		AutoConnect: cfg.Login.AutoConnect,
		Timing:      timing,
	}, logger)

	captured, err := controller.Run(ctx)
	if err != nil {
		if login.IsTimeout(err) {
			logger.Error().Err(err).Str("state", controller.State().String()).Msg("Capture timed out; nothing was written")
		}
		return err
	}

	if err := a.Store.Save(captured); err != nil {
		return err
	}
	logger.Info().
		Str("run_id", a.RunID).
		Str("path", a.Store.Path()).
		Str("account", captured.Auth.Account()).
		Msg("Capture saved")

	a.linger(ctx)
	return nil
}

func (a *App) browserOptions() browser.Options {
	b := a.Config.Browser
	opts := browser.Options{
		Backend:       browser.Backend(b.Backend),
		Vendor:        browser.Vendor(b.Vendor),
		ProfileDir:    b.ProfileDir,
		Headless:      b.Headless,
		ForceHeadless: b.ForceHeadless,
		DriverPath:    b.ChromeDriver,
		BinaryPath:    b.ChromeBinary,
	}
	if opts.Vendor == browser.VendorEdge {
		opts.DriverPath = b.EdgeDriver
		opts.BinaryPath = b.EdgeBinary
	}
	return opts
}

// bootstrapRelay skips replies sent before this run and sends the optional test message
func (a *App) bootstrapRelay(ctx context.Context, telegram *relay.Telegram) {
	if !telegram.Enabled() {
		a.Logger.Debug().Msg("Telegram relay not configured")
		return
	}
	if offset, ok := telegram.Bootstrap(ctx); ok {
		telegram.SetOffset(offset)
	}
	if a.Config.Telegram.Test {
		if telegram.Notify(ctx, relay.TestMessage) {
			a.Logger.Info().Msg("Telegram test message sent")
		} else {
			a.Logger.Warn().Msg("Telegram test message failed")
		}
	}
}

// linger keeps the browser open briefly so in-flight requests finish before Stop
func (a *App) linger(ctx context.Context) {
	grace := common.Duration(a.Config.Output.CloseGrace, 5*time.Second)
	if grace <= 0 {
		return
	}
	a.Logger.Debug().Dur("grace", grace).Msg("Closing browser after grace period")
	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}
}

// ExitCode maps a run error to the process exit code: 0 success, 2 timeout, 1 anything else
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case login.IsTimeout(err):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
