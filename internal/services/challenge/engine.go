package challenge

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
	"github.com/ternarybob/keepliver/internal/services/inputserver"
	"github.com/ternarybob/keepliver/internal/services/ocr"
)

// Mode selects which resolvers are tried
type Mode string

const (
	ModeAuto   Mode = "auto"   // optical first, then a human
	ModeManual Mode = "manual" // a human only
	ModeOff    Mode = "off"    // plain CAPTCHAs are left alone
)

const (
	promptCaptcha   = "请输入验证码: "
	promptImageCode = "请输入图形验证码: "
	promptSMSCode   = "请输入短信验证码: "
)

// Options configures the engine
type Options struct {
	Mode            Mode
	Port            int // 0 = console
	BaseURL         string
	Template        string
	CaptchaTimeout  time.Duration
	TelegramTimeout time.Duration
	// SMSConfirmWait is how long to wait for the SMS dispatch to be confirmed
	SMSConfirmWait time.Duration
}

// Engine resolves CAPTCHA and SMS codes by trying its resolvers in a fixed order.
// The first resolver to produce a non-empty code wins.
type Engine struct {
	opts     Options
	optical  *ocr.Resolver
	relay    interfaces.RelayChannel
	prompter Prompter
	logger   arbor.ILogger
}

// NewEngine wires the resolvers. optical, relay and prompter may be nil.
func NewEngine(opts Options, optical *ocr.Resolver, relay interfaces.RelayChannel, prompter Prompter, logger arbor.ILogger) *Engine {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.CaptchaTimeout <= 0 {
		opts.CaptchaTimeout = 2 * time.Minute
	}
	if opts.TelegramTimeout <= 0 {
		opts.TelegramTimeout = opts.CaptchaTimeout
	}
	if opts.SMSConfirmWait <= 0 {
		opts.SMSConfirmWait = time.Second
	}
	return &Engine{
		opts:     opts,
		optical:  optical,
		relay:    relay,
		prompter: prompter,
		logger:   logger,
	}
}

// Mode returns the configured mode
func (e *Engine) Mode() Mode {
	return e.opts.Mode
}

// ResolveCaptcha returns the code for a plain login CAPTCHA, or "" when none was obtained
func (e *Engine) ResolveCaptcha(ctx context.Context, image []byte) string {
	if e.opts.Mode == ModeOff {
		return ""
	}

	if e.opts.Mode == ModeAuto {
		if code := e.optical.Resolve(ctx, image); code != "" {
			e.logger.Info().Msg("CAPTCHA resolved optically")
			return code
		}
	}

	if e.consoleMode() {
		return e.prompt(ctx, promptCaptcha)
	}

	sub, ok := e.serveAndWait(ctx, inputserver.Options{
		Port:     e.opts.Port,
		ImageB64: base64.StdEncoding.EncodeToString(image),
		Variant:  inputserver.VariantCaptcha,
	}, "Captcha page", false)
	if !ok {
		e.logger.Warn().Msg("No CAPTCHA code submitted before timeout")
		return ""
	}
	return sub.ImageCode
}

func (e *Engine) consoleMode() bool {
	return e.opts.Port == 0
}

func (e *Engine) prompt(ctx context.Context, label string) string {
	if e.prompter == nil {
		return ""
	}
	return e.prompter.Prompt(ctx, label)
}

func (e *Engine) relayEnabled() bool {
	return e.relay != nil && e.relay.Enabled()
}

// serveAndWait opens an input page and waits captcha_timeout for it. When announce is set the
// page URL is also sent through the relay.
func (e *Engine) serveAndWait(ctx context.Context, opts inputserver.Options, title string, announce bool) (inputserver.Submission, bool) {
	srv, err := inputserver.Serve(ctx, opts, e.logger)
	if err != nil {
		if !errors.Is(err, inputserver.ErrConsoleMode) {
			e.logger.Error().Err(err).Msg("Failed to start input page")
		}
		return inputserver.Submission{}, false
	}
	defer srv.Close()

	e.logger.Info().Str("url", srv.URL("")).Msgf("%s ready", title)

	if announce && e.relayEnabled() {
		e.relay.Notify(ctx, relayLinkMessage(srv.URL(e.opts.BaseURL)+"/"))
	}

	return srv.Wait(ctx, e.opts.CaptchaTimeout)
}
