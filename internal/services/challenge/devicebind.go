package challenge

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ternarybob/keepliver/internal/models"
	"github.com/ternarybob/keepliver/internal/services/inputserver"
)

// DeviceBindPage is the device verification modal as seen by the engine
type DeviceBindPage interface {
	// CaptchaImage returns the modal's image challenge, nil when it cannot be read yet
	CaptchaImage(ctx context.Context) []byte
	FillImageCode(ctx context.Context, code string) models.StepResult
	SendSMS(ctx context.Context) models.StepResult
	// SMSSent waits up to wait for evidence that the SMS was dispatched
	SMSSent(ctx context.Context, wait time.Duration) bool
	FillSMSCode(ctx context.Context, code string) models.StepResult
	Confirm(ctx context.Context) models.StepResult
	// Feedback returns page toasts and form errors currently shown
	Feedback(ctx context.Context) []string
}

func relayPromptMessage(timeout time.Duration) string {
	return fmt.Sprintf("检测到需要短信验证码，请在 %ds 内回复验证码（超时将提供输入地址）。", int(timeout.Seconds()))
}

func relayLinkMessage(url string) string {
	return fmt.Sprintf("Telegram 等待验证码超时，请打开输入页：%s", url)
}

// ResolveDeviceBind runs one attempt at the two-stage device verification.
// It returns true only when an SMS code was entered and confirmed; false means the caller
// should retry on a later tick.
func (e *Engine) ResolveDeviceBind(ctx context.Context, page DeviceBindPage) bool {
	image := page.CaptchaImage(ctx)
	if len(image) == 0 {
		e.logger.Debug().Msg("Device verification image not ready")
		return false
	}
	imageB64 := base64.StdEncoding.EncodeToString(image)

	// Stage 1: image code, possibly with the SMS code from the same form
	imageCode, smsCode, fromOptical := e.resolveImageCode(ctx, imageB64, image)
	if imageCode == "" && smsCode == "" {
		e.logger.Warn().Msg("No image code for device verification")
		return false
	}

	smsSent := false
	if imageCode == "" {
		// The form carried only the SMS code: the SMS was requested on the page already
		e.logger.Info().Msg("No image code submitted; using the SMS code as is")
	} else {
		if r := page.FillImageCode(ctx, imageCode); !r.Ok() {
			e.logger.Warn().Str("result", r.String()).Msg("Could not fill device verification image code")
		}
		if r := page.SendSMS(ctx); !r.Ok() {
			e.logger.Warn().Str("result", r.String()).Msg("Could not click send-SMS button")
		}
		if fromOptical && !e.consoleMode() {
			e.logger.Info().Msg("Image code recognized; only the SMS code is needed")
		}

		smsSent = page.SMSSent(ctx, e.opts.SMSConfirmWait)
		e.logFeedback(ctx, page)
		if !smsSent {
			e.logger.Warn().Msg("SMS send not confirmed")
		}
	}

	// Stage 2: SMS code
	if smsCode == "" {
		if e.consoleMode() {
			smsCode = e.prompt(ctx, promptSMSCode)
		} else {
			if !smsSent {
				return false
			}
			smsCode = e.resolveSMSCode(ctx, imageB64)
		}
	}

	if smsCode != "" {
		if r := page.FillSMSCode(ctx, smsCode); !r.Ok() {
			e.logger.Warn().Str("result", r.String()).Msg("Could not fill SMS code")
		}
	}
	if r := page.Confirm(ctx); !r.Ok() {
		e.logger.Warn().Str("result", r.String()).Msg("Could not click device verification confirm button")
	}

	if smsCode == "" {
		e.logger.Warn().Msg("SMS code not provided; device verification not completed")
		return false
	}
	e.logger.Info().Msg("Device verification submitted")
	return true
}

func (e *Engine) resolveImageCode(ctx context.Context, imageB64 string, image []byte) (imageCode, smsCode string, fromOptical bool) {
	if e.opts.Mode == ModeAuto {
		if code := e.optical.Resolve(ctx, image); code != "" {
			return code, "", true
		}
	}

	if e.consoleMode() {
		return e.prompt(ctx, promptImageCode), "", false
	}

	sub, ok := e.serveAndWait(ctx, inputserver.Options{
		Port:     e.opts.Port,
		ImageB64: imageB64,
		Template: e.opts.Template,
		Variant:  inputserver.VariantVerify,
	}, "Phone verify page", false)
	if !ok {
		return "", "", false
	}
	return sub.ImageCode, sub.SMSCode, false
}

// resolveSMSCode asks the relay first, then falls back to an SMS-only input page whose link is
// also sent through the relay
func (e *Engine) resolveSMSCode(ctx context.Context, imageB64 string) string {
	if e.relayEnabled() {
		if e.relay.Notify(ctx, relayPromptMessage(e.opts.TelegramTimeout)) {
			if code, ok := e.relay.Await(ctx, e.opts.TelegramTimeout); ok {
				e.logger.Info().Msg("SMS code received through relay")
				return code
			}
		}
	}
	if ctx.Err() != nil {
		return ""
	}

	sub, ok := e.serveAndWait(ctx, inputserver.Options{
		Port:     e.opts.Port,
		ImageB64: imageB64,
		Template: e.opts.Template,
		Variant:  inputserver.VariantVerifySMS,
	}, "SMS verify page", true)
	if !ok {
		return ""
	}
	return sub.SMSCode
}

func (e *Engine) logFeedback(ctx context.Context, page DeviceBindPage) {
	for _, msg := range page.Feedback(ctx) {
		e.logger.Info().Str("message", msg).Msg("Page feedback")
	}
}
