package login

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/ternarybob/keepliver/internal/models"
	"github.com/ternarybob/keepliver/internal/services/challenge"
	"github.com/ternarybob/keepliver/internal/services/instrument"
)

// deviceBindPage drives the #dialog-deviceBind modal
type deviceBindPage struct {
	*page
	inst *instrument.Instrumenter
}

func (d *deviceBindPage) CaptchaImage(ctx context.Context) []byte {
	dataURL, err := evalString(ctx, d.driver, jsCall(blobImageJS, selBindImage))
	if err == nil {
		if image := decodeDataURL(dataURL); len(image) > 0 {
			return image
		}
	}

	png, err := d.driver.ElementScreenshot(ctx, selBindImage)
	if err != nil {
		d.logger.Debug().Err(err).Msg("Device verification image screenshot failed")
		return nil
	}
	return png
}

func (d *deviceBindPage) FillImageCode(ctx context.Context, code string) models.StepResult {
	return d.fill(ctx, selBindImageInput, code)
}

func (d *deviceBindPage) SendSMS(ctx context.Context) models.StepResult {
	d.inst.Sink().ResetSMSSent()
	return d.script(ctx, pressSendSMSJS, selBindSendSMS)
}

func (d *deviceBindPage) SMSSent(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	d.inst.Pump(ctx)
	if d.inst.Sink().SMSSent() {
		return true
	}

	// The button turns into a countdown once the code is on its way
	label := d.text(ctx, selBindSendSMS)
	return strings.Contains(label, "秒") || strings.Contains(label, "s")
}

func (d *deviceBindPage) FillSMSCode(ctx context.Context, code string) models.StepResult {
	return d.fill(ctx, selBindSMSInput, code)
}

func (d *deviceBindPage) Confirm(ctx context.Context) models.StepResult {
	return d.script(ctx, confirmBindJS, selBindConfirm)
}

func (d *deviceBindPage) Feedback(ctx context.Context) []string {
	var out []string
	for _, sel := range []string{selToast, selBindFormError} {
		if msg := d.text(ctx, sel); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

func decodeDataURL(s string) []byte {
	if !strings.HasPrefix(s, "data:") {
		return nil
	}
	idx := strings.Index(s, ",")
	if idx < 0 {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s[idx+1:])
	if err != nil {
		return nil
	}
	return data
}

var _ challenge.DeviceBindPage = (*deviceBindPage)(nil)
