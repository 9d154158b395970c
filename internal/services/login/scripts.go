package login

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ternarybob/keepliver/internal/interfaces"
)

// Selectors and labels of the sign-in page
const (
	selAccountInput  = "input.account"
	selPasswordInput = "input.password"
	selAgreeCheckbox = "input.el-checkbox__original"
	selSubmit        = ".btn-submit, .btn-submit-pc"
	selCaptchaInput  = ".code"
	selCaptchaImage  = ".code-img"
	selConnect       = ".desktopcom-enter"

	selBindDialog     = "#dialog-deviceBind"
	selBindImage      = "#dialog-deviceBind img.img"
	selBindImageInput = `#dialog-deviceBind input[placeholder="请输入图形验证码"]`
	selBindSMSInput   = `#dialog-deviceBind input[placeholder="请输入短信验证码"]`
	selBindSendSMS    = "#dialog-deviceBind .box-form-item-sms"
	selBindConfirm    = "#dialog-deviceBind button.box-form-item-submit"
	selToast          = ".el-message__content"
	selBindFormError  = "#dialog-deviceBind .el-form-item__error"
)

var (
	accountViewLabels = []string{"账号登录", "密码登录", "账户登录", "账号登陆"}
	submitLabels      = []string{"登录", "安全登录"}
	connectLabels     = []string{"进入AI云电脑", "连接云电脑", "连接"}
)

// jsCall renders an immediately invoked function with JSON-encoded arguments
func jsCall(fn string, args ...interface{}) string {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			b = []byte("null")
		}
		encoded = append(encoded, string(b))
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")"
}

const clickByTextJS = `(labels) => {
  const nodes = Array.from(document.querySelectorAll('button, a, span, div'));
  const el = nodes.find((n) => labels.includes((n.innerText || '').trim()));
  if (!el) return false;
  el.click();
  return true;
}`

const showAccountFormJS = `() => {
  const right = document.querySelector('.right');
  if (right) right.style.display = '';
  const qr = document.querySelector('.qr-code');
  if (qr) qr.style.display = 'none';
  return !!right;
}`

const setValueJS = `(sel, value, extra) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.focus();
  el.value = value;
  const events = ['input', 'change'].concat(extra || []);
  events.forEach((name) => el.dispatchEvent(new Event(name, { bubbles: true })));
  return true;
}`

const valueJS = `(sel) => {
  const el = document.querySelector(sel);
  return el ? (el.value || '') : null;
}`

const textJS = `(sel) => {
  const el = document.querySelector(sel);
  return el ? (el.innerText || '').trim() : '';
}`

const tickCheckboxJS = `(sel) => {
  const cb = document.querySelector(sel);
  if (!cb) return null;
  if (cb.checked) return false;
  cb.click();
  return true;
}`

const scriptClickJS = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.click();
  return true;
}`

const scrollIntoViewJS = `(sel) => {
  const el = document.querySelector(sel);
  if (el) el.scrollIntoView({ block: 'center' });
  return !!el;
}`

const pressSendSMSJS = `(sel) => {
  const btn = document.querySelector(sel);
  if (!btn) return false;
  btn.dispatchEvent(new MouseEvent('mousedown', { bubbles: true }));
  btn.dispatchEvent(new MouseEvent('mouseup', { bubbles: true }));
  btn.click();
  return true;
}`

const confirmBindJS = `(sel) => {
  const btns = Array.from(document.querySelectorAll(sel));
  if (btns.length > 1) { btns[1].click(); return true; }
  const ok = btns.find((b) => (b.innerText || '').trim() === '确定');
  if (ok) { ok.click(); return true; }
  return false;
}`

const blobImageJS = `(sel) => {
  const img = document.querySelector(sel);
  if (!img || !img.src) return null;
  if (img.src.startsWith('data:')) return img.src;
  if (!img.src.startsWith('blob:')) return null;
  return fetch(img.src)
    .then((r) => r.blob())
    .then((b) => new Promise((resolve) => {
      const reader = new FileReader();
      reader.onloadend = () => resolve(reader.result);
      reader.readAsDataURL(b);
    }))
    .catch(() => null);
}`

const authDataJS = `localStorage.getItem('authData')`

func evalBool(ctx context.Context, d interfaces.BrowserDriver, expr string) (bool, error) {
	raw, err := d.Evaluate(ctx, expr)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, nil
	}
	return b, nil
}

// evalString returns "" for null and non-string results
func evalString(ctx context.Context, d interfaces.BrowserDriver, expr string) (string, error) {
	raw, err := d.Evaluate(ctx, expr)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", nil
	}
	return s, nil
}
