package inputserver

import (
	"bytes"
	"html/template"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	imageFieldHTML = `<div>图形验证码: <input type="text" name="img_code" maxlength="8" size="8"/></div>`
	smsFieldHTML   = `<div>短信验证码: <input type="text" name="sms_code" maxlength="8" size="8"/></div>`

	imagePlaceholder  = "{{IMAGE_DATA}}"
	fieldsPlaceholder = "{{FORM_FIELDS}}"
)

// Legacy templates reference a static image through a Jinja expression
var legacyImageRefs = []string{
	`{{ url_for('static', filename='ctyun.png') }}`,
	`{{ url_for("static", filename="ctyun.png") }}`,
}

var captchaPage = template.Must(template.New("captcha").Parse(`<html><head><meta charset="utf-8"><title>CTYUN Captcha</title></head>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<body>
<h3>请输入验证码</h3>
<form method="POST" action="/submit">
  <input type="text" name="code" maxlength="8" size="8"/>
  <input type="submit" value="提交"/>
</form>
<p><img src="{{.Image}}" /></p>
</body></html>`))

var verifyPage = template.Must(template.New("verify").Parse(`<html><head><meta charset="utf-8"><title>CTYUN Verify</title></head>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<body>
<h3>手机号验证</h3>
<p>请输入图形验证码并获取短信验证码，再填写短信验证码。</p>
<form method="POST" action="/submit">
  {{.Fields}}
  <input type="submit" value="提交"/>
</form>
{{if .Image}}<p><img src="{{.Image}}" /></p>{{end}}
</body></html>`))

type pageData struct {
	Image  template.URL
	Fields template.HTML
}

func dataURL(imageB64 string) template.URL {
	if imageB64 == "" {
		return ""
	}
	return template.URL("data:image/png;base64," + imageB64)
}

func formFields(smsOnly bool) string {
	if smsOnly {
		return smsFieldHTML
	}
	return imageFieldHTML + smsFieldHTML
}

// RenderCaptchaPage renders the single-field CAPTCHA page
func RenderCaptchaPage(imageB64 string) string {
	var buf bytes.Buffer
	_ = captchaPage.Execute(&buf, pageData{Image: dataURL(imageB64)})
	return buf.String()
}

// RenderVerifyPage renders the device verification page. A readable template file is used when
// given; otherwise the built-in page is returned.
//
// Template handling, first applicable wins:
//  1. {{FORM_FIELDS}} is replaced by the required input fields
//  2. a template that already carries the fields is served as is
//  3. a legacy form is rewritten: its "code" input is renamed, missing inputs are appended
//     to the form and a /ctyuncode action is pointed at /submit
//
// {{IMAGE_DATA}} (or the legacy static image reference) is substituted before any of these.
func RenderVerifyPage(templatePath, imageB64 string, smsOnly bool) string {
	if templatePath == "" {
		return builtinVerifyPage(imageB64, smsOnly)
	}
	tpl, err := os.ReadFile(templatePath)
	if err != nil {
		return builtinVerifyPage(imageB64, smsOnly)
	}

	html := string(tpl)
	if strings.Contains(html, imagePlaceholder) {
		html = strings.ReplaceAll(html, imagePlaceholder, imageB64)
	} else {
		for _, ref := range legacyImageRefs {
			html = strings.ReplaceAll(html, ref, string(dataURL(imageB64)))
		}
	}

	if strings.Contains(html, fieldsPlaceholder) {
		return strings.ReplaceAll(html, fieldsPlaceholder, formFields(smsOnly))
	}

	return rewriteLegacyForm(html, smsOnly)
}

func builtinVerifyPage(imageB64 string, smsOnly bool) string {
	var buf bytes.Buffer
	_ = verifyPage.Execute(&buf, pageData{
		Image:  dataURL(imageB64),
		Fields: template.HTML(formFields(smsOnly)),
	})
	return buf.String()
}

func rewriteLegacyForm(html string, smsOnly bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	changed := false
	hasImage := doc.Find(`[name="img_code"]`).Length() > 0
	hasSMS := doc.Find(`[name="sms_code"]`).Length() > 0

	if code := doc.Find(`[name="code"]`); code.Length() > 0 {
		if smsOnly {
			code.SetAttr("name", "sms_code")
			hasSMS = true
		} else {
			code.SetAttr("name", "img_code")
			hasImage = true
		}
		changed = true
	}

	if form := doc.Find("form").First(); form.Length() > 0 {
		if !smsOnly && !hasImage {
			form.AppendHtml(imageFieldHTML)
			changed = true
		}
		if !hasSMS {
			form.AppendHtml(smsFieldHTML)
			changed = true
		}
	}

	if legacy := doc.Find(`form[action="/ctyuncode"]`); legacy.Length() > 0 {
		legacy.SetAttr("action", "/submit")
		changed = true
	}

	if !changed {
		return html
	}
	out, err := doc.Html()
	if err != nil {
		return html
	}
	return out
}
