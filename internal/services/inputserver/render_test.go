package inputserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "login-phone-verify.html")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const legacyTemplate = `<html><body>
<img src="{{ url_for('static', filename='ctyun.png') }}">
<form method="post" action="/ctyuncode">
  <input type="text" name="code">
  <button type="submit">Go</button>
</form>
</body></html>`

func TestRenderVerifyPage_SMSOnlyLegacyTemplate(t *testing.T) {
	html := RenderVerifyPage(writeTemplate(t, legacyTemplate), "QUJD", true)
	doc := parse(t, html)

	assert.Equal(t, 1, doc.Find(`input[name="sms_code"]`).Length())
	assert.Equal(t, 0, doc.Find(`input[name="code"]`).Length())
	assert.Equal(t, 0, doc.Find(`input[name="img_code"]`).Length())

	action, _ := doc.Find("form").Attr("action")
	assert.Equal(t, "/submit", action)

	src, _ := doc.Find("img").Attr("src")
	assert.Equal(t, "data:image/png;base64,QUJD", src)
}

func TestRenderVerifyPage_LegacyTemplateGetsBothFields(t *testing.T) {
	doc := parse(t, RenderVerifyPage(writeTemplate(t, legacyTemplate), "QUJD", false))

	assert.Equal(t, 1, doc.Find(`form input[name="img_code"]`).Length(), "code is renamed to img_code")
	assert.Equal(t, 1, doc.Find(`form input[name="sms_code"]`).Length(), "missing sms field is appended")
}

func TestRenderVerifyPage_FormFieldsPlaceholder(t *testing.T) {
	tpl := `<form action="/submit" method="post">{{FORM_FIELDS}}</form><img src="data:image/png;base64,{{IMAGE_DATA}}">`
	html := RenderVerifyPage(writeTemplate(t, tpl), "WFla", true)

	assert.Equal(t, `<form action="/submit" method="post">`+smsFieldHTML+`</form><img src="data:image/png;base64,WFla">`, html)
}

func TestRenderVerifyPage_TemplateWithFieldsUntouched(t *testing.T) {
	tpl := `<form action="/submit"><input name="img_code"><input name="sms_code"></form>`
	assert.Equal(t, tpl, RenderVerifyPage(writeTemplate(t, tpl), "", false))
}

func TestRenderVerifyPage_MissingTemplateUsesBuiltin(t *testing.T) {
	html := RenderVerifyPage(filepath.Join(t.TempDir(), "absent.html"), "QUJD", false)
	doc := parse(t, html)

	assert.Equal(t, "CTYUN Verify", doc.Find("title").Text())
	assert.Equal(t, 1, doc.Find(`input[name="img_code"]`).Length())
	assert.Equal(t, 1, doc.Find(`input[name="sms_code"]`).Length())
	action, _ := doc.Find("form").Attr("action")
	assert.Equal(t, "/submit", action)
}

func TestRenderCaptchaPage(t *testing.T) {
	doc := parse(t, RenderCaptchaPage("QUJD"))

	assert.Equal(t, "CTYUN Captcha", doc.Find("title").Text())
	maxlength, _ := doc.Find(`input[name="code"]`).Attr("maxlength")
	assert.Equal(t, "8", maxlength)
	src, _ := doc.Find("img").Attr("src")
	assert.Equal(t, "data:image/png;base64,QUJD", src)
}
