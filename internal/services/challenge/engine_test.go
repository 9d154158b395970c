package challenge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/models"
	"github.com/ternarybob/keepliver/internal/services/ocr"
)

type stubClassifier struct{ code string }

func (s stubClassifier) Name() string { return "stub" }
func (s stubClassifier) Classify(context.Context, []byte) (string, error) {
	return s.code, nil
}

type scriptedPrompter struct {
	answers []string
	labels  []string
}

func (p *scriptedPrompter) Prompt(_ context.Context, label string) string {
	p.labels = append(p.labels, label)
	if len(p.answers) == 0 {
		return ""
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a
}

type fakeRelay struct {
	mu       sync.Mutex
	enabled  bool
	reply    string
	notified []string
}

func (r *fakeRelay) Enabled() bool { return r.enabled }

func (r *fakeRelay) Notify(_ context.Context, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, text)
	return true
}

func (r *fakeRelay) Await(context.Context, time.Duration) (string, bool) {
	return r.reply, r.reply != ""
}

func (r *fakeRelay) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notified...)
}

type fakePage struct {
	image   []byte
	smsSent bool
	actions []string
}

func (p *fakePage) CaptchaImage(context.Context) []byte { return p.image }
func (p *fakePage) FillImageCode(_ context.Context, code string) models.StepResult {
	p.actions = append(p.actions, "img:"+code)
	return models.StepSucceeded
}
func (p *fakePage) SendSMS(context.Context) models.StepResult {
	p.actions = append(p.actions, "send")
	return models.StepSucceeded
}
func (p *fakePage) SMSSent(context.Context, time.Duration) bool { return p.smsSent }
func (p *fakePage) FillSMSCode(_ context.Context, code string) models.StepResult {
	p.actions = append(p.actions, "sms:"+code)
	return models.StepSucceeded
}
func (p *fakePage) Confirm(context.Context) models.StepResult {
	p.actions = append(p.actions, "confirm")
	return models.StepSucceeded
}
func (p *fakePage) Feedback(context.Context) []string { return []string{"验证码已发送"} }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// submitWhenUp posts form to the input page on port as soon as it accepts connections
func submitWhenUp(t *testing.T, port int, form url.Values) {
	t.Helper()
	client := &http.Client{Timeout: time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := client.PostForm(fmt.Sprintf("http://127.0.0.1:%d/submit", port), form)
			if err == nil {
				resp.Body.Close()
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
}

func newEngine(opts Options, classifier *stubClassifier, relay *fakeRelay, prompter Prompter) *Engine {
	logger := arbor.NewNoOpLogger()
	var resolver *ocr.Resolver
	if classifier != nil {
		resolver = ocr.NewResolver(classifier, time.Second, logger)
	}
	if opts.CaptchaTimeout == 0 {
		opts.CaptchaTimeout = 3 * time.Second
	}
	if relay == nil {
		relay = &fakeRelay{}
	}
	return NewEngine(opts, resolver, relay, prompter, logger)
}

func TestResolveCaptcha_OffNeverResolves(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"typed"}}
	e := newEngine(Options{Mode: ModeOff}, &stubClassifier{code: "ocr1"}, nil, prompter)

	assert.Equal(t, "", e.ResolveCaptcha(context.Background(), []byte("img")))
	assert.Empty(t, prompter.labels)
}

func TestResolveCaptcha_OpticalFirstInAuto(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"typed"}}
	e := newEngine(Options{Mode: ModeAuto}, &stubClassifier{code: "ocr1"}, nil, prompter)

	assert.Equal(t, "ocr1", e.ResolveCaptcha(context.Background(), []byte("img")))
	assert.Empty(t, prompter.labels, "first non-empty code wins")
}

func TestResolveCaptcha_FallsBackToConsole(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"typed"}}
	e := newEngine(Options{Mode: ModeAuto, Port: 0}, &stubClassifier{code: ""}, nil, prompter)

	assert.Equal(t, "typed", e.ResolveCaptcha(context.Background(), []byte("img")))
	assert.Equal(t, []string{promptCaptcha}, prompter.labels)
}

func TestResolveCaptcha_ManualUsesInputPage(t *testing.T) {
	port := freePort(t)
	e := newEngine(Options{Mode: ModeManual, Port: port}, &stubClassifier{code: "ignored"}, nil, nil)

	submitWhenUp(t, port, url.Values{"code": {"web42"}})

	assert.Equal(t, "web42", e.ResolveCaptcha(context.Background(), []byte("img")))
}

func TestResolveCaptcha_InputPageTimeout(t *testing.T) {
	e := newEngine(Options{Mode: ModeManual, Port: freePort(t), CaptchaTimeout: 100 * time.Millisecond}, nil, nil, nil)
	assert.Equal(t, "", e.ResolveCaptcha(context.Background(), []byte("img")))
}

func TestResolveDeviceBind_OpticalThenRelay(t *testing.T) {
	relay := &fakeRelay{enabled: true, reply: "123456"}
	page := &fakePage{image: []byte("img"), smsSent: true}
	e := newEngine(Options{Mode: ModeAuto, Port: freePort(t), TelegramTimeout: 30 * time.Second}, &stubClassifier{code: "ab12"}, relay, nil)

	require.True(t, e.ResolveDeviceBind(context.Background(), page))

	assert.Equal(t, []string{"img:ab12", "send", "sms:123456", "confirm"}, page.actions)
	require.Len(t, relay.messages(), 1)
	assert.Contains(t, relay.messages()[0], "30s")
}

func TestResolveDeviceBind_UnconfirmedSMSEndsAttemptInWebMode(t *testing.T) {
	relay := &fakeRelay{enabled: true, reply: "123456"}
	page := &fakePage{image: []byte("img"), smsSent: false}
	e := newEngine(Options{Mode: ModeAuto, Port: freePort(t)}, &stubClassifier{code: "ab12"}, relay, nil)

	assert.False(t, e.ResolveDeviceBind(context.Background(), page))
	assert.Equal(t, []string{"img:ab12", "send"}, page.actions, "no confirm without a code")
	assert.Empty(t, relay.messages())
}

func TestResolveDeviceBind_ConsolePromptsBothStages(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"img9", "654321"}}
	page := &fakePage{image: []byte("img"), smsSent: false}
	e := newEngine(Options{Mode: ModeManual, Port: 0}, nil, nil, prompter)

	require.True(t, e.ResolveDeviceBind(context.Background(), page))

	assert.Equal(t, []string{promptImageCode, promptSMSCode}, prompter.labels)
	assert.Equal(t, []string{"img:img9", "send", "sms:654321", "confirm"}, page.actions)
}

func TestResolveDeviceBind_VerifyFormCarriesSMSCode(t *testing.T) {
	port := freePort(t)
	relay := &fakeRelay{enabled: true, reply: "should-not-be-used"}
	page := &fakePage{image: []byte("img"), smsSent: false}
	e := newEngine(Options{Mode: ModeManual, Port: port}, nil, relay, nil)

	submitWhenUp(t, port, url.Values{"img_code": {"k2k2"}, "sms_code": {"777777"}})

	require.True(t, e.ResolveDeviceBind(context.Background(), page))
	assert.Equal(t, []string{"img:k2k2", "send", "sms:777777", "confirm"}, page.actions)
	assert.Empty(t, relay.messages())
}

func TestResolveDeviceBind_VerifyFormWithOnlySMSCode(t *testing.T) {
	port := freePort(t)
	relay := &fakeRelay{enabled: true, reply: "should-not-be-used"}
	page := &fakePage{image: []byte("img"), smsSent: false}
	e := newEngine(Options{Mode: ModeManual, Port: port}, nil, relay, nil)

	submitWhenUp(t, port, url.Values{"sms_code": {"135790"}})

	require.True(t, e.ResolveDeviceBind(context.Background(), page))
	assert.Equal(t, []string{"sms:135790", "confirm"}, page.actions)
	assert.Empty(t, relay.messages())
}

func TestResolveDeviceBind_RelayTimeoutFallsBackToSMSPage(t *testing.T) {
	port := freePort(t)
	relay := &fakeRelay{enabled: true}
	page := &fakePage{image: []byte("img"), smsSent: true}
	e := newEngine(Options{Mode: ModeAuto, Port: port, BaseURL: "http://192.168.1.9"}, &stubClassifier{code: "ab12"}, relay, nil)

	submitWhenUp(t, port, url.Values{"sms_code": {"246810"}})

	require.True(t, e.ResolveDeviceBind(context.Background(), page))
	assert.Equal(t, []string{"img:ab12", "send", "sms:246810", "confirm"}, page.actions)

	msgs := relay.messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasSuffix(msgs[1], fmt.Sprintf("http://192.168.1.9:%d/", port)), msgs[1])
}

func TestResolveDeviceBind_NoImageYet(t *testing.T) {
	page := &fakePage{}
	e := newEngine(Options{Mode: ModeAuto}, &stubClassifier{code: "ab12"}, nil, nil)

	assert.False(t, e.ResolveDeviceBind(context.Background(), page))
	assert.Empty(t, page.actions)
}
