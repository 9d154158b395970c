package inputserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"go.uber.org/goleak"
)

var client = &http.Client{
	Timeout:   5 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func submit(t *testing.T, s *Server, form url.Values) {
	t.Helper()
	resp, err := client.PostForm(fmt.Sprintf("http://127.0.0.1:%d/submit", s.Port()), form)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestServe_PortZeroIsConsoleMode(t *testing.T) {
	_, err := Serve(context.Background(), Options{Port: 0}, arbor.NewNoOpLogger())
	assert.ErrorIs(t, err, ErrConsoleMode)
}

func TestServe_FirstSubmissionWinsAndPortIsReleased(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := freePort(t)
	s, err := Serve(context.Background(), Options{Port: port, Variant: VariantCaptcha, ImageB64: "QUJD"}, arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, port, s.Port())

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(page), "CTYUN Captcha")

	submit(t, s, url.Values{"code": {"   "}})
	submit(t, s, url.Values{"code": {" ab12 "}})
	submit(t, s, url.Values{"code": {"zz99"}})

	sub, ok := s.Wait(context.Background(), 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "ab12", sub.ImageCode)

	// The port is free again as soon as Wait returns
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestServe_BusyPortFallsBackAndRebinds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	busyPort := busy.Addr().(*net.TCPAddr).Port

	first, err := Serve(context.Background(), Options{Port: busyPort, Variant: VariantVerify}, arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.NotEqual(t, busyPort, first.Port())

	_, ok := first.Wait(context.Background(), 50*time.Millisecond)
	assert.False(t, ok, "timeout yields no submission")

	require.NoError(t, busy.Close())

	// Two successive servers on the same port within one run
	second, err := Serve(context.Background(), Options{Port: busyPort, Variant: VariantVerify}, arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, busyPort, second.Port())
	second.Close()

	third, err := Serve(context.Background(), Options{Port: busyPort, Variant: VariantVerifySMS}, arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, busyPort, third.Port())
	third.Close()
}

func TestClose_ReleasesPortImmediately(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	free, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := free.Addr().(*net.TCPAddr).Port
	require.NoError(t, free.Close())

	for i := 0; i < 5; i++ {
		s, err := Serve(context.Background(), Options{Port: port, Variant: VariantCaptcha}, arbor.NewNoOpLogger())
		require.NoError(t, err)
		assert.Equal(t, port, s.Port(), "attempt %d", i)
		s.Close()
	}
}

func TestServe_VerifyVariantsDecodeFields(t *testing.T) {
	tests := []struct {
		name    string
		variant Variant
		form    url.Values
		want    Submission
	}{
		{"verify both", VariantVerify, url.Values{"img_code": {"ab12"}, "sms_code": {"123456"}}, Submission{ImageCode: "ab12", SMSCode: "123456"}},
		{"verify legacy code", VariantVerify, url.Values{"code": {"ab12"}}, Submission{ImageCode: "ab12"}},
		{"sms-only legacy code", VariantVerifySMS, url.Values{"code": {"654321"}}, Submission{SMSCode: "654321"}},
		{"captcha accepts sms_code", VariantCaptcha, url.Values{"sms_code": {"x1"}}, Submission{ImageCode: "x1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Serve(context.Background(), Options{Port: freePort(t), Variant: tt.variant}, arbor.NewNoOpLogger())
			require.NoError(t, err)

			submit(t, s, tt.form)

			got, ok := s.Wait(context.Background(), 2*time.Second)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServe_ContextCancelClosesServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Serve(ctx, Options{Port: freePort(t)}, arbor.NewNoOpLogger())
	require.NoError(t, err)

	cancel()
	_, ok := s.Wait(context.Background(), 5*time.Second)
	assert.False(t, ok)
}

func TestServer_URL(t *testing.T) {
	s := &Server{port: 8123}
	assert.Equal(t, "http://127.0.0.1:8123", s.URL(""))
	assert.Equal(t, "http://10.0.0.5:8123", s.URL("http://10.0.0.5/"))
}
