package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// fakeBotAPI serves scripted getUpdates bodies in order, repeating the last one
type fakeBotAPI struct {
	mu       sync.Mutex
	updates  []string
	calls    int
	forms    []map[string]string
	messages []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()

	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.forms = append(f.forms, form)

	switch {
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.messages = append(f.messages, form["text"])
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1}}`)
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		body := `{"ok":true,"result":[]}`
		if len(f.updates) > 0 {
			idx := f.calls
			if idx >= len(f.updates) {
				idx = len(f.updates) - 1
			}
			body = f.updates[idx]
		}
		f.calls++
		fmt.Fprint(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotAPI) form(i int) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[i]
}

func (f *fakeBotAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestRelay(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	relay := NewTelegram(Config{Token: "123:abc", ChatID: "777", APIBase: srv.URL}, arbor.NewNoOpLogger())
	relay.pollSeconds = 0
	return relay
}

func TestAwait_NeverReturnsRepliesBelowStartOffset(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"ok":true,"result":[
			{"update_id":5,"message":{"text":"111111","chat":{"id":777}}},
			{"update_id":11,"message":{"text":" 654321 ","chat":{"id":777}}}
		]}`,
	}}
	relay := newTestRelay(t, api)
	relay.SetOffset(10)

	text, ok := relay.Await(context.Background(), 2*time.Second)

	require.True(t, ok)
	assert.Equal(t, "654321", text)
	assert.Equal(t, int64(12), relay.Offset())
}

func TestAwaitReply_FiltersChatAndAcceptsEditedMessages(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"ok":true,"result":[
			{"update_id":20,"message":{"text":"999999","chat":{"id":1}}},
			{"update_id":21,"message":{"text":"   ","chat":{"id":777}}},
			{"update_id":22,"edited_message":{"text":"424242","chat":{"id":777}}}
		]}`,
	}}
	relay := newTestRelay(t, api)

	text, next := relay.AwaitReply(context.Background(), 2*time.Second, 20)

	assert.Equal(t, "424242", text)
	assert.Equal(t, int64(23), next)
	assert.Equal(t, "20", api.form(0)["offset"])
}

func TestAwaitReply_MalformedAndFailedResponsesAreNoReply(t *testing.T) {
	api := &fakeBotAPI{updates: []string{`not json`, `{"ok":false,"description":"Unauthorized"}`}}
	relay := newTestRelay(t, api)

	start := time.Now()
	text, next := relay.AwaitReply(context.Background(), 1200*time.Millisecond, 3)

	assert.Empty(t, text)
	assert.Equal(t, int64(3), next)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.GreaterOrEqual(t, api.callCount(), 2, "keeps polling until the deadline")
}

func TestAwaitReply_StopsOnContextCancel(t *testing.T) {
	relay := newTestRelay(t, &fakeBotAPI{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text, _ := relay.AwaitReply(ctx, time.Minute, 0)
	assert.Empty(t, text)
}

func TestBootstrap_StartsAfterLatestPendingUpdate(t *testing.T) {
	api := &fakeBotAPI{updates: []string{`{"ok":true,"result":[{"update_id":41,"message":{"text":"stale","chat":{"id":777}}}]}`}}
	relay := newTestRelay(t, api)

	offset, ok := relay.Bootstrap(context.Background())

	require.True(t, ok)
	assert.Equal(t, int64(42), offset)
	assert.Equal(t, int64(42), relay.Offset())
	assert.Equal(t, "1", api.form(0)["limit"])
	assert.Equal(t, "1", api.form(0)["timeout"])
}

func TestBootstrap_EmptyBacklog(t *testing.T) {
	relay := newTestRelay(t, &fakeBotAPI{})

	_, ok := relay.Bootstrap(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int64(0), relay.Offset())
}

func TestNotify(t *testing.T) {
	api := &fakeBotAPI{}
	relay := newTestRelay(t, api)

	require.True(t, relay.Notify(context.Background(), TestMessage))
	api.mu.Lock()
	assert.Equal(t, []string{TestMessage}, api.messages)
	api.mu.Unlock()
	assert.Equal(t, "777", api.form(0)["chat_id"])
}

func TestDisabledRelay(t *testing.T) {
	relay := NewTelegram(Config{Token: "123:abc"}, arbor.NewNoOpLogger())

	assert.False(t, relay.Enabled())
	assert.False(t, relay.Notify(context.Background(), "hi"))

	text, ok := relay.Await(context.Background(), time.Minute)
	assert.False(t, ok)
	assert.Empty(t, text)
}
