package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/httpclient"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIBase is the public Bot API endpoint
	DefaultAPIBase = "https://api.telegram.org"

	// TestMessage is sent on startup when the test option is set
	TestMessage = "Telegram test: bot is configured successfully."

	longPollSeconds = 20
	requestTimeout  = 30 * time.Second
	sendTimeout     = 10 * time.Second
)

// Config holds the bot credentials
type Config struct {
	Token   string
	ChatID  string
	APIBase string
}

// Telegram relays prompts and replies through the Bot API.
// It tracks the update offset for the whole run: Bootstrap sets the floor and every
// Await advances past the updates it has seen.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger

	// pollSeconds is the server-side long-poll window; tests shorten it
	pollSeconds int

	mu          sync.Mutex
	offset      int64
	startOffset int64
}

// NewTelegram creates a relay. A missing token or chat id yields a disabled relay.
func NewTelegram(config Config, logger arbor.ILogger) *Telegram {
	apiBase := strings.TrimRight(config.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Telegram{
		token:       strings.TrimSpace(config.Token),
		chatID:      strings.TrimSpace(config.ChatID),
		apiBase:     apiBase,
		client:      httpclient.NewDefaultHTTPClient(requestTimeout),
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		logger:      logger,
		pollSeconds: longPollSeconds,
	}
}

// Enabled reports whether both the token and the chat id are configured
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// Offset returns the next update id the relay will ask for
func (t *Telegram) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// SetOffset sets both the polling offset and the floor below which replies are ignored
func (t *Telegram) SetOffset(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = offset
	t.startOffset = offset
}

// Notify sends text to the configured chat
func (t *Telegram) Notify(ctx context.Context, text string) bool {
	if !t.Enabled() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := t.call(ctx, "sendMessage", url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	})
	if err != nil {
		t.logger.Warn().Err(err).Msg("Telegram sendMessage failed")
		return false
	}
	return resp.OK
}

// Bootstrap skips the backlog: it asks for one pending update and starts right after it.
// Returns false when the API could not be reached or nothing is pending; the offset stays 0.
func (t *Telegram) Bootstrap(ctx context.Context) (int64, bool) {
	if t.token == "" {
		return 0, false
	}

	resp, err := t.call(ctx, "getUpdates", url.Values{
		"limit":   {"1"},
		"timeout": {"1"},
	})
	if err != nil || !resp.OK || len(resp.Result) == 0 {
		if err != nil {
			t.logger.Warn().Err(err).Msg("Telegram bootstrap failed")
		}
		return 0, false
	}

	next := resp.Result[len(resp.Result)-1].UpdateID + 1
	t.SetOffset(next)
	t.logger.Debug().Int64("offset", next).Msg("Telegram offset initialized")
	return next, true
}

// Await waits for the next non-empty text from the configured chat, starting at the
// relay's current offset
func (t *Telegram) Await(ctx context.Context, timeout time.Duration) (string, bool) {
	t.mu.Lock()
	start := t.offset
	t.mu.Unlock()

	text, next := t.AwaitReply(ctx, timeout, start)

	t.mu.Lock()
	if next > t.offset {
		t.offset = next
	}
	t.mu.Unlock()

	return text, text != ""
}

// AwaitReply long-polls getUpdates until a reply arrives or timeout elapses.
// Updates with ids below the relay's floor or below startOffset are consumed but never returned.
func (t *Telegram) AwaitReply(ctx context.Context, timeout time.Duration, startOffset int64) (string, int64) {
	if !t.Enabled() {
		return "", startOffset
	}

	t.mu.Lock()
	floor := t.startOffset
	t.mu.Unlock()
	if startOffset > floor {
		floor = startOffset
	}

	deadline := time.Now().Add(timeout)
	offset := startOffset

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return "", offset
		}

		// Pace attempts; the limiter wait is bounded by the deadline
		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		err := t.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return "", offset
		}

		pollSeconds := t.pollSeconds
		if secs := int(remaining / time.Second); secs < pollSeconds {
			pollSeconds = secs
		}

		params := url.Values{"timeout": {strconv.Itoa(pollSeconds)}}
		if offset > 0 {
			params.Set("offset", strconv.FormatInt(offset, 10))
		}

		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(pollSeconds)*time.Second+10*time.Second)
		resp, err := t.call(reqCtx, "getUpdates", params)
		cancel()
		if err != nil || !resp.OK {
			t.logger.Trace().Msg("Telegram getUpdates returned no usable response")
			continue
		}

		for _, upd := range resp.Result {
			if upd.UpdateID+1 > offset {
				offset = upd.UpdateID + 1
			}
			if upd.UpdateID < floor {
				continue
			}
			msg := upd.Message
			if msg == nil {
				msg = upd.EditedMessage
			}
			if msg == nil || msg.Chat.ID.String() != t.chatID {
				continue
			}
			if text := strings.TrimSpace(msg.Text); text != "" {
				return text, offset
			}
		}
	}
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result []update        `json:"-"`
	Raw    json.RawMessage `json:"result"`
}

type update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *message `json:"message"`
	EditedMessage *message `json:"edited_message"`
}

type message struct {
	Text string `json:"text"`
	Chat struct {
		ID json.Number `json:"id"`
	} `json:"chat"`
}

// call POSTs a form-encoded Bot API method. sendMessage results are objects, getUpdates results
// are arrays; only the latter are decoded into Result.
func (t *Telegram) call(ctx context.Context, method string, params url.Values) (*apiResponse, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)

	_, body, err := httpclient.Post(ctx, t.client, endpoint, "application/x-www-form-urlencoded", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("malformed %s response: %w", method, err)
	}
	if out.OK && method == "getUpdates" && len(out.Raw) > 0 {
		if err := json.Unmarshal(out.Raw, &out.Result); err != nil {
			return nil, fmt.Errorf("malformed %s result: %w", method, err)
		}
	}
	return &out, nil
}
