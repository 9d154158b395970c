package browser

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/keepliver/internal/interfaces"
)

// perfEntry is one WebDriver performance log message, which wraps a DevTools event
type perfEntry struct {
	Message struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"message"`
}

type perfRequest struct {
	Request struct {
		URL     string                 `json:"url"`
		Method  string                 `json:"method"`
		Headers map[string]interface{} `json:"headers"`
	} `json:"request"`
}

type perfResponse struct {
	Response struct {
		URL     string                 `json:"url"`
		Status  float64                `json:"status"`
		Headers map[string]interface{} `json:"headers"`
	} `json:"response"`
}

// parsePerfLog converts performance log messages into network events.
// Entries that are not request/response events, or do not parse, are skipped.
func parsePerfLog(messages []string) []interfaces.NetworkEvent {
	var events []interfaces.NetworkEvent
	for _, msg := range messages {
		var entry perfEntry
		if err := json.Unmarshal([]byte(msg), &entry); err != nil {
			continue
		}

		switch entry.Message.Method {
		case "Network.requestWillBeSent":
			var p perfRequest
			if err := json.Unmarshal(entry.Message.Params, &p); err != nil {
				continue
			}
			events = append(events, interfaces.NetworkEvent{
				Kind:    interfaces.NetworkRequest,
				URL:     p.Request.URL,
				Method:  p.Request.Method,
				Headers: headerStrings(p.Request.Headers),
			})
		case "Network.responseReceived":
			var p perfResponse
			if err := json.Unmarshal(entry.Message.Params, &p); err != nil {
				continue
			}
			events = append(events, interfaces.NetworkEvent{
				Kind:    interfaces.NetworkResponse,
				URL:     p.Response.URL,
				Status:  int(p.Response.Status),
				Headers: headerStrings(p.Response.Headers),
			})
		}
	}
	return events
}

// headerStrings flattens DevTools header values, which are usually but not always strings
func headerStrings(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
