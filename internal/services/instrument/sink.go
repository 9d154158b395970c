package instrument

import (
	"encoding/json"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/models"
)

// Envelope kinds posted by the hook script
const (
	KindDevice  = "device"
	KindHeaders = "headers"
)

// Envelope is one message from the page
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Sink collects capture results from every path (binding, outbox, network log).
// Device identity is overwritten by later captures; connect headers are write-once.
type Sink struct {
	mu      sync.Mutex
	device  models.DeviceIdentity
	headers *models.ConnectHeaders
	smsSent bool
	logger  arbor.ILogger
}

// NewSink creates an empty sink
func NewSink(logger arbor.ILogger) *Sink {
	return &Sink{logger: logger}
}

// Consume decodes one envelope posted by the page. Unknown or malformed envelopes are ignored.
func (s *Sink) Consume(raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring malformed page envelope")
		return
	}

	switch env.Kind {
	case KindDevice:
		if device, ok := models.ParseDeviceIdentity(env.Payload); ok {
			s.OfferDevice(device)
		}
	case KindHeaders:
		var h models.ConnectHeaders
		if err := json.Unmarshal(env.Payload, &h); err == nil {
			s.OfferHeaders(h.URL, h.Headers)
		}
	default:
		s.logger.Debug().Str("kind", env.Kind).Msg("Ignoring unknown page envelope")
	}
}

// OfferDevice records a device identity; the latest complete one wins
func (s *Sink) OfferDevice(device models.DeviceIdentity) {
	if !device.Complete() {
		return
	}
	s.mu.Lock()
	first := s.device == nil
	s.device = device
	s.mu.Unlock()

	if first {
		s.logger.Info().Int("keys", len(device)).Msg("Device identity captured")
	}
}

// OfferHeaders records the connect request headers if none were recorded yet.
// Non-ctg headers are dropped; an offer left empty after filtering is ignored.
// Returns true when the offer was stored.
func (s *Sink) OfferHeaders(url string, headers map[string]string) bool {
	filtered := models.FilterHeaders(headers)
	candidate := &models.ConnectHeaders{URL: url, Headers: filtered}
	if candidate.Empty() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.headers.Empty() {
		return false
	}
	s.headers = candidate
	s.logger.Info().Str("url", url).Int("headers", len(filtered)).Msg("Connect headers captured")
	return true
}

// MarkSMSSent records that the SMS dispatch request was answered
func (s *Sink) MarkSMSSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smsSent = true
}

// ResetSMSSent clears the flag before a new send attempt
func (s *Sink) ResetSMSSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smsSent = false
}

// SMSSent reports whether a dispatch response was seen since the last reset
func (s *Sink) SMSSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smsSent
}

// Device returns the captured identity, nil until captured
func (s *Sink) Device() models.DeviceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Headers returns a copy of the captured connect headers, nil until captured
func (s *Sink) Headers() *models.ConnectHeaders {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers == nil {
		return nil
	}
	out := &models.ConnectHeaders{URL: s.headers.URL, Headers: make(map[string]string, len(s.headers.Headers))}
	for k, v := range s.headers.Headers {
		out.Headers[k] = v
	}
	return out
}

// Complete reports whether both the device identity and the headers are captured
func (s *Sink) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil && !s.headers.Empty()
}
