package instrument

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
)

const deviceEnvelope = `{"kind":"device","payload":{"objId":"1","objType":0,"osType":15,"deviceId":"d1",
"deviceCode":"c","deviceName":"n","sysVersion":"s","appVersion":"a","hostName":"h","vdCommand":"",
"ipAddress":"i","macAddress":"m","hardwareFeatureCode":"hw"}}`

func TestOfferHeaders_WriteOnce(t *testing.T) {
	sink := NewSink(arbor.NewNoOpLogger())

	assert.False(t, sink.OfferHeaders("https://h/api/desktop/client/connect", map[string]string{"Accept": "*/*"}),
		"an offer without ctg headers does not count as a population")
	assert.True(t, sink.OfferHeaders("https://h/api/desktop/client/connect", map[string]string{"ctg-a": "1", "Accept": "*/*"}))
	assert.False(t, sink.OfferHeaders("https://h/api/desktop/client/connect?second", map[string]string{"ctg-a": "2"}))

	h := sink.Headers()
	require.NotNil(t, h)
	assert.Equal(t, "https://h/api/desktop/client/connect", h.URL)
	assert.Equal(t, map[string]string{"ctg-a": "1"}, h.Headers)
}

func TestOfferHeaders_ConcurrentNetworkLogAndHook(t *testing.T) {
	const connectURL = "https://h/api/desktop/client/connect"
	hookEnvelope := `{"kind":"headers","payload":{"url":"` + connectURL + `?hook","headers":{"ctg-a":"hook","ctg-b":"hook"}}}`
	request := interfaces.NetworkEvent{
		Kind:    interfaces.NetworkRequest,
		URL:     connectURL + "?log",
		Method:  "POST",
		Headers: map[string]string{"ctg-a": "log", "ctg-b": "log"},
	}

	for i := 0; i < 200; i++ {
		logger := arbor.NewNoOpLogger()
		sink := NewSink(logger)
		inst := New(nil, sink, logger)

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			inst.Observe([]interfaces.NetworkEvent{request})
		}()
		go func() {
			defer wg.Done()
			<-start
			sink.Consume(hookEnvelope)
		}()
		close(start)
		wg.Wait()

		h := sink.Headers()
		require.NotNil(t, h)
		// one population wins whole; the two sources are never mixed
		switch h.URL {
		case connectURL + "?log":
			assert.Equal(t, map[string]string{"ctg-a": "log", "ctg-b": "log"}, h.Headers)
		case connectURL + "?hook":
			assert.Equal(t, map[string]string{"ctg-a": "hook", "ctg-b": "hook"}, h.Headers)
		default:
			t.Fatalf("unexpected url %q", h.URL)
		}
	}
}

func TestHeaders_ReturnsCopy(t *testing.T) {
	sink := NewSink(arbor.NewNoOpLogger())
	sink.OfferHeaders("u", map[string]string{"ctg-a": "1"})

	sink.Headers().Headers["ctg-a"] = "mutated"
	assert.Equal(t, "1", sink.Headers().Headers["ctg-a"])
}

func TestConsume_DeviceOverwrites(t *testing.T) {
	sink := NewSink(arbor.NewNoOpLogger())

	sink.Consume(deviceEnvelope)
	require.NotNil(t, sink.Device())

	second := `{"kind":"device","payload":{"objId":"2","objType":0,"osType":15,"deviceId":"d2",
"deviceCode":"c","deviceName":"n","sysVersion":"s","appVersion":"a","hostName":"h","vdCommand":"",
"ipAddress":"i","macAddress":"m","hardwareFeatureCode":"hw"}}`
	sink.Consume(second)
	assert.Equal(t, `"d2"`, string(sink.Device()["deviceId"]))
}

func TestConsume_IgnoresPartialAndMalformed(t *testing.T) {
	sink := NewSink(arbor.NewNoOpLogger())

	sink.Consume(`{"kind":"device","payload":{"objId":"1","deviceId":"d"}}`)
	sink.Consume(`not json`)
	sink.Consume(`{"kind":"other","payload":{}}`)
	sink.Consume(`{"kind":"headers","payload":{"url":"","headers":{"ctg-a":"1"}}}`)

	assert.Nil(t, sink.Device())
	assert.Nil(t, sink.Headers())
	assert.False(t, sink.Complete())
}

func TestComplete(t *testing.T) {
	sink := NewSink(arbor.NewNoOpLogger())
	sink.Consume(deviceEnvelope)
	assert.False(t, sink.Complete())

	sink.Consume(`{"kind":"headers","payload":{"url":"https://h/api/desktop/client/connect","headers":{"CTG-Sign":"x"}}}`)
	assert.True(t, sink.Complete())
}

func TestSMSSentFlag(t *testing.T) {
	sink := NewSink(arbor.NewNoOpLogger())
	assert.False(t, sink.SMSSent())
	sink.MarkSMSSent()
	assert.True(t, sink.SMSSent())
	sink.ResetSMSSent()
	assert.False(t, sink.SMSSent())
}
