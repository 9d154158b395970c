package models

import (
	"encoding/json"
	"strings"
)

// DeviceIdentityKeys is the allow-list an object must fully expose to be treated as the
// device identity. The page builds this object right before encrypting it for transmission.
var DeviceIdentityKeys = []string{
	"objId", "objType", "osType", "deviceId", "deviceCode",
	"deviceName", "sysVersion", "appVersion", "hostName",
	"vdCommand", "ipAddress", "macAddress", "hardwareFeatureCode",
}

const (
	// ConnectPath identifies the desktop connect request.
	ConnectPath = "/api/desktop/client/connect"
	// SmsCodePath identifies the device-bind SMS dispatch request.
	SmsCodePath = "/api/cdserv/client/device/getSmsCode"
	// HeaderPrefix selects the headers replayed by the keepalive process.
	HeaderPrefix = "ctg-"
)

// DeviceIdentity is the intercepted device object, extras included.
type DeviceIdentity map[string]json.RawMessage

// ParseDeviceIdentity decodes a candidate object and checks it exposes every allow-listed key.
func ParseDeviceIdentity(data []byte) (DeviceIdentity, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, false
	}
	d := DeviceIdentity(obj)
	if !d.Complete() {
		return nil, false
	}
	return d, true
}

// Complete reports whether all allow-listed keys are present.
func (d DeviceIdentity) Complete() bool {
	if d == nil {
		return false
	}
	for _, k := range DeviceIdentityKeys {
		if _, ok := d[k]; !ok {
			return false
		}
	}
	return true
}

// ConnectHeaders is the connect request URL with its ctg-* header subset.
type ConnectHeaders struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Empty reports whether nothing usable was captured.
func (c *ConnectHeaders) Empty() bool {
	return c == nil || c.URL == "" || len(c.Headers) == 0
}

// FilterHeaders keeps the headers whose name starts with HeaderPrefix, case-insensitively.
func FilterHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range headers {
		if strings.HasPrefix(strings.ToLower(k), HeaderPrefix) {
			out[k] = v
		}
	}
	return out
}

// IsConnectRequest matches the connect request by path fragment and method.
func IsConnectRequest(url, method string) bool {
	return strings.Contains(url, ConnectPath) && strings.EqualFold(method, "POST")
}

// CaptureArtifact is the persisted record read by the keepalive process.
type CaptureArtifact struct {
	ConnectURL string            `json:"connect_url"`
	CtgHeaders map[string]string `json:"ctg_headers"`
	DeviceInfo DeviceIdentity    `json:"device_info"`
	Auth       *AuthBundle       `json:"auth"`
}

// NewCaptureArtifact merges the three captured parts.
func NewCaptureArtifact(auth *AuthBundle, device DeviceIdentity, headers *ConnectHeaders) *CaptureArtifact {
	return &CaptureArtifact{
		ConnectURL: headers.URL,
		CtgHeaders: headers.Headers,
		DeviceInfo: device,
		Auth:       auth,
	}
}
