package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuthBundle holds the token bundle read from the page's authData local storage blob.
// Values are kept as raw JSON so numeric ids are written back exactly as the page stored them.
type AuthBundle struct {
	UserID      json.RawMessage `json:"userId"`
	TenantID    json.RawMessage `json:"tenantId"`
	SecretKey   json.RawMessage `json:"secretKey"`
	UserAccount json.RawMessage `json:"userAccount"`
}

// ParseAuthBundle parses the authData blob. An empty or non-object blob is an error,
// which callers treat as "not logged in yet".
func ParseAuthBundle(blob string) (*AuthBundle, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" || blob == "null" {
		return nil, fmt.Errorf("authData is empty")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, fmt.Errorf("authData is not a JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("authData is not a JSON object")
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("authData is an empty object")
	}
	if !hasAnyKey(raw, "userId", "tenantId", "secretKey", "userAccount") {
		return nil, fmt.Errorf("authData carries none of userId, tenantId, secretKey, userAccount")
	}

	return &AuthBundle{
		UserID:      nullIfMissing(raw["userId"]),
		TenantID:    nullIfMissing(raw["tenantId"]),
		SecretKey:   nullIfMissing(raw["secretKey"]),
		UserAccount: nullIfMissing(raw["userAccount"]),
	}, nil
}

// Account returns the userAccount value as plain text for logging.
func (a *AuthBundle) Account() string {
	if a == nil || len(a.UserAccount) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.UserAccount, &s); err == nil {
		return s
	}
	return string(a.UserAccount)
}

func nullIfMissing(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}

func hasAnyKey(raw map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}
