package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Secrets is the optional JSON file that keeps credentials out of the command line
type Secrets struct {
	Account        string
	Password       string
	TelegramToken  string
	TelegramChatID string
}

type secretsFile struct {
	Account        string          `json:"account"`
	Password       string          `json:"password"`
	TelegramToken  string          `json:"telegram_token"`
	TgToken        string          `json:"tg_token"`
	TelegramChatID json.RawMessage `json:"telegram_chat_id"`
	TgChatID       json.RawMessage `json:"tg_chat_id"`
}

// LoadSecrets reads the secrets JSON. The telegram keys accept the short tg_* aliases;
// chat ids may be numbers or strings.
func LoadSecrets(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var raw secretsFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}

	s := &Secrets{
		Account:        strings.TrimSpace(raw.Account),
		Password:       raw.Password,
		TelegramToken:  firstNonEmpty(raw.TelegramToken, raw.TgToken),
		TelegramChatID: firstNonEmpty(chatID(raw.TelegramChatID), chatID(raw.TgChatID)),
	}
	return s, nil
}

// ResolveCredentials fills blank account, password and telegram settings from the secrets file
// named in the config. Values already set (flags, env, config file) win.
func ResolveCredentials(config *Config) error {
	if config.Login.SecretsFile == "" {
		return nil
	}

	s, err := LoadSecrets(config.Login.SecretsFile)
	if err != nil {
		return err
	}

	if config.Login.Account == "" {
		config.Login.Account = s.Account
	}
	if config.Login.Password == "" {
		config.Login.Password = s.Password
	}
	if config.Telegram.Token == "" {
		config.Telegram.Token = s.TelegramToken
	}
	if config.Telegram.ChatID == "" {
		config.Telegram.ChatID = s.TelegramChatID
	}
	return nil
}

func chatID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
