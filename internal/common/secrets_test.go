package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecrets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadSecrets_AliasesAndNumericChatID(t *testing.T) {
	path := writeSecrets(t, `{"account":" 13800000000 ","password":"pw","tg_token":"123:abc","tg_chat_id":987654321}`)

	s, err := LoadSecrets(path)
	require.NoError(t, err)

	assert.Equal(t, "13800000000", s.Account)
	assert.Equal(t, "pw", s.Password)
	assert.Equal(t, "123:abc", s.TelegramToken)
	assert.Equal(t, "987654321", s.TelegramChatID)
}

func TestLoadSecrets_LongKeysWinOverAliases(t *testing.T) {
	path := writeSecrets(t, `{"telegram_token":"long","tg_token":"short","telegram_chat_id":"-100","tg_chat_id":"5"}`)

	s, err := LoadSecrets(path)
	require.NoError(t, err)

	assert.Equal(t, "long", s.TelegramToken)
	assert.Equal(t, "-100", s.TelegramChatID)
}

func TestLoadSecrets_Malformed(t *testing.T) {
	_, err := LoadSecrets(writeSecrets(t, `{"account":`))
	assert.Error(t, err)
}

func TestResolveCredentials_ExplicitValuesWin(t *testing.T) {
	config := NewDefaultConfig()
	config.Login.SecretsFile = writeSecrets(t, `{"account":"from-file","password":"file-pw","telegram_token":"file-token","telegram_chat_id":1}`)
	config.Login.Account = "from-flag"

	require.NoError(t, ResolveCredentials(config))

	assert.Equal(t, "from-flag", config.Login.Account)
	assert.Equal(t, "file-pw", config.Login.Password)
	assert.Equal(t, "file-token", config.Telegram.Token)
	assert.Equal(t, "1", config.Telegram.ChatID)
}

func TestResolveCredentials_NoSecretsFile(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, ResolveCredentials(config))
	assert.Empty(t, config.Login.Account)
}
