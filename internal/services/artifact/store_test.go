package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/models"
)

func sampleArtifact(t *testing.T) *models.CaptureArtifact {
	t.Helper()
	auth, err := models.ParseAuthBundle(`{"userId":42,"tenantId":"t","secretKey":"s","userAccount":"张三"}`)
	require.NoError(t, err)
	device := models.DeviceIdentity{"deviceName": json.RawMessage(`"我的电脑 😀"`), "objId": json.RawMessage(`7`)}
	headers := &models.ConnectHeaders{URL: "https://x/api/desktop/client/connect", Headers: map[string]string{"ctg-a": "<1>&"}}
	return models.NewCaptureArtifact(auth, device, headers)
}

func TestEncode_ASCIIEscapedAndIndented(t *testing.T) {
	data, err := Encode(sampleArtifact(t))
	require.NoError(t, err)

	for _, b := range data {
		require.Less(t, b, byte(0x80), "output must be pure ASCII")
	}
	s := string(data)
	assert.Contains(t, s, `\u5f20\u4e09`)
	assert.Contains(t, s, `\ud83d\ude00`, "astral runes become surrogate pairs")
	assert.Contains(t, s, `"<1>&"`, "HTML characters stay literal")
	assert.Contains(t, s, "\n  \"connect_url\"")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.json")
	store := NewStore(path, arbor.NewNoOpLogger())
	original := sampleArtifact(t)

	require.NoError(t, store.Save(original))

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, original.ConnectURL, loaded.ConnectURL)
	if diff := cmp.Diff(original.CtgHeaders, loaded.CtgHeaders); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "张三", loaded.Auth.Account())
	assert.JSONEq(t, "42", string(loaded.Auth.UserID))

	var name string
	require.NoError(t, json.Unmarshal(loaded.DeviceInfo["deviceName"], &name))
	assert.Equal(t, "我的电脑 😀", name)
}

func TestSave_ReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	store := NewStore(path, arbor.NewNoOpLogger())
	require.NoError(t, store.Save(sampleArtifact(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not remain")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestSave_RejectsIncomplete(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "config.json"), arbor.NewNoOpLogger())
	assert.Error(t, store.Save(&models.CaptureArtifact{}))

	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err), "no artifact on failure")
}
