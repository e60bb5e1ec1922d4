package presets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinLookup(t *testing.T) {
	tbl := NewTable()
	limits, ok := tbl.Lookup("openai", "gpt-5")
	require.True(t, ok)
	assert.Equal(t, 500.0, limits.RequestsPerMinute)
}

func TestLookupUnknownPairMisses(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.Lookup("unknown", "model-x")
	assert.False(t, ok)
}

func TestLoadOverlayOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	content := "openai/gpt-5:\n  requests_per_minute: 999\n  tokens_per_minute: 1000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tbl := NewTable()
	require.NoError(t, tbl.LoadOverlay(path))

	limits, ok := tbl.Lookup("openai", "gpt-5")
	require.True(t, ok)
	assert.Equal(t, 999.0, limits.RequestsPerMinute)
}

func TestLoadOverlayAddsNewEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	content := "mistral/large:\n  requests_per_minute: 10\n  tokens_per_minute: 5000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tbl := NewTable()
	require.NoError(t, tbl.LoadOverlay(path))

	limits, ok := tbl.Lookup("mistral", "large")
	require.True(t, ok)
	assert.Equal(t, 10.0, limits.RequestsPerMinute)
}

func TestLoadOverlayRejectsMalformedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not-a-provider-model-pair:\n  requests_per_minute: 1\n"), 0o600))

	tbl := NewTable()
	err := tbl.LoadOverlay(path)
	assert.Error(t, err)
}
