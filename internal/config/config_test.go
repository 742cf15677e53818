package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "pretty", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "per-chat", cfg.Session.Scope)
	assert.Equal(t, "service", cfg.Analysis.Provider)
	assert.Equal(t, 60*time.Second, cfg.Analysis.AnalysisTimeout())
	assert.Equal(t, 30*time.Second, cfg.Attachments.FetchTimeout())
	assert.False(t, cfg.Attachments.AllowPrivate, "downloads stay on public networks by default")
	assert.Equal(t, int64(10<<20), cfg.Attachments.MaxBytes)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.False(t, cfg.Gateway.Enabled)
	assert.False(t, cfg.Ledger.Enabled)
	assert.Nil(t, cfg.Channels.Telegram)
	assert.Nil(t, cfg.Channels.IRC)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultServiceEndpoint, cfg.Analysis.Endpoint)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
logging:
  level: debug
  consoleStyle: json
session:
  scope: per-sender
analysis:
  provider: anthropic
  apiKey: sk-test
  model: claude-sonnet-4-5
  timeoutSeconds: 20
  maxConcurrent: 2
  fallbacks: [openai]
  providers:
    openai:
      apiKey: sk-openai
      model: gpt-4o-mini
attachments:
  maxBytes: 2048
  allowPrivate: true
channels:
  telegram:
    token: "123:abc"
  irc:
    server: irc.libera.chat
    nick: tallybot
    channels:
      - "#receipts"
    useTLS: true
gateway:
  enabled: true
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
ledger:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "per-sender", cfg.Session.Scope)

	assert.Equal(t, "anthropic", cfg.Analysis.Provider)
	assert.Empty(t, cfg.Analysis.Endpoint, "service endpoint default only applies to the service provider")
	assert.Equal(t, "sk-test", cfg.Analysis.APIKey)
	assert.Equal(t, 20*time.Second, cfg.Analysis.AnalysisTimeout())
	assert.Equal(t, 2, cfg.Analysis.MaxConcurrent)
	assert.Equal(t, []string{"openai"}, cfg.Analysis.Fallbacks)
	assert.Equal(t, "sk-openai", cfg.Analysis.Providers["openai"].APIKey)

	assert.Equal(t, int64(2048), cfg.Attachments.MaxBytes)
	assert.Equal(t, 30*time.Second, cfg.Attachments.FetchTimeout())
	assert.True(t, cfg.Attachments.AllowPrivate)

	require.NotNil(t, cfg.Channels.Telegram)
	assert.Equal(t, "123:abc", cfg.Channels.Telegram.Token)
	assert.Equal(t, DefaultTelegramPollTimeout, cfg.Channels.Telegram.PollTimeout)

	require.NotNil(t, cfg.Channels.IRC)
	assert.Equal(t, "irc.libera.chat", cfg.Channels.IRC.Server)
	assert.Equal(t, 6697, cfg.Channels.IRC.Port, "TLS default port")
	assert.Equal(t, []string{"#receipts"}, cfg.Channels.IRC.Channels)

	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.True(t, cfg.Ledger.Enabled)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TALLY_GATEWAY_PORT", "12345")
	t.Setenv("TALLY_LOG_LEVEL", "TRACE")
	t.Setenv("TALLY_ANALYSIS_PROVIDER", "OpenAI")
	t.Setenv("TALLY_ANALYSIS_API_KEY", "sk-env")
	t.Setenv("TALLY_TELEGRAM_TOKEN", "999:xyz")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "openai", cfg.Analysis.Provider)
	assert.Empty(t, cfg.Analysis.Endpoint)
	assert.Equal(t, "sk-env", cfg.Analysis.APIKey)
	require.NotNil(t, cfg.Channels.Telegram)
	assert.Equal(t, "999:xyz", cfg.Channels.Telegram.Token)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_TG_TOKEN", "42:secret")
	t.Setenv("TEST_OPENAI_KEY", "sk-fallback")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
analysis:
  provider: service
  apiKey: ${UNSET_TALLY_VAR}
  providers:
    openai:
      apiKey: ${TEST_OPENAI_KEY}
channels:
  telegram:
    token: ${TEST_TG_TOKEN}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "42:secret", cfg.Channels.Telegram.Token)
	assert.Equal(t, "sk-fallback", cfg.Analysis.Providers["openai"].APIKey)
	assert.Equal(t, "${UNSET_TALLY_VAR}", cfg.Analysis.APIKey, "unset variables are left alone")
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"analysis": map[string]any{
			"provider": "openai",
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"analysis", "provider"})
	assert.True(t, ok)
	assert.Equal(t, "openai", val)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRawMissingFile(t *testing.T) {
	raw, err := LoadRaw(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestResolvePathsCustomHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TALLY_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, filepath.Join(tmp, "config.yaml"), paths.Config)
}

func TestEnsureDirs(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TALLY_HOME", tmp)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	for _, d := range []string{paths.Logs, paths.Data} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
