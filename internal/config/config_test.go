package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://ebank.mbbank.com.vn/cp/pl/login", cfg.Portal.LoginURL)
	assert.Contains(t, cfg.Portal.InquiryURL, "transaction-inquiry")
	assert.Equal(t, DefaultPollInterval, cfg.Tunables.PollInterval)
	assert.Equal(t, DefaultLookback, cfg.Tunables.Lookback)
	assert.Equal(t, DefaultMaxLoginAttempts, cfg.Tunables.MaxLoginAttempts)
	assert.NotEmpty(t, cfg.Portal.Selectors.CaptchaImage)
	assert.Contains(t, cfg.Portal.Selectors.TransactionRow, "%d")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
portal:
  login_url: https://staging.example.com/login
tunables:
  poll_interval: 5s
  max_pages: 9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com/login", cfg.Portal.LoginURL)
	assert.Equal(t, 5*time.Second, cfg.Tunables.PollInterval)
	assert.Equal(t, 9, cfg.Tunables.MaxPages)

	// Untouched values keep their defaults.
	assert.Contains(t, cfg.Portal.InquiryURL, "ebank.mbbank.com.vn")
	assert.Equal(t, DefaultLookback, cfg.Tunables.Lookback)
	assert.Equal(t, DefaultSessionMaxAge, cfg.Tunables.SessionMaxAge)
}

func TestLoadRestoresZeroedTunables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
tunables:
  poll_interval: 0s
  max_login_attempts: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, cfg.Tunables.PollInterval)
	assert.Equal(t, DefaultMaxLoginAttempts, cfg.Tunables.MaxLoginAttempts)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("portal: [broken"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
