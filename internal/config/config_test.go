package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
http:
  addr: ":9090"
optimize:
  workingDayStart: "07:30"
  lookaheadDays: 5
distance:
  provider: static
  static:
    - {from: a, to: b, minutes: 12}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "07:30", cfg.Optimize.WorkingDayStart)
	assert.Equal(t, 5, cfg.Optimize.LookaheadDays)
	require.Len(t, cfg.Distance.Static, 1)
	assert.Equal(t, 12, cfg.Distance.Static[0].Minutes)
	// defaults still applied
	assert.Equal(t, 10, cfg.Distance.ChunkSize)
	assert.Equal(t, []string{"pro", "elite"}, cfg.Optimize.EligibleSubscriptions)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTemp(t, "config.yaml", "http:\n  addr: \":9090\"\n")
	t.Setenv("FRD_HTTP__ADDR", ":7070")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := writeTemp(t, "config.toml", "x = 1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"missing dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "none" }},
		{"hmac without secret", func(c *Config) { c.Auth.Mode = "hmac" }},
		{"http provider without url", func(c *Config) { c.Distance.Provider = "http" }},
		{"inverted window", func(c *Config) { c.Optimize.WorkingDayEnd = "06:00" }},
		{"zero increment", func(c *Config) { c.Optimize.SlotIncrementMinutes = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWindowHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 480, cfg.Optimize.DayStartMinutes())
	assert.Equal(t, 1080, cfg.Optimize.DayEndMinutes())
	assert.Equal(t, 780, cfg.Optimize.MidpointMinutes())
	assert.True(t, cfg.Optimize.SubscriptionEligible("PRO"))
	assert.False(t, cfg.Optimize.SubscriptionEligible("free"))
}
