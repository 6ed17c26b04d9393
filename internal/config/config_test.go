package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	// A nonexistent explicit file is an error; load with no file instead.
	if err == nil {
		t.Log("explicit missing file unexpectedly loaded")
	}

	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 0.95, cfg.Matching.MinConfidenceAutoMatch)
	assert.Equal(t, int64(0), cfg.Matching.AmountTolerance)
	assert.Equal(t, 60*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4, cfg.Queue.Workers)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
matching:
  min_confidence_auto_match: 0.9
  amount_tolerance: 100
queue:
  workers: 8
gateways:
  paymongo_secret: whsk_test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Matching.MinConfidenceAutoMatch)
	assert.Equal(t, int64(100), cfg.Matching.AmountTolerance)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "whsk_test", cfg.Gateways.PayMongoSecret)
	// Unset values keep defaults.
	assert.Equal(t, 0.85, cfg.Matching.MinScoreAutoMatch)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(_ *Config) {}, wantErr: false},
		{name: "confidence above one", mutate: func(c *Config) { c.Matching.MinConfidenceAutoMatch = 1.5 }, wantErr: true},
		{name: "negative tolerance", mutate: func(c *Config) { c.Matching.AmountTolerance = -1 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Queue.Workers = 0 }, wantErr: true},
		{name: "zero max attempts", mutate: func(c *Config) { c.Queue.MaxAttempts = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
