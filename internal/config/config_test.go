package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMainConfigDefaults(t *testing.T) {
	cfg, err := ParseMainConfig([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "25555", cfg.Port)
	assert.Equal(t, int64(16_000_000), cfg.SharedMemoryBytes)
	assert.Equal(t, uint64(1000), cfg.CC.InitCount)
	assert.Equal(t, 60*time.Second, cfg.CC.RefillPeriod)
	assert.True(t, cfg.Cache.Enabled)
	assert.Empty(t, cfg.VerificationSecret)
	assert.Equal(t, time.Minute, cfg.VerificationValidTime)
}

func TestParseMainConfigOverrides(t *testing.T) {
	doc := `
port: "8080"
web_path: /waf
verification_secret: s3cret
verification_valid_time: 30s
shared_memory_size: 4MiB
workers: 2
cache:
  enabled: true
  capacity: 10
  ttl: 30s
  sweep_interval: 5s
  max_key_size: 128
cc:
  enabled: true
  mode: captcha
  rate: 5/1s
  ban_duration: 10m
  clear_period: 1h
  statistics_capacity: 100
  cycle: 1m
  block_duration: 1h
  max_bad_verification: 2
`
	cfg, err := ParseMainConfig([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "/waf", cfg.WebPath)
	assert.Equal(t, int64(4<<20), cfg.SharedMemoryBytes)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 128, cfg.Cache.MaxKeySize)
	assert.Equal(t, "captcha", cfg.CC.Mode)
	assert.Equal(t, uint64(5), cfg.CC.InitCount)
	assert.Equal(t, time.Second, cfg.CC.RefillPeriod)
	assert.Equal(t, 10*time.Minute, cfg.CC.BanDuration)
	assert.Equal(t, "s3cret", cfg.VerificationSecret)
	assert.Equal(t, 30*time.Second, cfg.VerificationValidTime)
}

func TestParseMainConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad port", `port: "http"`},
		{"relative web path", `web_path: torii`},
		{"bad memory size", `shared_memory_size: lots`},
		{"bad mode", "cc:\n  mode: tarpit"},
		{"captcha without secret", "cc:\n  mode: captcha"},
		{"bad rate", "cc:\n  rate: 0/60s"},
		{"no workers", `workers: 0`},
		{"empty cache", "cache:\n  enabled: true\n  capacity: 0"},
		{"bad status", `http_status: 200`},
		{"not yaml", `port: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMainConfig([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMainConfigMissingFile(t *testing.T) {
	cfg, err := LoadMainConfig(t.TempDir())
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "/torii", cfg.WebPath)
}

func TestLoadMainConfigFromDisk(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "config", "torii.yml"), []byte("node_name: edge-1\n"), 0o644))

	cfg, err := LoadMainConfig(base)
	require.NoError(t, err)
	assert.Equal(t, "edge-1", cfg.NodeName)
}
