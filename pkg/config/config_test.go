package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.APIPort)

	assert.Equal(t, "tshark", cfg.Capture.TsharkPath)
	assert.Equal(t, 5*time.Second, cfg.Capture.RestartBackoff)
	assert.Contains(t, cfg.Capture.Fields, "frame.time_epoch")
	assert.Contains(t, cfg.Capture.Fields, "tcp.flags")

	assert.Equal(t, 200, cfg.Thresholds.DDoSPacketsPerSecond)
	assert.Equal(t, 15, cfg.Thresholds.PortScanDistinctPorts)
	assert.Equal(t, 100, cfg.Thresholds.SynFloodPacketsPerWindow)

	assert.Equal(t, 5*time.Second, cfg.Analysis.Interval)
	assert.Equal(t, 1000, cfg.Analysis.WindowSize)

	assert.Equal(t, "http://localhost:8000", cfg.ML.BaseURL)
	assert.Equal(t, 3, cfg.ML.RetryAttempts)

	assert.Equal(t, 60*time.Second, cfg.Anomaly.Cooldown)
	assert.Equal(t, 100, cfg.Anomaly.MaxRecent)

	assert.Equal(t, 3, cfg.Storage.MaxRetries)
	assert.Equal(t, 50, cfg.Storage.BatchSize)
}

func TestLoadConfigFromFile(t *testing.T) {
	testConfigContent := `
log_level: debug
api_port: "9090"
capture:
  tshark_path: /usr/bin/tshark
  interface: eth0
  filter: "tcp or udp"
thresholds:
  ddos_packets_per_second: 500
ml:
  base_url: http://ml.internal:8000
`

	err := os.WriteFile("config.yaml", []byte(testConfigContent), 0644)
	assert.NoError(t, err)
	defer os.Remove("config.yaml")

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "9090", cfg.APIPort)
	assert.Equal(t, "/usr/bin/tshark", cfg.Capture.TsharkPath)
	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, "tcp or udp", cfg.Capture.Filter)
	assert.Equal(t, 500, cfg.Thresholds.DDoSPacketsPerSecond)
	assert.Equal(t, "http://ml.internal:8000", cfg.ML.BaseURL)

	// Unset keys keep their defaults.
	assert.Equal(t, 15, cfg.Thresholds.PortScanDistinctPorts)

	// Environment variable override.
	os.Setenv("NETSENTRY_API_PORT", "9091")
	defer os.Unsetenv("NETSENTRY_API_PORT")

	cfg, err = LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "9091", cfg.APIPort)
}
