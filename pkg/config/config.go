package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// It holds settings for logging, the API, capture, storage, analysis
// and the ML offload service. Tags are used by Viper to map YAML keys
// to struct fields.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	APIPort  string `mapstructure:"api_port"`

	Capture    CaptureConfig    `mapstructure:"capture"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	ML         MLConfig         `mapstructure:"ml"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly"`
}

// CaptureConfig holds the capture subprocess settings: where the capture
// tool lives, which interface to bind, and which fields it should export.
type CaptureConfig struct {
	TsharkPath     string        `mapstructure:"tshark_path"`
	Interface      string        `mapstructure:"interface"`
	Filter         string        `mapstructure:"filter"`
	PacketLimit    int           `mapstructure:"packet_limit"`
	Fields         []string      `mapstructure:"fields"`
	RestartBackoff time.Duration `mapstructure:"restart_backoff"`
	SpoolDir       string        `mapstructure:"spool_dir"`
}

// StorageConfig holds the Redis connection and the persister behaviour.
type StorageConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Retention     int           `mapstructure:"retention"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// AnalysisConfig controls the analysis cycle.
type AnalysisConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	WindowSize   int           `mapstructure:"window_size"`
	MinMLPackets int           `mapstructure:"min_ml_packets"`
	MLBatchSize  int           `mapstructure:"ml_batch_size"`
}

// ThresholdsConfig holds the rule-based detection thresholds. Read-only
// for the lifetime of the process.
type ThresholdsConfig struct {
	DDoSPacketsPerSecond     int `mapstructure:"ddos_packets_per_second"`
	PortScanDistinctPorts    int `mapstructure:"port_scan_distinct_ports"`
	SynFloodPacketsPerWindow int `mapstructure:"syn_flood_packets_per_window"`
}

// MLConfig holds the remote prediction service settings.
type MLConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// AnomalyConfig controls deduplication and the in-memory anomaly cache.
type AnomalyConfig struct {
	Cooldown  time.Duration `mapstructure:"cooldown"`
	MaxRecent int           `mapstructure:"max_recent"`
}

// LoadConfig reads the configuration from a YAML file (e.g., config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/netsentry/")

	setDefaults(v)

	v.SetEnvPrefix("NETSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")

	v.SetDefault("capture.tshark_path", "tshark")
	v.SetDefault("capture.interface", "")
	v.SetDefault("capture.filter", "")
	v.SetDefault("capture.packet_limit", 0)
	v.SetDefault("capture.restart_backoff", "5s")
	v.SetDefault("capture.spool_dir", "")
	v.SetDefault("capture.fields", []string{
		"frame.number",
		"frame.time_epoch",
		"eth.src",
		"eth.dst",
		"ip.src",
		"ip.dst",
		"ipv6.src",
		"ipv6.dst",
		"tcp.srcport",
		"tcp.dstport",
		"udp.srcport",
		"udp.dstport",
		"_ws.col.protocol",
		"frame.len",
		"tcp.flags",
	})

	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.retention", 10000)
	v.SetDefault("storage.batch_size", 50)
	v.SetDefault("storage.flush_interval", "1s")
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.retry_delay", "1s")

	v.SetDefault("analysis.interval", "5s")
	v.SetDefault("analysis.window_size", 1000)
	v.SetDefault("analysis.min_ml_packets", 10)
	v.SetDefault("analysis.ml_batch_size", 100)

	v.SetDefault("thresholds.ddos_packets_per_second", 200)
	v.SetDefault("thresholds.port_scan_distinct_ports", 15)
	v.SetDefault("thresholds.syn_flood_packets_per_window", 100)

	v.SetDefault("ml.base_url", "http://localhost:8000")
	v.SetDefault("ml.timeout", "30s")
	v.SetDefault("ml.retry_attempts", 3)
	v.SetDefault("ml.retry_delay", "1s")
	v.SetDefault("ml.health_check_interval", "30s")

	v.SetDefault("anomaly.cooldown", "60s")
	v.SetDefault("anomaly.max_recent", 100)
}
