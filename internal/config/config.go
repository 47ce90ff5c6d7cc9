// Package config provides the singleton, environment-overridable
// configuration for the monitor core, mirroring the teacher's YAML +
// env-override pattern.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
	Detection DetectionConfig `yaml:"detection"`
	Policy    PolicyConfig    `yaml:"policy"`
	KV        KVConfig        `yaml:"kv"`
}

type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	Env             string `yaml:"env"`
}

// HistoryConfig sizes the two History Store rings (spec §4.3).
type HistoryConfig struct {
	ProcessRingCapacity  int `yaml:"process_ring_capacity"`
	SecurityRingCapacity int `yaml:"security_ring_capacity"`
}

// DetectionConfig tunes the correlation engine (spec §4.4).
type DetectionConfig struct {
	AlertRingCapacity      int `yaml:"alert_ring_capacity"`
	CorrelationMaxKeys     int `yaml:"correlation_max_keys"`
	CorrelationPurgeEvery  int `yaml:"correlation_purge_every_events"`
	CorrelationMaxAgeSec   int `yaml:"correlation_max_age_sec"`
}

// PolicyConfig holds Policy Engine settings (spec §4.2, §6).
// DefaultAuditMode is loaded from YAML and SENTINEL_DEFAULT_AUDIT_MODE, but
// cmd/sentinel-core does not read it: the startup audit mode comes from
// kvstore.AuditModeStore, which yields true when the key is unset.
type PolicyConfig struct {
	DefaultAuditMode bool `yaml:"default_audit_mode"`
}

// KVConfig points at the external key-value config service backing
// AuditMode persistence.
type KVConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loading config.yaml (or
// $CONFIG_PATH) and a .env file once per process.
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("config: no .env file loaded", "error", err)
		}
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file (using defaults)", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.ListenAddr = getEnv("SENTINEL_LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.Env = getEnv("SENTINEL_ENV", c.Server.Env)
	if v := getEnvInt("SENTINEL_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	if v := getEnvInt("SENTINEL_PROCESS_RING_CAPACITY", 0); v > 0 {
		c.History.ProcessRingCapacity = v
	}
	if v := getEnvInt("SENTINEL_SECURITY_RING_CAPACITY", 0); v > 0 {
		c.History.SecurityRingCapacity = v
	}

	if v := getEnvInt("SENTINEL_ALERT_RING_CAPACITY", 0); v > 0 {
		c.Detection.AlertRingCapacity = v
	}
	if v := getEnvInt("SENTINEL_CORRELATION_MAX_KEYS", 0); v > 0 {
		c.Detection.CorrelationMaxKeys = v
	}
	if v := getEnvInt("SENTINEL_CORRELATION_PURGE_EVERY", 0); v > 0 {
		c.Detection.CorrelationPurgeEvery = v
	}
	if v := getEnvInt("SENTINEL_CORRELATION_MAX_AGE_SEC", 0); v > 0 {
		c.Detection.CorrelationMaxAgeSec = v
	}

	c.Policy.DefaultAuditMode = getEnvBool("SENTINEL_DEFAULT_AUDIT_MODE", c.Policy.DefaultAuditMode)

	c.KV.RedisAddr = getEnv("SENTINEL_REDIS_ADDR", c.KV.RedisAddr)
	c.KV.RedisPassword = getEnv("SENTINEL_REDIS_PASSWORD", c.KV.RedisPassword)
	if v := getEnvInt("SENTINEL_REDIS_DB", -1); v >= 0 {
		c.KV.RedisDB = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8443"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}

	// Ring capacities default to the spec's §4.3 reference sizes.
	if c.History.ProcessRingCapacity == 0 {
		c.History.ProcessRingCapacity = 5000
	}
	if c.History.SecurityRingCapacity == 0 {
		c.History.SecurityRingCapacity = 10000
	}

	// Detection defaults per spec §4.4.
	if c.Detection.AlertRingCapacity == 0 {
		c.Detection.AlertRingCapacity = 5000
	}
	if c.Detection.CorrelationMaxKeys == 0 {
		c.Detection.CorrelationMaxKeys = 2000
	}
	if c.Detection.CorrelationPurgeEvery == 0 {
		c.Detection.CorrelationPurgeEvery = 10000
	}
	if c.Detection.CorrelationMaxAgeSec == 0 {
		c.Detection.CorrelationMaxAgeSec = 300
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

