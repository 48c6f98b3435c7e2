// Package svcconfig loads each service's YAML configuration file (path from
// CONFIG_PATH, default "config.yaml") with environment-variable overrides,
// per spec.md §6.4. Modeled on the teacher's internal/config/config.go:
// a package-level singleton, explicit getEnv*/applyDefaults helpers, no
// reflection-based env binding library.
package svcconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the union of sections every service may need; each service's
// main only reads the sections it cares about, so one loader/shape serves
// all four binaries (and the reputation recorder).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Platform   PlatformConfig   `yaml:"platform"`
	Identity   DownstreamConfig `yaml:"identity"`
	CentralBank DownstreamConfig `yaml:"central_bank"`
	TaskBoard  DownstreamConfig `yaml:"task_board"`
	Reputation DownstreamConfig `yaml:"reputation"`
	Redis      RedisConfig      `yaml:"redis"`
	Limits     LimitsConfig     `yaml:"limits"`
	Deadlines  DeadlinesConfig  `yaml:"deadlines"`
	Court      CourtConfig      `yaml:"court"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Interface       string `yaml:"interface"`
	LogLevel        string `yaml:"log_level"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PlatformConfig names the distinguished platform agent whose signature
// authorizes privileged operations (account creation with balance, escrow
// release/split, dispute ruling, feedback recording). Task Board and
// Court hold the platform private key so they can sign the platform-
// authorized envelopes spec.md's lazy-deadline and ruling side effects
// require (e.g. the compensating escrow_release on a failed create_task).
type PlatformConfig struct {
	AgentID    string `yaml:"agent_id"`
	PrivateKey string `yaml:"private_key"` // base64 raw 64-byte Ed25519 seed+pub, see envelope.DecodePrivateKey
}

// DownstreamConfig is shared shape for any service-to-service dependency:
// base URL + call timeout, wrapped in a circuit breaker by internal/clients.
type DownstreamConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LimitsConfig covers spec.md §6.2's request-size caps and Task Board's
// asset-upload caps.
type LimitsConfig struct {
	MaxBodyBytes  int64 `yaml:"max_body_bytes"`
	MaxAssetBytes int64 `yaml:"max_asset_bytes"`
	MaxAssets     int   `yaml:"max_assets"`
	StorageRoot   string `yaml:"storage_root"`
}

// DeadlinesConfig holds Task Board's upper bounds on the bidding/execution/
// review windows (spec.md §4.3). The poster supplies all three in
// create_task; these are used only as config-side validation ceilings, not
// silent substitutions for an omitted value.
type DeadlinesConfig struct {
	MaxBiddingSec   int `yaml:"max_bidding_sec"`
	MaxExecutionSec int `yaml:"max_execution_sec"`
	MaxReviewSec    int `yaml:"max_review_sec"`
}

// CourtConfig holds Court-specific settings: rebuttal window and the
// pluggable judge panel.
type CourtConfig struct {
	RebuttalSec int           `yaml:"rebuttal_sec"`
	Judges      []JudgeConfig `yaml:"judges"`
}

type JudgeConfig struct {
	ID      string `yaml:"id"`
	BaseURL string `yaml:"base_url"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide config singleton, loading it on first call.
func Get() *Config {
	once.Do(func() {
		path := getEnv("CONFIG_PATH", "config.yaml")
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("svcconfig: failed to load config file, using defaults+env", "path", path, "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// Load reads and parses a YAML config file from disk.
func Load(path string) (*Config, error) {
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

// MustBeWritable fails loudly if the database file's directory cannot be
// written to, per spec.md §6.4 ("Startup fails loudly if the store path is
// unwritable").
func MustBeWritable(dbPath string) {
	dir := dbPath
	if idx := strings.LastIndex(dbPath, "/"); idx >= 0 {
		dir = dbPath[:idx]
	} else {
		dir = "."
	}
	probe := dir + "/.write_probe"
	f, err := os.Create(probe)
	if err != nil {
		slog.Error("svcconfig: database path is not writable", "dir", dir, "error", err)
		os.Exit(1)
	}
	f.Close()
	os.Remove(probe)
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Interface = getEnv("BIND_INTERFACE", c.Server.Interface)
	c.Server.LogLevel = getEnv("LOG_LEVEL", c.Server.LogLevel)

	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	c.Platform.AgentID = getEnv("PLATFORM_AGENT_ID", c.Platform.AgentID)
	c.Platform.PrivateKey = getEnv("PLATFORM_PRIVATE_KEY", c.Platform.PrivateKey)

	c.Identity.BaseURL = getEnv("IDENTITY_BASE_URL", c.Identity.BaseURL)
	c.CentralBank.BaseURL = getEnv("CENTRAL_BANK_BASE_URL", c.CentralBank.BaseURL)
	c.TaskBoard.BaseURL = getEnv("TASK_BOARD_BASE_URL", c.TaskBoard.BaseURL)
	c.Reputation.BaseURL = getEnv("REPUTATION_BASE_URL", c.Reputation.BaseURL)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	if v := getEnvInt("MAX_BODY_BYTES", 0); v > 0 {
		c.Limits.MaxBodyBytes = int64(v)
	}
	if v := getEnvInt("MAX_ASSET_BYTES", 0); v > 0 {
		c.Limits.MaxAssetBytes = int64(v)
	}
	if v := getEnvInt("MAX_ASSETS", 0); v > 0 {
		c.Limits.MaxAssets = v
	}
	c.Limits.StorageRoot = getEnv("STORAGE_ROOT", c.Limits.StorageRoot)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Interface == "" {
		c.Server.Interface = "0.0.0.0"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownSec == 0 {
		c.Server.ShutdownSec = 15
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/service.db"
	}
	for _, d := range []*DownstreamConfig{&c.Identity, &c.CentralBank, &c.TaskBoard, &c.Reputation} {
		if d.TimeoutSec == 0 {
			d.TimeoutSec = 5
		}
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits.MaxBodyBytes = 1 << 20 // 1 MiB, spec.md §6.2 default
	}
	if c.Limits.MaxAssetBytes == 0 {
		c.Limits.MaxAssetBytes = 25 << 20
	}
	if c.Limits.MaxAssets == 0 {
		c.Limits.MaxAssets = 10
	}
	if c.Limits.StorageRoot == "" {
		c.Limits.StorageRoot = "data/assets"
	}
	if c.Deadlines.MaxBiddingSec == 0 {
		c.Deadlines.MaxBiddingSec = 7 * 24 * 3600
	}
	if c.Deadlines.MaxExecutionSec == 0 {
		c.Deadlines.MaxExecutionSec = 30 * 24 * 3600
	}
	if c.Deadlines.MaxReviewSec == 0 {
		c.Deadlines.MaxReviewSec = 14 * 24 * 3600
	}
	if c.Court.RebuttalSec == 0 {
		c.Court.RebuttalSec = 3 * 24 * 3600
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// Addr renders the bind address for http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Interface, c.Server.Port)
}
