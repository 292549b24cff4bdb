// Package config loads the TOML settings file and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/memoflow/distill/pkg/guardrail"
)

type Config struct {
	General   GeneralConfig   `toml:"general"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Remote    RemoteConfig    `toml:"remote"`
	Model     ModelConfig     `toml:"model"`
	Guardrail GuardrailConfig `toml:"guardrail"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
}

type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
	// DeviceID is the hardware identifier used for catalog gating,
	// e.g. "iPhone16,1".
	DeviceID string `toml:"device_id"`
	Language string `toml:"language"`
}

type AnalysisConfig struct {
	// StrictLocal pins every analysis to the device; no cloud fallback.
	StrictLocal    bool          `toml:"strict_local"`
	PreferredModel string        `toml:"preferred_model"`
	CacheTTL       string        `toml:"cache_ttl"`
	CacheMaxItems  int           `toml:"cache_max_items"`
	CacheTTLD      time.Duration `toml:"-"`
}

type RemoteConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type ModelConfig struct {
	StorageDir string `toml:"storage_dir"`
	HubBaseURL string `toml:"hub_base_url"`
	HubToken   string `toml:"hub_token"`
}

type GuardrailConfig struct {
	MemoryWarnMB      int           `toml:"memory_warn_mb"`
	MemoryCriticalMB  int           `toml:"memory_critical_mb"`
	OperationTimeout  string        `toml:"operation_timeout"`
	CheckInterval     string        `toml:"check_interval"`
	OperationTimeoutD time.Duration `toml:"-"`
	CheckIntervalD    time.Duration `toml:"-"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".distill")
	defaults := guardrail.DefaultThresholds()

	return &Config{
		General: GeneralConfig{
			DataDir:  dataDir,
			DeviceID: "",
			Language: "en",
		},
		Analysis: AnalysisConfig{
			StrictLocal:    false,
			PreferredModel: "",
			CacheTTL:       "24h",
			CacheMaxItems:  256,
		},
		Remote: RemoteConfig{
			BaseURL: "https://api.memoflow.app",
			APIKey:  "",
		},
		Model: ModelConfig{
			StorageDir: filepath.Join(dataDir, "models"),
			HubBaseURL: "https://huggingface.co",
			HubToken:   "",
		},
		Guardrail: GuardrailConfig{
			MemoryWarnMB:     int(defaults.MemoryWarn / (1024 * 1024)),
			MemoryCriticalMB: int(defaults.MemoryCritical / (1024 * 1024)),
			OperationTimeout: defaults.OperationTimeout.String(),
			CheckInterval:    defaults.CheckInterval.String(),
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(dataDir, "envelopes.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   "",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	if c.Analysis.CacheTTLD, err = time.ParseDuration(c.Analysis.CacheTTL); err != nil {
		return fmt.Errorf("parse analysis.cache_ttl: %w", err)
	}

	if c.Guardrail.OperationTimeoutD, err = time.ParseDuration(c.Guardrail.OperationTimeout); err != nil {
		return fmt.Errorf("parse guardrail.operation_timeout: %w", err)
	}

	if c.Guardrail.CheckIntervalD, err = time.ParseDuration(c.Guardrail.CheckInterval); err != nil {
		return fmt.Errorf("parse guardrail.check_interval: %w", err)
	}

	c.General.DataDir, err = expandPath(c.General.DataDir)
	if err != nil {
		return fmt.Errorf("expand general.data_dir: %w", err)
	}

	c.Model.StorageDir, err = expandPath(c.Model.StorageDir)
	if err != nil {
		return fmt.Errorf("expand model.storage_dir: %w", err)
	}

	c.Storage.DBPath, err = expandPath(c.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("expand storage.db_path: %w", err)
	}

	c.Logging.File, err = expandPath(c.Logging.File)
	if err != nil {
		return fmt.Errorf("expand logging.file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Guardrail.MemoryWarnMB <= 0 {
		return fmt.Errorf("memory_warn_mb must be positive, got %d", c.Guardrail.MemoryWarnMB)
	}

	if c.Guardrail.MemoryCriticalMB <= c.Guardrail.MemoryWarnMB {
		return fmt.Errorf("memory_critical_mb (%d) must exceed memory_warn_mb (%d)",
			c.Guardrail.MemoryCriticalMB, c.Guardrail.MemoryWarnMB)
	}

	if c.Analysis.CacheMaxItems < 0 {
		return fmt.Errorf("cache_max_items cannot be negative, got %d", c.Analysis.CacheMaxItems)
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url cannot be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Thresholds converts the guardrail section into monitor thresholds.
func (c *Config) Thresholds() guardrail.Thresholds {
	return guardrail.Thresholds{
		MemoryWarn:       uint64(c.Guardrail.MemoryWarnMB) * 1024 * 1024,
		MemoryCritical:   uint64(c.Guardrail.MemoryCriticalMB) * 1024 * 1024,
		OperationTimeout: c.Guardrail.OperationTimeoutD,
		CheckInterval:    c.Guardrail.CheckIntervalD,
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISTILL_DATA_DIR"); v != "" {
		cfg.General.DataDir = v
	}
	if v := os.Getenv("DISTILL_DEVICE_ID"); v != "" {
		cfg.General.DeviceID = v
	}
	if v := os.Getenv("DISTILL_LANGUAGE"); v != "" {
		cfg.General.Language = v
	}
	if v := os.Getenv("DISTILL_API_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("DISTILL_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("DISTILL_MODEL_STORAGE_DIR"); v != "" {
		cfg.Model.StorageDir = v
	}
	if v := os.Getenv("DISTILL_HUB_BASE_URL"); v != "" {
		cfg.Model.HubBaseURL = v
	}
	if v := os.Getenv("DISTILL_HUB_TOKEN"); v != "" {
		cfg.Model.HubToken = v
	}
	if v := os.Getenv("DISTILL_STRICT_LOCAL"); v != "" {
		cfg.Analysis.StrictLocal = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("DISTILL_PREFERRED_MODEL"); v != "" {
		cfg.Analysis.PreferredModel = v
	}
	if v := os.Getenv("DISTILL_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("DISTILL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
