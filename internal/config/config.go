package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	"torii_shield/internal/dataType"
	"torii_shield/internal/utils"

	"github.com/alecthomas/units"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type MainConfig struct {
	Port                           string             `yaml:"port" validate:"required,numeric"`
	WebPath                        string             `yaml:"web_path" validate:"required,startswith=/"`
	RulePath                       string             `yaml:"rule_path" validate:"required"`
	LogPath                        string             `yaml:"log_path" validate:"required"`
	NodeName                       string             `yaml:"node_name"`
	ConnectingHostHeaders          []string           `yaml:"connecting_host_headers"`
	ConnectingIPHeaders            []string           `yaml:"connecting_ip_headers"`
	ConnectingURIHeaders           []string           `yaml:"connecting_uri_headers"`
	ConnectingCaptchaStatusHeaders []string           `yaml:"connecting_captcha_status_headers"`
	Workers                        int                `yaml:"workers" validate:"gte=1"`
	MaxBodySize                    int64              `yaml:"max_body_size" validate:"gte=0"`
	SharedMemorySize               string             `yaml:"shared_memory_size" validate:"required"`
	HTTPStatus                     int                `yaml:"http_status" validate:"gte=400,lte=599"`
	HTTPStatusCC                   int                `yaml:"http_status_cc" validate:"gte=400,lte=599"`
	VerificationSecret             string             `yaml:"verification_secret"`
	VerificationValidTime          time.Duration      `yaml:"verification_valid_time" validate:"gte=0"`
	Cache                          dataType.CacheRule `yaml:"cache"`
	CC                             dataType.CCRule    `yaml:"cc"`

	// SharedMemoryBytes is SharedMemorySize in bytes
	SharedMemoryBytes int64 `yaml:"-"`
}

func defaultMainConfig() MainConfig {
	return MainConfig{
		Port:                           "25555",
		WebPath:                        "/torii",
		RulePath:                       "/www/torii_shield/config/rules",
		LogPath:                        "/www/torii_shield/log/",
		NodeName:                       "Server Torii",
		ConnectingHostHeaders:          []string{"Torii-Real-Host"},
		ConnectingIPHeaders:            []string{"Torii-Real-IP"},
		ConnectingURIHeaders:           []string{"Torii-Original-URI"},
		ConnectingCaptchaStatusHeaders: []string{"Torii-Captcha-Status"},
		Workers:                        4,
		MaxBodySize:                    64 * 1024,
		SharedMemorySize:               "16MB",
		HTTPStatus:                     403,
		HTTPStatusCC:                   503,
		VerificationValidTime:          time.Minute,
		Cache: dataType.CacheRule{
			Enabled:       true,
			Capacity:      50,
			TTL:           time.Hour,
			SweepInterval: time.Minute,
			MaxKeySize:    2048,
		},
		CC: dataType.CCRule{
			Enabled:            true,
			Mode:               "block",
			Rate:               "1000/60s",
			BanDuration:        time.Hour,
			ClearPeriod:        2 * time.Hour,
			StatisticsCapacity: 10000,
			Cycle:              time.Minute,
			BlockDuration:      time.Hour,
			MaxBadVerification: 3,
		},
	}
}

// LoadMainConfig Read the configuration file and return the configuration object
func LoadMainConfig(basePath string) (*MainConfig, error) {
	defaultCfg := defaultMainConfig()

	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "torii.yml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return &defaultCfg, err
	}
	return ParseMainConfig(data)
}

// ParseMainConfig decodes a torii.yml document over the defaults, then
// validates it and derives the computed fields.
func ParseMainConfig(data []byte) (*MainConfig, error) {
	cfg := defaultMainConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse main config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (cfg *MainConfig) finalize() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid main config: %w", err)
	}

	size, err := units.ParseStrictBytes(cfg.SharedMemorySize)
	if err != nil {
		return fmt.Errorf("invalid shared_memory_size %q: %w", cfg.SharedMemorySize, err)
	}
	cfg.SharedMemoryBytes = size

	if cfg.CC.Enabled {
		limit, window, err := utils.ParseRate(cfg.CC.Rate)
		if err != nil {
			return fmt.Errorf("invalid cc.rate: %w", err)
		}
		cfg.CC.InitCount = uint64(limit)
		cfg.CC.RefillPeriod = window
		if cfg.CC.ClearPeriod <= 0 || cfg.CC.Cycle <= 0 {
			return fmt.Errorf("cc.clear_period and cc.cycle must be positive")
		}
		if cfg.CC.Mode == "captcha" && cfg.VerificationSecret == "" {
			return fmt.Errorf("cc.mode captcha needs verification_secret to accept verification reports")
		}
	}
	if cfg.Cache.Enabled && cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive when the cache is enabled")
	}
	return nil
}
