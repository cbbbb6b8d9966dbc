// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"fieldroute/internal/model"
)

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: memory, postgres, or sqlite.
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	// Mode: dev (token is contractor:role), hmac (HS256), jwks (RS256).
	Mode            string `json:"mode"`
	HMACSecret      string `json:"hmacSecret"`
	JWKSURL         string `json:"jwksUrl"`
	ContractorClaim string `json:"contractorClaim"`
	RoleClaim       string `json:"roleClaim"`
}

// StaticEdge is one travel-time entry for the static distance provider.
type StaticEdge struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Minutes int    `json:"minutes"`
}

type DistanceConfig struct {
	// Provider: http or static.
	Provider              string       `json:"provider"`
	URL                   string       `json:"url"`
	APIKey                string       `json:"apiKey"`
	ChunkSize             int          `json:"chunkSize"`
	RequestTimeoutSeconds int          `json:"requestTimeoutSeconds"`
	RequestsPerSecond     float64      `json:"requestsPerSecond"`
	Burst                 int          `json:"burst"`
	Static                []StaticEdge `json:"static"`
}

type OptimizeConfig struct {
	WorkingDayStart          string   `json:"workingDayStart"` // HH:MM
	WorkingDayEnd            string   `json:"workingDayEnd"`   // HH:MM
	LookaheadDays            int      `json:"lookaheadDays"`
	CrossDayThresholdMinutes int      `json:"crossDayThresholdMinutes"`
	SlotSwapThresholdMinutes int      `json:"slotSwapThresholdMinutes"`
	SlotIncrementMinutes     int      `json:"slotIncrementMinutes"`
	TwoOptPasses             int      `json:"twoOptPasses"`
	EligibleSubscriptions    []string `json:"eligibleSubscriptions"`
}

// DayStartMinutes returns the working-day start in minutes since midnight.
// Validate guarantees the clock parses.
func (o OptimizeConfig) DayStartMinutes() int {
	m, _ := model.ParseClock(o.WorkingDayStart)
	return m
}

// DayEndMinutes returns the working-day end in minutes since midnight.
func (o OptimizeConfig) DayEndMinutes() int {
	m, _ := model.ParseClock(o.WorkingDayEnd)
	return m
}

// MidpointMinutes is the morning/afternoon boundary.
func (o OptimizeConfig) MidpointMinutes() int {
	return model.Midpoint(o.DayStartMinutes(), o.DayEndMinutes())
}

// SubscriptionEligible reports whether tier is on the allow-list.
func (o OptimizeConfig) SubscriptionEligible(tier string) bool {
	for _, t := range o.EligibleSubscriptions {
		if strings.EqualFold(t, tier) {
			return true
		}
	}
	return false
}

type WebhookConfig struct {
	MaxAttempts    int `json:"maxAttempts"`
	TimeoutSeconds int `json:"timeoutSeconds"`
	BatchSize      int `json:"batchSize"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Auth     AuthConfig     `json:"auth"`
	Distance DistanceConfig `json:"distance"`
	Optimize OptimizeConfig `json:"optimize"`
	Webhooks WebhookConfig  `json:"webhooks"`
	Logging  LoggingConfig  `json:"logging"`
}

// Load reads the config file at path (yaml or json), applies FRD_*
// environment overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, e.g. FRD_HTTP__ADDR=:9090
	if err := k.Load(env.Provider("FRD_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "frd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "dev"
	}
	if c.Auth.ContractorClaim == "" {
		c.Auth.ContractorClaim = "contractor"
	}
	if c.Auth.RoleClaim == "" {
		c.Auth.RoleClaim = "role"
	}
	if c.Distance.Provider == "" {
		c.Distance.Provider = "static"
	}
	if c.Distance.ChunkSize == 0 {
		c.Distance.ChunkSize = 10
	}
	if c.Distance.RequestTimeoutSeconds == 0 {
		c.Distance.RequestTimeoutSeconds = 10
	}
	if c.Distance.RequestsPerSecond == 0 {
		c.Distance.RequestsPerSecond = 5
	}
	if c.Distance.Burst == 0 {
		c.Distance.Burst = 2
	}
	if c.Optimize.WorkingDayStart == "" {
		c.Optimize.WorkingDayStart = "08:00"
	}
	if c.Optimize.WorkingDayEnd == "" {
		c.Optimize.WorkingDayEnd = "18:00"
	}
	if c.Optimize.LookaheadDays == 0 {
		c.Optimize.LookaheadDays = 3
	}
	if c.Optimize.CrossDayThresholdMinutes == 0 {
		c.Optimize.CrossDayThresholdMinutes = 5
	}
	if c.Optimize.SlotSwapThresholdMinutes == 0 {
		c.Optimize.SlotSwapThresholdMinutes = 5
	}
	if c.Optimize.SlotIncrementMinutes == 0 {
		c.Optimize.SlotIncrementMinutes = 15
	}
	if c.Optimize.TwoOptPasses == 0 {
		c.Optimize.TwoOptPasses = 2
	}
	if len(c.Optimize.EligibleSubscriptions) == 0 {
		c.Optimize.EligibleSubscriptions = []string{"pro", "elite"}
	}
	if c.Webhooks.MaxAttempts == 0 {
		c.Webhooks.MaxAttempts = 10
	}
	if c.Webhooks.TimeoutSeconds == 0 {
		c.Webhooks.TimeoutSeconds = 5
	}
	if c.Webhooks.BatchSize == 0 {
		c.Webhooks.BatchSize = 50
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn required for driver %s", c.Database.Driver)
	}
	switch c.Auth.Mode {
	case "dev", "hmac", "jwks":
	default:
		return fmt.Errorf("unknown auth mode: %s", c.Auth.Mode)
	}
	if c.Auth.Mode == "hmac" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.hmacSecret required for hmac mode")
	}
	if c.Auth.Mode == "jwks" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth.jwksUrl required for jwks mode")
	}
	switch c.Distance.Provider {
	case "http", "static":
	default:
		return fmt.Errorf("unknown distance provider: %s", c.Distance.Provider)
	}
	if c.Distance.Provider == "http" && c.Distance.URL == "" {
		return fmt.Errorf("distance.url required for http provider")
	}
	if c.Distance.ChunkSize < 1 {
		return fmt.Errorf("distance.chunkSize must be >= 1")
	}
	start, err := model.ParseClock(c.Optimize.WorkingDayStart)
	if err != nil {
		return fmt.Errorf("optimize.workingDayStart: %w", err)
	}
	end, err := model.ParseClock(c.Optimize.WorkingDayEnd)
	if err != nil {
		return fmt.Errorf("optimize.workingDayEnd: %w", err)
	}
	if end <= start {
		return fmt.Errorf("optimize.workingDayEnd must be after workingDayStart")
	}
	if c.Optimize.LookaheadDays < 1 || c.Optimize.LookaheadDays > 14 {
		return fmt.Errorf("optimize.lookaheadDays must be in 1..14")
	}
	if c.Optimize.SlotIncrementMinutes < 1 {
		return fmt.Errorf("optimize.slotIncrementMinutes must be >= 1")
	}
	if c.Optimize.CrossDayThresholdMinutes < 0 || c.Optimize.SlotSwapThresholdMinutes < 0 {
		return fmt.Errorf("optimize thresholds must be >= 0")
	}
	return nil
}
