package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models truelens.yml.
type Config struct {
	Consensus  Consensus  `yaml:"consensus"`
	Reputation Reputation `yaml:"reputation"`
	Server     Server     `yaml:"server"`
	Auth       Auth       `yaml:"auth"`
	Relay      Relay      `yaml:"relay"`
	Sweeper    Sweeper    `yaml:"sweeper"`
}

type Consensus struct {
	VotingWindow    time.Duration   `yaml:"voting_window"`
	EarlyCloseStake int64           `yaml:"early_close_stake"`
	Supermajority   decimal.Decimal `yaml:"supermajority"`
	MinMargin       decimal.Decimal `yaml:"min_margin"`
	RewardPoolID    string          `yaml:"reward_pool_id"`
}

type Reputation struct {
	LevelThreshold int `yaml:"level_threshold"`
	InitialScore   int `yaml:"initial_score"`
	CorrectDelta   int `yaml:"correct_delta"`
	IncorrectDelta int `yaml:"incorrect_delta"`
	MinScore       int `yaml:"min_score"`
	MaxScore       int `yaml:"max_score"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type Auth struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	AllowLegacyHeader bool          `yaml:"allow_legacy_header"`
	// Operators may act for any participant and credit deposits.
	Operators []string `yaml:"operators"`
}

type Relay struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Webhooks  []Webhook     `yaml:"webhooks"`
	NATS      NATS          `yaml:"nats"`
}

type Webhook struct {
	ID      string   `yaml:"id"`
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Events  []string `yaml:"events"`
	Enabled bool     `yaml:"enabled"`
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Sweeper struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

var (
	half = decimal.NewFromFloat(0.5)
	one  = decimal.NewFromInt(1)
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	cc := c.Consensus
	if cc.VotingWindow <= 0 {
		return fmt.Errorf("config.consensus.voting_window must be positive")
	}
	if cc.EarlyCloseStake <= 0 {
		return fmt.Errorf("config.consensus.early_close_stake must be positive")
	}
	if cc.Supermajority.LessThanOrEqual(half) || cc.Supermajority.GreaterThan(one) {
		return fmt.Errorf("config.consensus.supermajority must be in (0.5, 1]")
	}
	if cc.MinMargin.IsNegative() || cc.MinMargin.GreaterThanOrEqual(half) {
		return fmt.Errorf("config.consensus.min_margin must be in [0, 0.5)")
	}
	if strings.TrimSpace(cc.RewardPoolID) == "" {
		return fmt.Errorf("config.consensus.reward_pool_id is required")
	}
	r := c.Reputation
	if r.LevelThreshold <= 0 {
		return fmt.Errorf("config.reputation.level_threshold must be positive")
	}
	if r.MinScore < 0 || r.MaxScore < r.MinScore {
		return fmt.Errorf("config.reputation score bounds are invalid")
	}
	if r.InitialScore < r.MinScore || r.InitialScore > r.MaxScore {
		return fmt.Errorf("config.reputation.initial_score must be within [min_score, max_score]")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, wh := range c.Relay.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("config.relay.webhooks[%d].url is required", i)
		}
	}
	if c.Relay.NATS.URL != "" && c.Relay.NATS.Subject == "" {
		return fmt.Errorf("config.relay.nats.subject is required when nats.url is set")
	}
	if c.Sweeper.Concurrency <= 0 {
		return fmt.Errorf("config.sweeper.concurrency must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "truelens.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `consensus:
  voting_window: 24h
  early_close_stake: 1000
  supermajority: "0.90"
  min_margin: "0.05"
  reward_pool_id: reward-pool

reputation:
  level_threshold: 10
  initial_score: 100
  correct_delta: 20
  incorrect_delta: 30
  min_score: 1
  max_score: 1000

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  token_ttl: 24h
  allow_legacy_header: false
  operators: []

relay:
  interval: 2s
  batch_size: 100
  webhooks: []
  nats:
    url: ""
    subject: truelens.events

sweeper:
  interval: 30s
  concurrency: 4
`
