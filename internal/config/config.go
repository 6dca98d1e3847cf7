package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Thresholds define the confidence tiers consumed by the execution gateway.
type Thresholds struct {
	Minimum      float64 `yaml:"minimum" default:"0.55" validate:"gte=0,lte=1"`
	Conservative float64 `yaml:"conservative" default:"0.65" validate:"gte=0,lte=1"`
	Aggressive   float64 `yaml:"aggressive" default:"0.75" validate:"gte=0,lte=1"`
	Maximum      float64 `yaml:"maximum" default:"0.90" validate:"gte=0,lte=1"`
}

// Sizing bounds the gateway's position-size computation.
type Sizing struct {
	BaseWeight         float64 `yaml:"base_weight" default:"0.05" validate:"gt=0,lte=1"`
	MaxWeight          float64 `yaml:"max_weight" default:"0.20" validate:"gt=0,lte=1"`
	MinWeight          float64 `yaml:"min_weight" default:"0.01" validate:"gte=0,lte=1"`
	ConfidenceExponent float64 `yaml:"confidence_exponent" default:"1.5" validate:"gt=0"`
	MinOrderValueUSD   float64 `yaml:"min_order_value_usd" default:"100"`
	MaxOrderValueUSD   float64 `yaml:"max_order_value_usd" default:"50000"`
	BuyingPowerBuffer  float64 `yaml:"buying_power_buffer" default:"0.05" validate:"gte=0,lt=1"`
}

// Risk holds the portfolio-level ceilings enforced by the risk validator.
type Risk struct {
	MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct" default:"0.05" validate:"gt=0,lt=1"`
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct" default:"0.15" validate:"gt=0,lt=1"`
	MaxRiskPerTrade    float64 `yaml:"max_risk_per_trade" default:"0.02" validate:"gt=0,lt=1"`
	MaxPortfolioRisk   float64 `yaml:"max_portfolio_risk" default:"0.15" validate:"gt=0,lt=1"`
	MinRewardRisk      float64 `yaml:"min_reward_risk" default:"1.5" validate:"gte=1"`
	KellyCap           float64 `yaml:"kelly_cap" default:"0.25" validate:"gt=0,lte=1"`
	HighVolatility     float64 `yaml:"high_volatility" default:"0.40" validate:"gt=0"`
	LowConfidence      float64 `yaml:"low_confidence" default:"0.60" validate:"gte=0,lte=1"`
}

// Execution holds the gateway's rate and liquidity rules.
type Execution struct {
	MaxDailyTrades        int           `yaml:"max_daily_trades" default:"10" validate:"gt=0"`
	MaxOpenPositions      int           `yaml:"max_open_positions" default:"5" validate:"gt=0"`
	CooldownMinutes       int           `yaml:"cooldown_minutes" default:"5" validate:"gte=0"`
	MarketHoursOnly       bool          `yaml:"market_hours_only" default:"true"`
	WeekendSymbols        []string      `yaml:"weekend_symbols"`
	RoundTheClockSymbols  []string      `yaml:"round_the_clock_symbols"`
	MinAvgVolume          float64       `yaml:"min_avg_volume" default:"10000"`
	MaxSpreadPct          float64       `yaml:"max_spread_pct" default:"0.005" validate:"gt=0"`
	RoundTheClockSpreadPct float64      `yaml:"round_the_clock_spread_pct" default:"0.01" validate:"gt=0"`
	TradeHistoryCap       int           `yaml:"trade_history_cap" default:"500" validate:"gt=0"`
	OrderTimeout          time.Duration `yaml:"order_timeout" default:"10s"`
}

// Learning configures the Q-learning feedback loop.
type Learning struct {
	Alpha             float64 `yaml:"alpha" default:"0.1" validate:"gt=0,lte=1"`
	Gamma             float64 `yaml:"gamma" default:"0.95" validate:"gte=0,lte=1"`
	Epsilon           float64 `yaml:"epsilon" default:"0.3" validate:"gte=0,lte=1"`
	EpsilonDecay      float64 `yaml:"epsilon_decay" default:"0.995" validate:"gt=0,lte=1"`
	EpsilonMin        float64 `yaml:"epsilon_min" default:"0.05" validate:"gte=0,lte=1"`
	EpisodeHistoryCap int     `yaml:"episode_history_cap" default:"100" validate:"gt=0"`
	OutcomeHistoryCap int     `yaml:"outcome_history_cap" default:"1000" validate:"gt=0"`
}

// Broker points at the brokerage gateway.
type Broker struct {
	BaseURL       string        `yaml:"base_url" default:"http://localhost:8091" validate:"required,url"`
	StreamURL     string        `yaml:"stream_url" default:"ws://localhost:8091/stream"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
	RatePerSecond float64       `yaml:"rate_per_second" default:"5" validate:"gt=0"`
	RateBurst     int           `yaml:"rate_burst" default:"10" validate:"gt=0"`
}

// Outcome configures the trade-outcome persistence collaborators.
type Outcome struct {
	JournalPath string   `yaml:"journal_path" default:"data/outcomes.jsonl"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic  string   `yaml:"kafka_topic" default:"trade-outcomes"`
}

// Sentiment configures the sentiment collaborator cache.
type Sentiment struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl" default:"5m"`
}

// Scheduler holds the periodic task intervals.
type Scheduler struct {
	DecisionInterval time.Duration `yaml:"decision_interval" default:"1m"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" default:"30s"`
	RiskInterval     time.Duration `yaml:"risk_interval" default:"1m"`
	LearningInterval time.Duration `yaml:"learning_interval" default:"5m"`
}

// Logging configures the observ package.
type Logging struct {
	Level   string `yaml:"level" default:"info"`
	Console bool   `yaml:"console" default:"false"`
}

type Root struct {
	Symbols       []string   `yaml:"symbols" validate:"min=1"`
	BarWindow     int        `yaml:"bar_window" default:"200" validate:"gte=30"`
	CapitalBase   float64    `yaml:"capital_base" default:"100000" validate:"gt=0"`
	Thresholds    Thresholds `yaml:"thresholds"`
	Sizing        Sizing     `yaml:"sizing"`
	Risk          Risk       `yaml:"risk"`
	Execution     Execution  `yaml:"execution"`
	Learning      Learning   `yaml:"learning"`
	Broker        Broker     `yaml:"broker"`
	Outcome       Outcome    `yaml:"outcome"`
	Sentiment     Sentiment  `yaml:"sentiment"`
	Scheduler     Scheduler  `yaml:"scheduler"`
	Logging       Logging    `yaml:"logging"`
	OpsListenAddr string     `yaml:"ops_listen_addr" default:":8080"`
}

// Load reads, defaults, and validates the engine configuration.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return c, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks field constraints plus the cross-field rules the tag
// language can't express.
func (c *Root) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Sizing.MinWeight > c.Sizing.MaxWeight {
		return fmt.Errorf("validate config: sizing.min_weight %.3f exceeds max_weight %.3f",
			c.Sizing.MinWeight, c.Sizing.MaxWeight)
	}
	if c.Thresholds.Minimum > c.Thresholds.Conservative ||
		c.Thresholds.Conservative > c.Thresholds.Aggressive ||
		c.Thresholds.Aggressive > c.Thresholds.Maximum {
		return fmt.Errorf("validate config: confidence thresholds must be ordered minimum<=conservative<=aggressive<=maximum")
	}
	if c.Learning.EpsilonMin > c.Learning.Epsilon {
		return fmt.Errorf("validate config: learning.epsilon_min %.3f exceeds epsilon %.3f",
			c.Learning.EpsilonMin, c.Learning.Epsilon)
	}
	return nil
}
