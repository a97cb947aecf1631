package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode       string `yaml:"mode"`        // SIM or REAL
	Symbol     string `yaml:"symbol"`      // e.g. ONDS
	DataSource string `yaml:"data_source"` // STATIC, YAHOO or KITE
	Broker     string `yaml:"broker"`      // FIRSTRADE or KITE (real mode)

	InitialCash float64 `yaml:"initial_cash"` // simulated mode bankroll
	TradeQty    float64 `yaml:"trade_qty"`    // shares per auto/manual order
	AllowShort  bool    `yaml:"allow_short"`

	ReplayDelayMs int `yaml:"replay_delay_ms"` // pacing between replayed bars
	PollSeconds   int `yaml:"poll_seconds"`    // account sync interval

	Signal struct {
		Deviation    float64 `yaml:"deviation"`     // band deviation, e.g. 0.01
		Lookback     int     `yaml:"lookback"`      // trend lookback k
		CooldownBars int     `yaml:"cooldown_bars"` // BUY debounce window
	} `yaml:"signal"`

	Order struct {
		Retries        int `yaml:"retries"`
		BackoffMs      int `yaml:"backoff_ms"`
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"order"`

	AutoTrade *bool `yaml:"auto_trade"` // default: on in SIM, off in REAL
	Tracing   *bool `yaml:"tracing"`    // span export to stdout, default on

	CredentialsFile string `yaml:"credentials_file"`
	MetricsAddr     string `yaml:"metrics_addr"` // empty disables /metrics

	Kite struct {
		APIKeyEnv      string `yaml:"api_key_env"`
		AccessTokenEnv string `yaml:"access_token_env"`
		Exchange       string `yaml:"exchange"`
	} `yaml:"kite"`
}

func (c *Config) Validate() error {
	if c.Mode != "SIM" && c.Mode != "REAL" {
		return fmt.Errorf("invalid mode '%s': must be 'SIM' or 'REAL'", c.Mode)
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if c.DataSource != "STATIC" && c.DataSource != "YAHOO" && c.DataSource != "KITE" {
		return fmt.Errorf("invalid data_source '%s': must be 'STATIC', 'YAHOO' or 'KITE'", c.DataSource)
	}
	if c.Mode == "REAL" && c.Broker != "FIRSTRADE" && c.Broker != "KITE" {
		return fmt.Errorf("invalid broker '%s': must be 'FIRSTRADE' or 'KITE' in REAL mode", c.Broker)
	}
	if c.TradeQty <= 0 {
		return fmt.Errorf("trade_qty must be positive, got %.2f", c.TradeQty)
	}
	if c.Signal.Deviation < 0 {
		return fmt.Errorf("signal.deviation must be >= 0, got %.4f", c.Signal.Deviation)
	}
	if c.Signal.Lookback < 1 {
		return fmt.Errorf("signal.lookback must be >= 1, got %d", c.Signal.Lookback)
	}
	if c.Mode == "SIM" && c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be positive in SIM mode, got %.2f", c.InitialCash)
	}
	return nil
}

// AutoTradeDefault resolves the auto-trade toggle: explicit config value if
// present, otherwise on in SIM and off in REAL for safety.
func (c *Config) AutoTradeDefault() bool {
	if c.AutoTrade != nil {
		return *c.AutoTrade
	}
	return c.Mode == "SIM"
}

// TracingEnabled resolves the tracing toggle, defaulting to on.
func (c *Config) TracingEnabled() bool {
	if c.Tracing != nil {
		return *c.Tracing
	}
	return true
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Mode == "" {
		c.Mode = "SIM"
	}
	if c.DataSource == "" {
		c.DataSource = "STATIC"
	}
	if c.InitialCash == 0 {
		c.InitialCash = 10000
	}
	if c.TradeQty == 0 {
		c.TradeQty = 1
	}
	if c.ReplayDelayMs == 0 {
		c.ReplayDelayMs = 300
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 5
	}
	if c.Signal.Deviation == 0 {
		c.Signal.Deviation = 0.01
	}
	if c.Signal.Lookback == 0 {
		c.Signal.Lookback = 3
	}
	if c.Signal.CooldownBars == 0 {
		c.Signal.CooldownBars = 5
	}
	if c.Order.Retries == 0 {
		c.Order.Retries = 3
	}
	if c.Order.BackoffMs == 0 {
		c.Order.BackoffMs = 500
	}
	if c.Order.TimeoutSeconds == 0 {
		c.Order.TimeoutSeconds = 10
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = "credentials.txt"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
