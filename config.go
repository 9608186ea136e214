package x402pay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leventilo/boltzpay-sub000/money"
)

// Timeouts collects every deadline the engine applies to a suspension
// point. Each HTTP call or wallet operation below gets its own context
// deadline; a deadline firing is reported as the kind-level error for that
// operation, naming the operation and elapsed seconds.
type Timeouts struct {
	Detection    time.Duration
	Quote        time.Duration
	DeliveryAttempt time.Duration
	Passthrough  time.Duration
	LightningPay time.Duration
	BalanceQuery time.Duration
	WalletConnect time.Duration
}

// DefaultTimeouts matches the deadlines named in the concurrency model.
var DefaultTimeouts = Timeouts{
	Detection:       10 * time.Second,
	Quote:           15 * time.Second,
	DeliveryAttempt: 30 * time.Second,
	Passthrough:     30 * time.Second,
	LightningPay:    60 * time.Second,
	BalanceQuery:    15 * time.Second,
	WalletConnect:   15 * time.Second,
}

// BudgetLimitsConfig is the optional spend-ceiling configuration. Absent
// (nil) limits mean unlimited for that period.
type BudgetLimitsConfig struct {
	Daily           *money.Money
	Monthly         *money.Money
	PerTransaction  *money.Money
	WarningThreshold float64 // fraction in [0,1], default 0.8
	SatToUSDRate    float64 // default 0.001
}

// PersistenceConfig toggles and locates on-disk budget/history state.
type PersistenceConfig struct {
	Enabled           bool
	Directory         string // location of the state files; there is no default, and an empty value leaves persistence off
	HistoryMaxRecords int    // default 500
}

// Config is the fully validated engine configuration. Build one with
// NewConfig plus Option functions; do not construct it as a literal.
type Config struct {
	Network          string // target chain name for balance queries; default "base"
	PreferredChains  []Namespace
	Budget           BudgetLimitsConfig
	Persistence      PersistenceConfig
	Logger           *slog.Logger
	LogLevel         slog.Level
}

// Option configures a Config during construction.
type Option func(*Config) error

// NewConfig applies opts over sane defaults and validates the result,
// returning a bad-config Error with every field issue joined together if
// validation fails.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		Network: "base",
		Budget: BudgetLimitsConfig{
			WarningThreshold: 0.8,
			SatToUSDRate:     0.001,
		},
		Persistence: PersistenceConfig{
			HistoryMaxRecords: 500,
		},
		Logger:   slog.Default(),
		LogLevel: slog.LevelInfo,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, NewError(KindBadConfig, "invalid option", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, NewError(KindBadConfig, "invalid configuration", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var issues []error
	if c.Network != "base" && c.Network != "base-sepolia" {
		issues = append(issues, fmt.Errorf("network: unsupported value %q", c.Network))
	}
	for _, ns := range c.PreferredChains {
		if ns != NamespaceEVM && ns != NamespaceSVM {
			issues = append(issues, fmt.Errorf("preferredChains: unsupported namespace %q", ns))
		}
	}
	if c.Budget.WarningThreshold < 0 || c.Budget.WarningThreshold > 1 {
		issues = append(issues, fmt.Errorf("budget.warningThreshold: must be in [0,1], got %v", c.Budget.WarningThreshold))
	}
	if c.Budget.SatToUSDRate <= 0 {
		issues = append(issues, fmt.Errorf("budget.satToUsdRate: must be positive, got %v", c.Budget.SatToUSDRate))
	}
	if c.Persistence.HistoryMaxRecords <= 0 {
		issues = append(issues, fmt.Errorf("persistence.historyMaxRecords: must be positive, got %d", c.Persistence.HistoryMaxRecords))
	}
	if len(issues) > 0 {
		return errors.Join(issues...)
	}
	return nil
}

// WithNetwork sets the target chain name used for balance queries.
func WithNetwork(network string) Option {
	return func(c *Config) error {
		c.Network = network
		return nil
	}
}

// WithPreferredChains sets the chain-selection preference order.
func WithPreferredChains(chains ...Namespace) Option {
	return func(c *Config) error {
		c.PreferredChains = append([]Namespace(nil), chains...)
		return nil
	}
}

// WithDailyLimit sets the daily USD spend ceiling from a dollar string.
func WithDailyLimit(dollars string) Option {
	return func(c *Config) error {
		m, err := money.FromDollars(dollars)
		if err != nil {
			return fmt.Errorf("budget.daily: %w", err)
		}
		c.Budget.Daily = &m
		return nil
	}
}

// WithMonthlyLimit sets the monthly USD spend ceiling from a dollar string.
func WithMonthlyLimit(dollars string) Option {
	return func(c *Config) error {
		m, err := money.FromDollars(dollars)
		if err != nil {
			return fmt.Errorf("budget.monthly: %w", err)
		}
		c.Budget.Monthly = &m
		return nil
	}
}

// WithPerTransactionLimit sets the per-transaction USD ceiling from a dollar string.
func WithPerTransactionLimit(dollars string) Option {
	return func(c *Config) error {
		m, err := money.FromDollars(dollars)
		if err != nil {
			return fmt.Errorf("budget.perTransaction: %w", err)
		}
		c.Budget.PerTransaction = &m
		return nil
	}
}

// WithWarningThreshold sets the spend-warning fraction, in [0,1].
func WithWarningThreshold(fraction float64) Option {
	return func(c *Config) error {
		c.Budget.WarningThreshold = fraction
		return nil
	}
}

// WithSatToUSDRate sets the SATS-to-USD conversion rate used for budget accounting.
func WithSatToUSDRate(rate float64) Option {
	return func(c *Config) error {
		c.Budget.SatToUSDRate = rate
		return nil
	}
}

// WithPersistence enables on-disk budget/history persistence under directory.
func WithPersistence(directory string, historyMaxRecords int) Option {
	return func(c *Config) error {
		c.Persistence.Enabled = true
		c.Persistence.Directory = directory
		if historyMaxRecords > 0 {
			c.Persistence.HistoryMaxRecords = historyMaxRecords
		}
		return nil
	}
}

// WithLogger sets the structured logger used for ambient diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithLogLevel records a logging threshold in Config.LogLevel; "silent"
// maps to a level above Error. The level is stored only: it is not applied
// to Config.Logger, whose output follows its own handler.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		switch level {
		case "debug":
			c.LogLevel = slog.LevelDebug
		case "info":
			c.LogLevel = slog.LevelInfo
		case "warn":
			c.LogLevel = slog.LevelWarn
		case "error":
			c.LogLevel = slog.LevelError
		case "silent":
			c.LogLevel = slog.LevelError + 100
		default:
			return fmt.Errorf("logLevel: unsupported value %q", level)
		}
		return nil
	}
}
