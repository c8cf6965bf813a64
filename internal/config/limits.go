package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskLimits holds per-deployment risk overrides loaded from a YAML file.
// Zero values mean "use the built-in default".
type RiskLimits struct {
	DailyLossPercent     float64 `yaml:"daily_loss_percent"`
	MaxPositionHeat      float64 `yaml:"max_position_heat"`
	MaxPortfolioHeat     float64 `yaml:"max_portfolio_heat"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	MaxOrdersPerDay      int     `yaml:"max_orders_per_day"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`

	// Stop-loss percent overrides keyed by instrument type name,
	// e.g. INDEX_OPTION, STOCK_FUTURE.
	DefaultStopLoss map[string]float64 `yaml:"default_stop_loss"`
	MaxStopLoss     map[string]float64 `yaml:"max_stop_loss"`
}

// LoadRiskLimits reads limit overrides from path. A missing path returns
// empty limits, not an error, so deployments without a file just use defaults.
func LoadRiskLimits(path string) (*RiskLimits, error) {
	limits := &RiskLimits{}
	if path == "" {
		return limits, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return limits, nil
		}
		return nil, fmt.Errorf("failed to read risk limits file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, limits); err != nil {
		return nil, fmt.Errorf("failed to parse risk limits file %s: %w", path, err)
	}

	return limits, nil
}

// Apply overlays non-zero limits onto cfg.
func (l *RiskLimits) Apply(cfg *Config) {
	if l.DailyLossPercent > 0 {
		cfg.Risk.DailyLossPercent = l.DailyLossPercent
	}
	if l.MaxPositionHeat > 0 {
		cfg.Risk.MaxPositionHeat = l.MaxPositionHeat
	}
	if l.MaxPortfolioHeat > 0 {
		cfg.Risk.MaxPortfolioHeat = l.MaxPortfolioHeat
	}
	if l.MaxTradesPerDay > 0 {
		cfg.Rules.MaxTradesPerDay = l.MaxTradesPerDay
	}
	if l.MaxOrdersPerDay > 0 {
		cfg.Orders.MaxOrdersPerDay = l.MaxOrdersPerDay
	}
	if l.MaxConsecutiveLosses > 0 {
		cfg.Rules.MaxConsecutiveLosses = l.MaxConsecutiveLosses
	}
	if l.DailyLossLimit > 0 {
		cfg.Rules.DailyLossLimit = l.DailyLossLimit
	}
	if len(l.DefaultStopLoss) > 0 {
		cfg.Risk.DefaultStopLoss = l.DefaultStopLoss
	}
	if len(l.MaxStopLoss) > 0 {
		cfg.Risk.MaxStopLoss = l.MaxStopLoss
	}
}
