package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "development", cfg.Environment)
	assert.InDelta(t, 100000.0, cfg.Capital.Initial, 1e-9)
	assert.InDelta(t, 2.0, cfg.Risk.DailyLossPercent, 1e-9)
	assert.InDelta(t, 6.0, cfg.Risk.MaxPortfolioHeat, 1e-9)
	assert.Equal(t, 5, cfg.Rules.MaxTradesPerDay)
	assert.Equal(t, 60*time.Minute, cfg.Rules.RevengeCooldown)
	assert.Equal(t, 20, cfg.Orders.MaxOrdersPerDay)
	assert.Equal(t, 8082, cfg.Orders.APIPort)
	assert.Equal(t, 8080, cfg.Monitoring.PrometheusPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INITIAL_CAPITAL", "250000")
	t.Setenv("DAILY_LOSS_PERCENT", "1.5")
	t.Setenv("MAX_TRADES_PER_DAY", "3")
	t.Setenv("REVENGE_COOLDOWN", "90m")

	cfg := Load()
	assert.InDelta(t, 250000.0, cfg.Capital.Initial, 1e-9)
	assert.InDelta(t, 1.5, cfg.Risk.DailyLossPercent, 1e-9)
	assert.Equal(t, 3, cfg.Rules.MaxTradesPerDay)
	assert.Equal(t, 90*time.Minute, cfg.Rules.RevengeCooldown)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("INITIAL_CAPITAL", "lots")
	t.Setenv("MAX_TRADES_PER_DAY", "3.5")
	t.Setenv("REVENGE_COOLDOWN", "an hour")

	cfg := Load()
	assert.InDelta(t, 100000.0, cfg.Capital.Initial, 1e-9)
	assert.Equal(t, 5, cfg.Rules.MaxTradesPerDay)
	assert.Equal(t, 60*time.Minute, cfg.Rules.RevengeCooldown)
}

func TestLoadRiskLimits_MissingFileIsEmpty(t *testing.T) {
	limits, err := LoadRiskLimits("")
	require.NoError(t, err)
	assert.Zero(t, limits.DailyLossPercent)

	limits, err = LoadRiskLimits(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Zero(t, limits.MaxTradesPerDay)
}

func TestLoadRiskLimits_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := []byte(`
daily_loss_percent: 1.0
max_portfolio_heat: 4.5
max_trades_per_day: 4
default_stop_loss:
  INDEX_OPTION: 20
max_stop_loss:
  INDEX_OPTION: 40
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	limits, err := LoadRiskLimits(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, limits.DailyLossPercent, 1e-9)
	assert.InDelta(t, 4.5, limits.MaxPortfolioHeat, 1e-9)
	assert.Equal(t, 4, limits.MaxTradesPerDay)
	assert.InDelta(t, 20, limits.DefaultStopLoss["INDEX_OPTION"], 1e-9)
	assert.InDelta(t, 40, limits.MaxStopLoss["INDEX_OPTION"], 1e-9)
}

func TestLoadRiskLimits_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daily_loss_percent: [oops"), 0o644))

	_, err := LoadRiskLimits(path)
	assert.Error(t, err)
}

func TestRiskLimits_ApplyOverlaysNonZero(t *testing.T) {
	cfg := Load()
	limits := &RiskLimits{
		DailyLossPercent: 1.0,
		MaxTradesPerDay:  4,
		DefaultStopLoss:  map[string]float64{"INDEX_OPTION": 20},
		MaxStopLoss:      map[string]float64{"INDEX_OPTION": 40},
	}
	limits.Apply(cfg)

	assert.InDelta(t, 1.0, cfg.Risk.DailyLossPercent, 1e-9)
	assert.Equal(t, 4, cfg.Rules.MaxTradesPerDay)
	assert.InDelta(t, 20, cfg.Risk.DefaultStopLoss["INDEX_OPTION"], 1e-9)
	assert.InDelta(t, 40, cfg.Risk.MaxStopLoss["INDEX_OPTION"], 1e-9)
	// Untouched fields keep their defaults.
	assert.InDelta(t, 6.0, cfg.Risk.MaxPortfolioHeat, 1e-9)
	assert.InDelta(t, 5000.0, cfg.Rules.DailyLossLimit, 1e-9)
}