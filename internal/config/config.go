package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Environment string
	LogLevel    string

	Capital struct {
		Initial      float64
		DatabasePath string
	}

	Risk struct {
		DailyLossPercent    float64
		MaxPositionHeat     float64
		MaxPortfolioHeat    float64
		OverridePasswordSHA string
		LimitsFile          string

		// Per-instrument stop-loss overrides, populated only from the
		// limits file.
		DefaultStopLoss map[string]float64
		MaxStopLoss     map[string]float64
	}

	Rules struct {
		MaxTradesPerDay      int
		MaxConsecutiveLosses int
		DailyLossLimit       float64
		RevengeCooldown      time.Duration
		MinTradeSpacing      time.Duration
	}

	Orders struct {
		MaxOrdersPerDay int
		RatePerMinute   int
		APIPort         int
	}

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string
	}
}

func Load() *Config {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	cfg.Capital.Initial = getEnvFloat("INITIAL_CAPITAL", 100000.0)
	cfg.Capital.DatabasePath = getEnv("CAPITAL_DB_PATH", "data/capital.db")

	cfg.Risk.DailyLossPercent = getEnvFloat("DAILY_LOSS_PERCENT", 2.0)
	cfg.Risk.MaxPositionHeat = getEnvFloat("MAX_POSITION_HEAT", 2.0)
	cfg.Risk.MaxPortfolioHeat = getEnvFloat("MAX_PORTFOLIO_HEAT", 6.0)
	cfg.Risk.OverridePasswordSHA = getEnv("CB_OVERRIDE_PASSWORD_SHA", "")
	cfg.Risk.LimitsFile = getEnv("RISK_LIMITS_FILE", "")

	cfg.Rules.MaxTradesPerDay = getEnvInt("MAX_TRADES_PER_DAY", 5)
	cfg.Rules.MaxConsecutiveLosses = getEnvInt("MAX_CONSECUTIVE_LOSSES", 3)
	cfg.Rules.DailyLossLimit = getEnvFloat("RULES_DAILY_LOSS_LIMIT", 5000.0)
	cfg.Rules.RevengeCooldown = getEnvDuration("REVENGE_COOLDOWN", 60*time.Minute)
	cfg.Rules.MinTradeSpacing = getEnvDuration("MIN_TRADE_SPACING", 5*time.Minute)

	cfg.Orders.MaxOrdersPerDay = getEnvInt("MAX_ORDERS_PER_DAY", 20)
	cfg.Orders.RatePerMinute = getEnvInt("ORDER_RATE_PER_MINUTE", 10)
	cfg.Orders.APIPort = getEnvInt("ORDER_API_PORT", 8082)

	cfg.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", 8080)
	cfg.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", 8081)

	cfg.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	cfg.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
