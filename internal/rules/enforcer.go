// Package rules gates every proposed trade through a fixed sequence of
// discipline checks. The enforcer is the first wall an order hits; risk
// components refine the decision afterwards.
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantsphere/fno-trading-bot/internal/clock"
)

// NSE cash/derivatives session in exchange-local time.
var (
	marketOpen  = sessionTime{9, 15}
	marketClose = sessionTime{15, 30}
)

type sessionTime struct {
	hour, minute int
}

func (s sessionTime) onDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.hour, s.minute, 0, 0, day.Location())
}

// EnforcerConfig holds the discipline limits.
type EnforcerConfig struct {
	MaxTradesPerDay      int
	MaxConsecutiveLosses int
	DailyLossLimit       float64
	NoTradeOpenWindow    time.Duration // no entries this long after open
	NoTradeCloseWindow   time.Duration // no entries this long before close
	RevengeCooldown      time.Duration // wait after a losing trade
	MinTradeSpacing      time.Duration // wait between any two trades
	MaxPortfolioHeat     float64
	Clock                clock.Clock
}

// DefaultEnforcerConfig returns the standard retail-discipline limits.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		MaxTradesPerDay:      5,
		MaxConsecutiveLosses: 3,
		DailyLossLimit:       5000,
		NoTradeOpenWindow:    15 * time.Minute,
		NoTradeCloseWindow:   15 * time.Minute,
		RevengeCooldown:      60 * time.Minute,
		MinTradeSpacing:      5 * time.Minute,
		MaxPortfolioHeat:     6.0,
	}
}

// Decision is the enforcer's verdict on a proposed trade.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision { return Decision{Allowed: true} }
func blocked(reason string) Decision { return Decision{Reason: reason} }

// Enforcer tracks per-day trade counters and applies the ordered checks.
// Counters reset lazily at trading-date rollover.
type Enforcer struct {
	mu                sync.Mutex
	config            EnforcerConfig
	day               time.Time
	tradesToday       int
	dailyPnL          float64
	consecutiveLosses int
	consecutiveWins   int
	lastTradeAt       time.Time
	lastLossAt        time.Time
}

func NewEnforcer(config EnforcerConfig) *Enforcer {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Enforcer{
		config: config,
		day:    config.Clock.Now(),
	}
}

// CanTrade runs the ordered discipline checks against the current time and
// portfolio heat. The first failing check names the block reason.
func (e *Enforcer) CanTrade(portfolioHeat float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.config.Clock.Now()
	e.rolloverLocked(now)

	if e.tradesToday >= e.config.MaxTradesPerDay {
		return blocked(fmt.Sprintf("daily trade cap reached (%d of %d)",
			e.tradesToday, e.config.MaxTradesPerDay))
	}

	if e.consecutiveLosses >= e.config.MaxConsecutiveLosses {
		return blocked(fmt.Sprintf("%d consecutive losses, stop for the day",
			e.consecutiveLosses))
	}

	if d := e.marketWindowCheck(now); !d.Allowed {
		return d
	}

	if portfolioHeat >= e.config.MaxPortfolioHeat {
		return blocked(fmt.Sprintf("portfolio heat %.2f%% at or above limit %.2f%%",
			portfolioHeat, e.config.MaxPortfolioHeat))
	}

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return blocked("market closed on weekends")
	}

	if e.dailyPnL <= -e.config.DailyLossLimit {
		return blocked(fmt.Sprintf("daily loss %.2f at or beyond limit %.2f",
			-e.dailyPnL, e.config.DailyLossLimit))
	}

	if !e.lastLossAt.IsZero() && now.Sub(e.lastLossAt) < e.config.RevengeCooldown {
		remaining := e.config.RevengeCooldown - now.Sub(e.lastLossAt)
		return blocked(fmt.Sprintf("cooldown after loss, %s remaining",
			remaining.Round(time.Minute)))
	}

	if !e.lastTradeAt.IsZero() && now.Sub(e.lastTradeAt) < e.config.MinTradeSpacing {
		remaining := e.config.MinTradeSpacing - now.Sub(e.lastTradeAt)
		return blocked(fmt.Sprintf("minimum trade spacing, wait %s",
			remaining.Round(time.Second)))
	}

	return allowed()
}

func (e *Enforcer) marketWindowCheck(now time.Time) Decision {
	open := marketOpen.onDay(now)
	close := marketClose.onDay(now)

	if now.Before(open) || now.After(close) {
		return blocked("outside market hours (09:15-15:30)")
	}
	if now.Before(open.Add(e.config.NoTradeOpenWindow)) {
		return blocked(fmt.Sprintf("no entries in the first %s after open",
			e.config.NoTradeOpenWindow))
	}
	if now.After(close.Add(-e.config.NoTradeCloseWindow)) {
		return blocked(fmt.Sprintf("no entries in the last %s before close",
			e.config.NoTradeCloseWindow))
	}
	return allowed()
}

// RecordTrade updates streak counters and the loss timestamp with a realized
// trade result.
func (e *Enforcer) RecordTrade(pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.config.Clock.Now()
	e.rolloverLocked(now)

	e.tradesToday++
	e.dailyPnL += pnl
	e.lastTradeAt = now

	if pnl < 0 {
		e.consecutiveLosses++
		e.consecutiveWins = 0
		e.lastLossAt = now
	} else {
		e.consecutiveLosses = 0
		e.consecutiveWins++
	}
}

// ResetConsecutiveLosses clears the loss streak. Manual operation; callers
// audit the reason.
func (e *Enforcer) ResetConsecutiveLosses() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveLosses = 0
}

// DailySummary is the per-day counter snapshot for the ops CLI.
type DailySummary struct {
	Date              time.Time
	TradesTaken       int
	TradesRemaining   int
	DailyPnL          float64
	LossLimitHeadroom float64
	ConsecutiveLosses int
	ConsecutiveWins   int
	LastTradeAt       time.Time
}

func (e *Enforcer) Summary() DailySummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.config.Clock.Now()
	e.rolloverLocked(now)

	remaining := e.config.MaxTradesPerDay - e.tradesToday
	if remaining < 0 {
		remaining = 0
	}
	headroom := e.config.DailyLossLimit + e.dailyPnL
	if headroom < 0 {
		headroom = 0
	}

	return DailySummary{
		Date:              e.day,
		TradesTaken:       e.tradesToday,
		TradesRemaining:   remaining,
		DailyPnL:          e.dailyPnL,
		LossLimitHeadroom: headroom,
		ConsecutiveLosses: e.consecutiveLosses,
		ConsecutiveWins:   e.consecutiveWins,
		LastTradeAt:       e.lastTradeAt,
	}
}

// Recommendations returns discipline hints derived from the day so far.
func (e *Enforcer) Recommendations() []string {
	s := e.Summary()

	var recs []string
	if s.ConsecutiveLosses == 2 {
		recs = append(recs, "two losses in a row, consider reducing size")
	}
	if s.TradesRemaining == 1 {
		recs = append(recs, "last trade of the day, make it count")
	}
	if s.DailyPnL < 0 && s.LossLimitHeadroom < 1000 {
		recs = append(recs, "close to the daily loss limit, consider stopping")
	}
	if s.ConsecutiveWins >= 3 {
		recs = append(recs, "winning streak, watch for overconfidence")
	}
	return recs
}

// rolloverLocked must be called with the lock held.
func (e *Enforcer) rolloverLocked(now time.Time) {
	if clock.SameTradingDay(e.day, now) {
		return
	}
	e.day = now
	e.tradesToday = 0
	e.dailyPnL = 0
	e.consecutiveLosses = 0
	e.consecutiveWins = 0
	e.lastTradeAt = time.Time{}
	e.lastLossAt = time.Time{}
}
