package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsphere/fno-trading-bot/internal/clock"
)

// Monday 2025-06-02, mid-session, clear of the open and close windows.
func testEnforcer(t *testing.T) (*Enforcer, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC))
	cfg := DefaultEnforcerConfig()
	cfg.Clock = clk
	return NewEnforcer(cfg), clk
}

func TestEnforcer_AllowsCleanSlate(t *testing.T) {
	e, _ := testEnforcer(t)
	d := e.CanTrade(0)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestEnforcer_DailyTradeCap(t *testing.T) {
	e, clk := testEnforcer(t)

	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Minute)
		require.True(t, e.CanTrade(0).Allowed, "trade %d", i+1)
		e.RecordTrade(100)
	}

	clk.Advance(10 * time.Minute)
	d := e.CanTrade(0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily trade cap")
}

func TestEnforcer_ConsecutiveLosses(t *testing.T) {
	e, clk := testEnforcer(t)

	// Three losses an hour apart so no cooldown masks the streak check.
	for i := 0; i < 3; i++ {
		e.RecordTrade(-200)
		clk.Advance(61 * time.Minute)
	}

	d := e.CanTrade(0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "consecutive losses")

	// A win clears the streak.
	e2, clk2 := testEnforcer(t)
	e2.RecordTrade(-200)
	e2.RecordTrade(-200)
	e2.RecordTrade(500)
	clk2.Advance(61 * time.Minute)
	assert.True(t, e2.CanTrade(0).Allowed)
}

func TestEnforcer_MarketHours(t *testing.T) {
	cases := []struct {
		name   string
		at     time.Time
		reason string
	}{
		{"before open", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), "outside market hours"},
		{"open window", time.Date(2025, 6, 2, 9, 20, 0, 0, time.UTC), "after open"},
		{"after close", time.Date(2025, 6, 2, 15, 45, 0, 0, time.UTC), "outside market hours"},
		{"close window", time.Date(2025, 6, 2, 15, 20, 0, 0, time.UTC), "before close"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultEnforcerConfig()
			cfg.Clock = clock.NewManual(tc.at)
			e := NewEnforcer(cfg)
			d := e.CanTrade(0)
			assert.False(t, d.Allowed)
			assert.Contains(t, d.Reason, tc.reason)
		})
	}

	// Boundary just inside both windows.
	cfg := DefaultEnforcerConfig()
	cfg.Clock = clock.NewManual(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	assert.True(t, NewEnforcer(cfg).CanTrade(0).Allowed)
}

func TestEnforcer_PortfolioHeat(t *testing.T) {
	e, _ := testEnforcer(t)

	assert.True(t, e.CanTrade(5.9).Allowed)

	d := e.CanTrade(6.0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "portfolio heat")
}

func TestEnforcer_Weekend(t *testing.T) {
	// Saturday 2025-06-07 at a time that would be mid-session on a weekday.
	cfg := DefaultEnforcerConfig()
	cfg.Clock = clock.NewManual(time.Date(2025, 6, 7, 11, 0, 0, 0, time.UTC))
	e := NewEnforcer(cfg)

	d := e.CanTrade(0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "weekend")
}

func TestEnforcer_DailyLossLimit(t *testing.T) {
	e, clk := testEnforcer(t)

	e.RecordTrade(-5000)
	clk.Advance(61 * time.Minute)

	d := e.CanTrade(0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily loss")
}

func TestEnforcer_RevengeCooldown(t *testing.T) {
	e, clk := testEnforcer(t)

	e.RecordTrade(-300)

	clk.Advance(30 * time.Minute)
	d := e.CanTrade(0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "cooldown")

	clk.Advance(31 * time.Minute)
	assert.True(t, e.CanTrade(0).Allowed)
}

func TestEnforcer_MinTradeSpacing(t *testing.T) {
	e, clk := testEnforcer(t)

	e.RecordTrade(400)

	clk.Advance(2 * time.Minute)
	d := e.CanTrade(0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "spacing")

	clk.Advance(4 * time.Minute)
	assert.True(t, e.CanTrade(0).Allowed)
}

func TestEnforcer_CheckOrderStopsAtFirstFailure(t *testing.T) {
	e, clk := testEnforcer(t)

	// Cap and streak are both breached. The cap check comes first.
	for i := 0; i < 5; i++ {
		e.RecordTrade(-100)
	}
	clk.Advance(time.Minute)

	d := e.CanTrade(10.0)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily trade cap")
}

func TestEnforcer_DayRolloverResetsCounters(t *testing.T) {
	e, clk := testEnforcer(t)

	for i := 0; i < 5; i++ {
		e.RecordTrade(-100)
	}
	require.False(t, e.CanTrade(0).Allowed)

	// Next trading day, same mid-session time.
	clk.Set(time.Date(2025, 6, 3, 11, 0, 0, 0, time.UTC))
	assert.True(t, e.CanTrade(0).Allowed)

	s := e.Summary()
	assert.Equal(t, 0, s.TradesTaken)
	assert.InDelta(t, 0, s.DailyPnL, 1e-9)
	assert.Equal(t, 0, s.ConsecutiveLosses)
}

func TestEnforcer_ResetConsecutiveLosses(t *testing.T) {
	e, clk := testEnforcer(t)

	e.RecordTrade(-100)
	e.RecordTrade(-100)
	e.RecordTrade(-100)
	clk.Advance(61 * time.Minute)
	require.False(t, e.CanTrade(0).Allowed)

	e.ResetConsecutiveLosses()
	assert.True(t, e.CanTrade(0).Allowed)
}

func TestEnforcer_Summary(t *testing.T) {
	e, clk := testEnforcer(t)

	e.RecordTrade(600)
	clk.Advance(10 * time.Minute)
	e.RecordTrade(-1500)

	s := e.Summary()
	assert.Equal(t, 2, s.TradesTaken)
	assert.Equal(t, 3, s.TradesRemaining)
	assert.InDelta(t, -900, s.DailyPnL, 1e-9)
	assert.InDelta(t, 4100, s.LossLimitHeadroom, 1e-9)
	assert.Equal(t, 1, s.ConsecutiveLosses)
	assert.Equal(t, 0, s.ConsecutiveWins)
	assert.False(t, s.LastTradeAt.IsZero())
}

func TestEnforcer_Recommendations(t *testing.T) {
	e, _ := testEnforcer(t)
	assert.Empty(t, e.Recommendations())

	e.RecordTrade(-100)
	e.RecordTrade(-100)
	recs := e.Recommendations()
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0], "two losses")

	e2, _ := testEnforcer(t)
	e2.RecordTrade(-4500)
	recs = e2.Recommendations()
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0], "daily loss limit")

	e3, _ := testEnforcer(t)
	e3.RecordTrade(100)
	e3.RecordTrade(100)
	e3.RecordTrade(100)
	recs = e3.Recommendations()
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0], "winning streak")
}