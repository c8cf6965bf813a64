package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_SetAndAdvance(t *testing.T) {
	start := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	assert.Equal(t, start, clk.Now())

	clk.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), clk.Now())

	next := time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC)
	clk.Set(next)
	assert.Equal(t, next, clk.Now())
}

func TestReal_ExchangeTimezone(t *testing.T) {
	now := Real().Now()
	_, offset := now.Zone()
	// IST is UTC+5:30 year-round.
	assert.Equal(t, 5*3600+30*60, offset)
}

func TestSameTradingDay(t *testing.T) {
	morning := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	evening := time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)
	nextDay := time.Date(2025, 6, 3, 0, 1, 0, 0, time.UTC)

	assert.True(t, SameTradingDay(morning, evening))
	assert.False(t, SameTradingDay(evening, nextDay))
	assert.False(t, SameTradingDay(morning, morning.AddDate(0, 1, 0)))
}