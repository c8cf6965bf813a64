// Package clock provides the time source for all trading-day logic.
// Every component that cares about market hours or daily rollovers takes a
// Clock so tests can drive time explicitly.
package clock

import (
	"sync"
	"time"
)

// Exchange timezone for NSE market hours and day rollovers.
const ExchangeTimezone = "Asia/Kolkata"

// Clock abstracts the current time in exchange-local terms.
type Clock interface {
	Now() time.Time
}

// Real returns a clock pinned to the exchange timezone.
func Real() Clock {
	loc, err := time.LoadLocation(ExchangeTimezone)
	if err != nil {
		// Fixed offset fallback when tzdata is unavailable (IST has no DST)
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	return &realClock{loc: loc}
}

type realClock struct {
	loc *time.Location
}

func (c *realClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Manual is a controllable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SameTradingDay reports whether a and b fall on the same calendar day.
func SameTradingDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
