package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
	"github.com/quantsphere/fno-trading-bot/internal/clock"
)

func testStopManager(t *testing.T) (*StopLossManager, *broker.PaperBroker) {
	t.Helper()
	pb := broker.NewPaperBroker()
	clk := clock.NewManual(time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC))
	return NewStopLossManager(pb, clk), pb
}

func TestStopLoss_FixedPercentDerivation(t *testing.T) {
	m, _ := testStopManager(t)

	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopFixedPercent,
		Percent:    4,
	})
	require.NoError(t, err)
	assert.InDelta(t, 960, order.StopPrice, 1e-9)
	assert.Equal(t, StopActive, order.Status)
	assert.NotEmpty(t, order.BrokerOrderID)
}

func TestStopLoss_FixedPercentDefaultsFromInstrument(t *testing.T) {
	m, _ := testStopManager(t)

	// Index option default is 25%.
	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "NIFTY25JUN24000CE",
		Direction:  DirectionLong,
		Quantity:   25,
		EntryPrice: 200,
		Type:       StopFixedPercent,
	})
	require.NoError(t, err)
	assert.InDelta(t, 150, order.StopPrice, 1e-9)
}

func TestStopLoss_ConfiguredOverridesReplaceTableDefaults(t *testing.T) {
	m, _ := testStopManager(t)
	m.ApplyStopLossOverrides(
		map[string]float64{"INDEX_OPTION": 10},
		map[string]float64{"INDEX_OPTION": 15},
	)

	def, max := m.Defaults(InstrumentIndexOption)
	assert.InDelta(t, 10, def, 1e-9)
	assert.InDelta(t, 15, max, 1e-9)

	// Untouched classes keep the built-in table.
	def, max = m.Defaults(InstrumentEquity)
	assert.InDelta(t, 5, def, 1e-9)
	assert.InDelta(t, 10, max, 1e-9)

	// The 10% default now drives derivation.
	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "NIFTY25JUN24000CE",
		Direction:  DirectionLong,
		Quantity:   25,
		EntryPrice: 200,
		Type:       StopFixedPercent,
	})
	require.NoError(t, err)
	assert.InDelta(t, 180, order.StopPrice, 1e-9)

	// An explicit 40% request is clamped to the overridden 15% maximum.
	order, err = m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p2",
		Symbol:     "NIFTY25JUN24000CE",
		Direction:  DirectionLong,
		Quantity:   25,
		EntryPrice: 200,
		Type:       StopFixedPercent,
		Percent:    40,
	})
	require.NoError(t, err)
	assert.InDelta(t, 170, order.StopPrice, 1e-9)
}

func TestStopLoss_OverridesIgnoreZeroAndUnknownEntries(t *testing.T) {
	m, _ := testStopManager(t)
	m.ApplyStopLossOverrides(
		map[string]float64{"INDEX_OPTION": 0, "CRYPTO": 7},
		nil,
	)

	def, max := m.Defaults(InstrumentIndexOption)
	assert.InDelta(t, 25, def, 1e-9)
	assert.InDelta(t, 50, max, 1e-9)
}

func TestStopLoss_FixedPointsAndATR(t *testing.T) {
	m, _ := testStopManager(t)

	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "NIFTY25JUNFUT",
		Direction:  DirectionShort,
		Quantity:   25,
		EntryPrice: 24000,
		Type:       StopFixedPoints,
		Points:     120,
	})
	require.NoError(t, err)
	assert.InDelta(t, 24120, order.StopPrice, 1e-9)

	// ATR multiplier defaults to 2.
	order, err = m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p2",
		Symbol:     "NIFTY25JUNFUT",
		Direction:  DirectionLong,
		Quantity:   25,
		EntryPrice: 24000,
		Type:       StopATRBased,
		ATR:        80,
	})
	require.NoError(t, err)
	assert.InDelta(t, 23840, order.StopPrice, 1e-9)
}

func TestStopLoss_UserDefinedMustBeProtective(t *testing.T) {
	m, _ := testStopManager(t)

	_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID:    "p1",
		Symbol:        "RELIANCE",
		Direction:     DirectionLong,
		Quantity:      10,
		EntryPrice:    1000,
		Type:          StopUserDefined,
		ExplicitPrice: 1050,
	})
	assert.Error(t, err)

	_, err = m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID:    "p1",
		Symbol:        "RELIANCE",
		Direction:     DirectionShort,
		Quantity:      10,
		EntryPrice:    1000,
		Type:          StopUserDefined,
		ExplicitPrice: 950,
	})
	assert.Error(t, err)
}

func TestStopLoss_ClampsToInstrumentMaximum(t *testing.T) {
	m, _ := testStopManager(t)

	// 10% requested on an index future whose maximum distance is 5%.
	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "NIFTY25JUNFUT",
		Direction:  DirectionLong,
		Quantity:   25,
		EntryPrice: 24000,
		Type:       StopFixedPercent,
		Percent:    10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 24000*0.95, order.StopPrice, 1e-9)

	// Short side clamps upward.
	order, err = m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p2",
		Symbol:     "NIFTY25JUNFUT",
		Direction:  DirectionShort,
		Quantity:   25,
		EntryPrice: 24000,
		Type:       StopFixedPercent,
		Percent:    10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 24000*1.05, order.StopPrice, 1e-9)
}

func TestStopLoss_DuplicatePositionRejected(t *testing.T) {
	m, _ := testStopManager(t)

	req := StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopFixedPercent,
		Percent:    4,
	}
	_, err := m.CreateStopLoss(context.Background(), req)
	require.NoError(t, err)
	_, err = m.CreateStopLoss(context.Background(), req)
	assert.Error(t, err)
}

func TestStopLoss_BrokerFailureMarksFailed(t *testing.T) {
	m, pb := testStopManager(t)
	pb.FailNext(1)

	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopFixedPercent,
		Percent:    4,
	})
	require.Error(t, err)
	require.NotNil(t, order)
	assert.Equal(t, StopFailed, order.Status)
}

func TestStopLoss_TrailingDefaultsHalfDistance(t *testing.T) {
	m, _ := testStopManager(t)

	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopTrailing,
		Percent:    4,
	})
	require.NoError(t, err)
	assert.InDelta(t, 960, order.StopPrice, 1e-9)
	assert.InDelta(t, 20, order.TrailDistance, 1e-9)
}

func TestStopLoss_TrailingNeverLoosens(t *testing.T) {
	m, _ := testStopManager(t)

	_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID:    "p1",
		Symbol:        "RELIANCE",
		Direction:     DirectionLong,
		Quantity:      10,
		EntryPrice:    1000,
		Type:          StopTrailing,
		Percent:       4,
		TrailDistance: 20,
	})
	require.NoError(t, err)

	// Price advances, stop follows at the trail distance.
	moved, err := m.UpdateForPriceMove("p1", 1010)
	require.NoError(t, err)
	assert.True(t, moved)
	order, _ := m.Get("p1")
	assert.InDelta(t, 990, order.StopPrice, 1e-9)

	// A pullback never moves the stop back down.
	moved, err = m.UpdateForPriceMove("p1", 995)
	require.NoError(t, err)
	assert.False(t, moved)
	order, _ = m.Get("p1")
	assert.InDelta(t, 990, order.StopPrice, 1e-9)

	// New high resumes the trail from the extreme.
	moved, err = m.UpdateForPriceMove("p1", 1030)
	require.NoError(t, err)
	assert.True(t, moved)
	order, _ = m.Get("p1")
	assert.InDelta(t, 1010, order.StopPrice, 1e-9)
	assert.Len(t, order.Modifications, 2)
}

func TestStopLoss_TrailingShortSide(t *testing.T) {
	m, _ := testStopManager(t)

	_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID:    "p1",
		Symbol:        "RELIANCE",
		Direction:     DirectionShort,
		Quantity:      10,
		EntryPrice:    1000,
		Type:          StopTrailing,
		Percent:       4,
		TrailDistance: 20,
	})
	require.NoError(t, err)

	moved, err := m.UpdateForPriceMove("p1", 970)
	require.NoError(t, err)
	assert.True(t, moved)
	order, _ := m.Get("p1")
	assert.InDelta(t, 990, order.StopPrice, 1e-9)

	moved, err = m.UpdateForPriceMove("p1", 985)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestStopLoss_UpdateIgnoresNonTrailing(t *testing.T) {
	m, _ := testStopManager(t)

	_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopFixedPercent,
		Percent:    4,
	})
	require.NoError(t, err)

	moved, err := m.UpdateForPriceMove("p1", 1100)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestStopLoss_ModifyTrailingOnlyProtective(t *testing.T) {
	m, _ := testStopManager(t)

	_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopTrailing,
		Percent:    4,
	})
	require.NoError(t, err)

	assert.Error(t, m.ModifyStopLoss("p1", 950, "loosen"))
	require.NoError(t, m.ModifyStopLoss("p1", 975, "tighten"))

	order, _ := m.Get("p1")
	assert.InDelta(t, 975, order.StopPrice, 1e-9)
	assert.Equal(t, StopModified, order.Status)
	require.Len(t, order.Modifications, 1)
	assert.Equal(t, "tighten", order.Modifications[0].Reason)
}

func TestStopLoss_CheckTrigger(t *testing.T) {
	m, _ := testStopManager(t)

	_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopFixedPercent,
		Percent:    4,
	})
	require.NoError(t, err)

	hit, err := m.CheckTrigger("p1", 970)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = m.CheckTrigger("p1", 960)
	require.NoError(t, err)
	assert.True(t, hit)

	order, _ := m.Get("p1")
	assert.Equal(t, StopTriggered, order.Status)

	// A triggered stop reports false on subsequent polls.
	hit, err = m.CheckTrigger("p1", 900)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestStopLoss_CancelRemovesAndCancelsBrokerOrder(t *testing.T) {
	m, pb := testStopManager(t)

	order, err := m.CreateStopLoss(context.Background(), StopLossRequest{
		PositionID: "p1",
		Symbol:     "RELIANCE",
		Direction:  DirectionLong,
		Quantity:   10,
		EntryPrice: 1000,
		Type:       StopFixedPercent,
		Percent:    4,
	})
	require.NoError(t, err)

	require.NoError(t, m.CancelStopLoss(context.Background(), "p1"))
	_, exists := m.Get("p1")
	assert.False(t, exists)
	assert.Equal(t, []string{order.BrokerOrderID}, pb.Cancelled())

	assert.Error(t, m.CancelStopLoss(context.Background(), "p1"))
}

func TestStopLoss_EmergencySquareOffContinuesPastFailures(t *testing.T) {
	m, pb := testStopManager(t)

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
			PositionID: id,
			Symbol:     "RELIANCE",
			Direction:  DirectionLong,
			Quantity:   10,
			EntryPrice: 1000,
			Type:       StopFixedPercent,
			Percent:    4,
		})
		require.NoError(t, err)
	}
	pb.FailTag("SQUAREOFF:p2", errors.New("exchange rejected"))

	results := m.EmergencySquareOffAll(context.Background())
	require.Len(t, results, 3)

	byID := make(map[string]SquareOffResult)
	for _, r := range results {
		byID[r.PositionID] = r
	}
	assert.Equal(t, "exited", byID["p1"].Status)
	assert.Equal(t, "failed", byID["p2"].Status)
	assert.Error(t, byID["p2"].Err)
	assert.Equal(t, "exited", byID["p3"].Status)

	// The failed position stays tracked for a retry.
	_, exists := m.Get("p2")
	assert.True(t, exists)
	_, exists = m.Get("p1")
	assert.False(t, exists)
}

func TestStopLoss_Summary(t *testing.T) {
	m, _ := testStopManager(t)

	s := m.Summary()
	assert.Equal(t, 0, s.Total)
	assert.True(t, s.AllProtected)

	for _, id := range []string{"p1", "p2"} {
		_, err := m.CreateStopLoss(context.Background(), StopLossRequest{
			PositionID: id,
			Symbol:     "RELIANCE",
			Direction:  DirectionLong,
			Quantity:   10,
			EntryPrice: 1000,
			Type:       StopFixedPercent,
			Percent:    4,
		})
		require.NoError(t, err)
	}
	_, err := m.CheckTrigger("p2", 900)
	require.NoError(t, err)

	s = m.Summary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByStatus[StopActive])
	assert.Equal(t, 1, s.ByStatus[StopTriggered])
	assert.False(t, s.AllProtected)
}

func TestStopLossDefaults_Table(t *testing.T) {
	def, max := StopLossDefaults(InstrumentIndexOption)
	assert.InDelta(t, 25, def, 1e-9)
	assert.InDelta(t, 50, max, 1e-9)

	def, max = StopLossDefaults(InstrumentIndexFuture)
	assert.InDelta(t, 1.5, def, 1e-9)
	assert.InDelta(t, 5, max, 1e-9)

	def, max = StopLossDefaults(InstrumentType("???"))
	assert.InDelta(t, 20, def, 1e-9)
	assert.InDelta(t, 30, max, 1e-9)
}