package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
)

func testOCO(t *testing.T) (*OCOOrder, *broker.PaperBroker) {
	t.Helper()
	pb := broker.NewPaperBroker()
	o, err := NewOCOOrder(pb, "NIFTY25JUNFUT", 25, 24200, 23800, 0, 0)
	require.NoError(t, err)
	return o, pb
}

func TestOCOOrder_TriggerGeometry(t *testing.T) {
	pb := broker.NewPaperBroker()

	_, err := NewOCOOrder(pb, "NIFTY25JUNFUT", 25, 23800, 24200, 0, 0)
	assert.Error(t, err)
	_, err = NewOCOOrder(pb, "NIFTY25JUNFUT", 25, 24000, 24000, 0, 0)
	assert.Error(t, err)
	_, err = NewOCOOrder(pb, "", 25, 24200, 23800, 0, 0)
	assert.Error(t, err)
	_, err = NewOCOOrder(pb, "NIFTY25JUNFUT", 0, 24200, 23800, 0, 0)
	assert.Error(t, err)

	// Explicit stops on the wrong side of their trigger.
	_, err = NewOCOOrder(pb, "NIFTY25JUNFUT", 25, 24200, 23800, 24300, 0)
	assert.Error(t, err)
	_, err = NewOCOOrder(pb, "NIFTY25JUNFUT", 25, 24200, 23800, 0, 23700)
	assert.Error(t, err)
}

func TestOCOOrder_DefaultStopsAreHalfRange(t *testing.T) {
	o, _ := testOCO(t)

	// Range 400, half 200.
	assert.InDelta(t, 24000, o.PrimaryStop, 1e-9)
	assert.InDelta(t, 24000, o.SecondaryStop, 1e-9)

	primary, secondary := o.RiskReward()
	assert.InDelta(t, 2.0, primary, 1e-9)
	assert.InDelta(t, 2.0, secondary, 1e-9)
}

func TestOCOOrder_PlaceBothLegs(t *testing.T) {
	o, pb := testOCO(t)

	require.NoError(t, o.Place(context.Background()))
	assert.Equal(t, OCOPlaced, o.Status())

	placed := pb.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, broker.SideBuy, placed[0].Side)
	assert.InDelta(t, 24200, placed[0].TriggerPrice, 1e-9)
	assert.Equal(t, broker.SideSell, placed[1].Side)
	assert.InDelta(t, 23800, placed[1].TriggerPrice, 1e-9)

	assert.Error(t, o.Place(context.Background()))
}

func TestOCOOrder_SecondaryFailureRollsBackPrimary(t *testing.T) {
	o, pb := testOCO(t)
	pb.FailTag("OCO-SECONDARY:"+o.ID, errors.New("margin rejected"))

	err := o.Place(context.Background())
	require.Error(t, err)
	assert.Equal(t, OCOPending, o.Status())

	// The primary leg is cancelled to leave no one-sided exposure.
	require.Len(t, pb.Cancelled(), 1)
}

func TestOCOOrder_PrimaryFillCancelsSiblingAndPlacesStop(t *testing.T) {
	o, pb := testOCO(t)
	require.NoError(t, o.Place(context.Background()))

	require.NoError(t, o.OnPrimaryFill(context.Background(), 24205))
	assert.Equal(t, OCOPrimaryFilled, o.Status())

	require.Len(t, pb.Cancelled(), 1)

	placed := pb.Placed()
	require.Len(t, placed, 3)
	stop := placed[2]
	assert.Equal(t, broker.SideSell, stop.Side)
	assert.InDelta(t, 24000, stop.TriggerPrice, 1e-9)
	assert.InDelta(t, 24205, o.Snapshot().FillPrice, 1e-9)
}

func TestOCOOrder_SecondaryFillPlacesBuyStop(t *testing.T) {
	o, pb := testOCO(t)
	require.NoError(t, o.Place(context.Background()))

	require.NoError(t, o.OnSecondaryFill(context.Background(), 23795))
	assert.Equal(t, OCOSecondaryFilled, o.Status())

	placed := pb.Placed()
	require.Len(t, placed, 3)
	stop := placed[2]
	assert.Equal(t, broker.SideBuy, stop.Side)
	assert.InDelta(t, 24000, stop.TriggerPrice, 1e-9)
}

func TestOCOOrder_DuplicateFillsIgnored(t *testing.T) {
	o, pb := testOCO(t)
	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnPrimaryFill(context.Background(), 24205))

	require.NoError(t, o.OnSecondaryFill(context.Background(), 23795))
	require.NoError(t, o.OnPrimaryFill(context.Background(), 24210))

	assert.Equal(t, OCOPrimaryFilled, o.Status())
	assert.Len(t, pb.Placed(), 3)
	assert.Len(t, pb.Cancelled(), 1)
}

func TestOCOOrder_CancelAllIdempotent(t *testing.T) {
	o, pb := testOCO(t)
	require.NoError(t, o.Place(context.Background()))

	require.NoError(t, o.CancelAll(context.Background()))
	assert.Equal(t, OCOCancelled, o.Status())
	assert.Len(t, pb.Cancelled(), 2)

	require.NoError(t, o.CancelAll(context.Background()))
	assert.Len(t, pb.Cancelled(), 2)

	require.NoError(t, o.OnPrimaryFill(context.Background(), 24205))
	assert.Equal(t, OCOCancelled, o.Status())
}

func TestOCOFromRange(t *testing.T) {
	pb := broker.NewPaperBroker()

	o, err := OCOFromRange(pb, "NIFTY25JUNFUT", 25, 23000, 24000)
	require.NoError(t, err)
	assert.InDelta(t, 24480, o.PrimaryTrigger, 1e-9)
	assert.InDelta(t, 22540, o.SecondaryTrigger, 1e-9)

	_, err = OCOFromRange(pb, "NIFTY25JUNFUT", 25, 24000, 23000)
	assert.Error(t, err)
}

func TestOCOAroundPrice(t *testing.T) {
	pb := broker.NewPaperBroker()

	o, err := OCOAroundPrice(pb, "NIFTY25JUNFUT", 25, 24000, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 24240, o.PrimaryTrigger, 1e-9)
	assert.InDelta(t, 23760, o.SecondaryTrigger, 1e-9)

	// Zero buffer falls back to 2%.
	o, err = OCOAroundPrice(pb, "NIFTY25JUNFUT", 25, 24000, 0)
	require.NoError(t, err)
	assert.InDelta(t, 24480, o.PrimaryTrigger, 1e-9)

	_, err = OCOAroundPrice(pb, "NIFTY25JUNFUT", 25, 0, 1.0)
	assert.Error(t, err)
}
func TestOCOOrder_CancelDuringPlacement(t *testing.T) {
	pb := broker.NewPaperBroker()
	ib := &interceptBroker{PaperBroker: pb}
	o, err := NewOCOOrder(ib, "NIFTY25JUNFUT", 25, 24200, 23800, 0, 0)
	require.NoError(t, err)

	fired := false
	ib.onPlaced = func() {
		if fired {
			return
		}
		fired = true
		require.NoError(t, o.CancelAll(context.Background()))
	}

	err = o.Place(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OCOCancelled, o.Status())

	// CancelAll saw no order ids yet; Place cancels both in-flight legs.
	require.Len(t, pb.Placed(), 2)
	assert.Len(t, pb.Cancelled(), 2)
}

func TestOCOOrder_CancelWhilePlacingStop(t *testing.T) {
	pb := broker.NewPaperBroker()
	ib := &interceptBroker{PaperBroker: pb}
	o, err := NewOCOOrder(ib, "NIFTY25JUNFUT", 25, 24200, 23800, 0, 0)
	require.NoError(t, err)
	require.NoError(t, o.Place(context.Background()))

	fired := false
	ib.onPlaced = func() {
		if fired {
			return
		}
		fired = true
		require.NoError(t, o.CancelAll(context.Background()))
	}

	err = o.OnPrimaryFill(context.Background(), 24210)
	assert.Error(t, err)
	assert.Equal(t, OCOCancelled, o.Status())

	// Sibling cancel, CancelAll on both legs, then the in-flight stop.
	assert.Len(t, pb.Placed(), 3)
	assert.Len(t, pb.Cancelled(), 4)
}
