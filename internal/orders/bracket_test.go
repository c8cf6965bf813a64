package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
)

func testBracket(t *testing.T) (*BracketOrder, *broker.PaperBroker) {
	t.Helper()
	pb := broker.NewPaperBroker()
	o, err := NewBracketOrder(pb, "NIFTY25JUN24000CE", DirectionLong, 25, 200, 240, 180)
	require.NoError(t, err)
	return o, pb
}

func TestBracketOrder_GeometryValidation(t *testing.T) {
	pb := broker.NewPaperBroker()

	// Long: stop must sit below entry, target above.
	_, err := NewBracketOrder(pb, "NIFTY25JUN24000CE", DirectionLong, 25, 200, 240, 210)
	assert.Error(t, err)
	_, err = NewBracketOrder(pb, "NIFTY25JUN24000CE", DirectionLong, 25, 200, 190, 180)
	assert.Error(t, err)

	// Short: reversed.
	_, err = NewBracketOrder(pb, "NIFTY25JUN24000CE", DirectionShort, 25, 200, 240, 180)
	assert.Error(t, err)
	_, err = NewBracketOrder(pb, "NIFTY25JUN24000CE", DirectionShort, 25, 200, 180, 220)
	assert.NoError(t, err)

	_, err = NewBracketOrder(pb, "", DirectionLong, 25, 200, 240, 180)
	assert.Error(t, err)
	_, err = NewBracketOrder(pb, "NIFTY25JUN24000CE", DirectionLong, 0, 200, 240, 180)
	assert.Error(t, err)
	_, err = NewBracketOrder(pb, "NIFTY25JUN24000CE", Direction("SIDEWAYS"), 25, 200, 240, 180)
	assert.Error(t, err)
}

func TestBracketOrder_TargetExitLifecycle(t *testing.T) {
	o, pb := testBracket(t)
	assert.Equal(t, BracketPending, o.Status())

	require.NoError(t, o.Place(context.Background()))
	assert.Equal(t, BracketPlaced, o.Status())

	require.NoError(t, o.OnEntryFill(context.Background(), 201))
	assert.Equal(t, BracketFilled, o.Status())

	// Entry, target and stop legs hit the broker in that order.
	placed := pb.Placed()
	require.Len(t, placed, 3)
	assert.Equal(t, broker.SideBuy, placed[0].Side)
	assert.Equal(t, broker.SideSell, placed[1].Side)
	assert.InDelta(t, 240, placed[1].LimitPrice, 1e-9)
	assert.Equal(t, broker.OrderTypeStopLoss, placed[2].Type)
	assert.InDelta(t, 180, placed[2].TriggerPrice, 1e-9)

	require.NoError(t, o.OnTargetFill(context.Background(), 240))
	assert.Equal(t, BracketCompleted, o.Status())

	// The stop sibling is cancelled.
	require.Len(t, pb.Cancelled(), 1)

	snap := o.Snapshot()
	assert.Equal(t, ExitTarget, snap.ExitReason)
	assert.InDelta(t, 201, snap.FillPrice, 1e-9)
	assert.InDelta(t, 240, snap.ExitPrice, 1e-9)
}

func TestBracketOrder_StopExitCancelsTarget(t *testing.T) {
	o, pb := testBracket(t)

	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnEntryFill(context.Background(), 200))
	require.NoError(t, o.OnStopFill(context.Background(), 180))

	assert.Equal(t, BracketCompleted, o.Status())
	assert.Equal(t, ExitStopLoss, o.Snapshot().ExitReason)
	require.Len(t, pb.Cancelled(), 1)
}

func TestBracketOrder_DuplicateFillsIgnored(t *testing.T) {
	o, pb := testBracket(t)

	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnEntryFill(context.Background(), 200))

	// A second entry fill places no further legs.
	require.NoError(t, o.OnEntryFill(context.Background(), 205))
	assert.Len(t, pb.Placed(), 3)
	assert.InDelta(t, 200, o.Snapshot().FillPrice, 1e-9)

	require.NoError(t, o.OnTargetFill(context.Background(), 240))
	require.NoError(t, o.OnStopFill(context.Background(), 180))
	assert.Equal(t, ExitTarget, o.Snapshot().ExitReason)
	assert.Len(t, pb.Cancelled(), 1)
}

func TestBracketOrder_FillBeforePlaceIgnored(t *testing.T) {
	o, pb := testBracket(t)

	require.NoError(t, o.OnEntryFill(context.Background(), 200))
	assert.Equal(t, BracketPending, o.Status())
	assert.Empty(t, pb.Placed())
}

func TestBracketOrder_PlaceTwiceRejected(t *testing.T) {
	o, _ := testBracket(t)

	require.NoError(t, o.Place(context.Background()))
	assert.Error(t, o.Place(context.Background()))
}

func TestBracketOrder_ModifyTargetBeforeFill(t *testing.T) {
	o, pb := testBracket(t)
	require.NoError(t, o.Place(context.Background()))

	// No exit legs exist yet, so only the stored price changes.
	require.NoError(t, o.ModifyTarget(context.Background(), 250))
	assert.Len(t, pb.Placed(), 1)
	assert.InDelta(t, 250, o.Snapshot().Target, 1e-9)

	assert.Error(t, o.ModifyTarget(context.Background(), 195))
}

func TestBracketOrder_ModifyTargetReplacesWorkingLeg(t *testing.T) {
	o, pb := testBracket(t)
	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnEntryFill(context.Background(), 200))

	require.NoError(t, o.ModifyTarget(context.Background(), 260))

	// Old target cancelled, new one placed.
	assert.Len(t, pb.Cancelled(), 1)
	placed := pb.Placed()
	require.Len(t, placed, 4)
	assert.InDelta(t, 260, placed[3].LimitPrice, 1e-9)
}

func TestBracketOrder_ModifyStopOnlyProtective(t *testing.T) {
	o, pb := testBracket(t)
	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnEntryFill(context.Background(), 200))

	// Long stop may only move up.
	assert.Error(t, o.ModifyStopLoss(context.Background(), 170))

	require.NoError(t, o.ModifyStopLoss(context.Background(), 190))
	assert.Len(t, pb.Cancelled(), 1)
	placed := pb.Placed()
	require.Len(t, placed, 4)
	assert.InDelta(t, 190, placed[3].TriggerPrice, 1e-9)
}

func TestBracketOrder_ModifyAfterCompletionRejected(t *testing.T) {
	o, _ := testBracket(t)
	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnEntryFill(context.Background(), 200))
	require.NoError(t, o.OnTargetFill(context.Background(), 240))

	assert.Error(t, o.ModifyTarget(context.Background(), 250))
	assert.Error(t, o.ModifyStopLoss(context.Background(), 195))
}

func TestBracketOrder_CancelAllIdempotent(t *testing.T) {
	o, pb := testBracket(t)
	require.NoError(t, o.Place(context.Background()))
	require.NoError(t, o.OnEntryFill(context.Background(), 200))

	require.NoError(t, o.CancelAll(context.Background()))
	assert.Equal(t, BracketCancelled, o.Status())
	assert.Len(t, pb.Cancelled(), 3)

	// Repeat calls are no-ops.
	require.NoError(t, o.CancelAll(context.Background()))
	assert.Len(t, pb.Cancelled(), 3)

	// Fills after cancellation are ignored.
	require.NoError(t, o.OnTargetFill(context.Background(), 240))
	assert.Equal(t, BracketCancelled, o.Status())
}

func TestBracketOrder_RiskReward(t *testing.T) {
	o, _ := testBracket(t)
	// Reward 40 over risk 20.
	assert.InDelta(t, 2.0, o.RiskReward(), 1e-9)

	pb := broker.NewPaperBroker()
	short, err := NewBracketOrder(pb, "NIFTY25JUN24000PE", DirectionShort, 25, 200, 170, 215)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, short.RiskReward(), 1e-9)
}

func TestBracketFromSignal(t *testing.T) {
	pb := broker.NewPaperBroker()

	o, err := BracketFromSignal(pb, "NIFTY25JUNFUT", DirectionLong, 25, 24000, 50, 2.0)
	require.NoError(t, err)
	assert.InDelta(t, 23900, o.StopLoss, 1e-9)
	assert.InDelta(t, 24200, o.Target, 1e-9)

	short, err := BracketFromSignal(pb, "NIFTY25JUNFUT", DirectionShort, 25, 24000, 50, 0)
	require.NoError(t, err)
	assert.InDelta(t, 24100, short.StopLoss, 1e-9)
	assert.InDelta(t, 23800, short.Target, 1e-9)

	_, err = BracketFromSignal(pb, "NIFTY25JUNFUT", DirectionLong, 25, 24000, 0, 2.0)
	assert.Error(t, err)
}
// interceptBroker runs a hook after each successful placement, before the
// caller regains control. Used to interleave CancelAll with in-flight legs.
type interceptBroker struct {
	*broker.PaperBroker
	onPlaced func()
}

func (b *interceptBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	ack, err := b.PaperBroker.PlaceOrder(ctx, req)
	if err == nil && b.onPlaced != nil {
		b.onPlaced()
	}
	return ack, err
}

func TestBracketOrder_CancelDuringEntryPlacement(t *testing.T) {
	pb := broker.NewPaperBroker()
	ib := &interceptBroker{PaperBroker: pb}
	o, err := NewBracketOrder(ib, "NIFTY25JUN24000CE", DirectionLong, 25, 200, 240, 180)
	require.NoError(t, err)
	ib.onPlaced = func() { require.NoError(t, o.CancelAll(context.Background())) }

	err = o.Place(context.Background())
	assert.Error(t, err)
	assert.Equal(t, BracketCancelled, o.Status())

	// CancelAll never saw the entry's order id, so Place cancels it.
	require.Len(t, pb.Placed(), 1)
	assert.Len(t, pb.Cancelled(), 1)
}

func TestBracketOrder_CancelWhilePlacingExitLegs(t *testing.T) {
	pb := broker.NewPaperBroker()
	ib := &interceptBroker{PaperBroker: pb}
	o, err := NewBracketOrder(ib, "NIFTY25JUN24000CE", DirectionLong, 25, 200, 240, 180)
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

	err = o.OnEntryFill(context.Background(), 201)
	assert.Error(t, err)
	assert.Equal(t, BracketCancelled, o.Status())

	// CancelAll cancelled the entry; the commit check cancels both
	// in-flight exit legs instead of resurrecting them.
	assert.Len(t, pb.Placed(), 3)
	assert.Len(t, pb.Cancelled(), 3)
}
