package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantro/meanrev/broker"
	"github.com/quantro/meanrev/market"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Time: t0.Add(time.Duration(i) * 5 * time.Minute),
		Open: o, High: h, Low: l, Close: c,
		Volume: 1000,
	}
}

func collectFills(b *Broker) *[]broker.Fill {
	fills := &[]broker.Fill{}
	b.OnFill(func(f broker.Fill) { *fills = append(*fills, f) })
	return fills
}

func TestMarketOrderFillsAtClose(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000.5))

	err := b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1,
	})
	require.NoError(t, err)

	require.Len(t, *fills, 1)
	f := (*fills)[0]
	assert.Equal(t, "I1", f.IntentID)
	assert.Equal(t, 5000.5, f.Price)
	assert.Equal(t, bar(0, 0, 0, 0, 0).Time, f.Time)
	assert.Empty(t, f.Reason)

	pos, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 1, pos[0].Size)
}

func TestSlippageAppliedAgainstAggressor(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0.25, StopFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))
	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))

	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1,
	}))
	assert.Equal(t, 5000.25, (*fills)[0].Price, "buyer pays up")

	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I2", Symbol: "MES", Side: broker.Sell, Size: 1,
	}))
	assert.Equal(t, 4999.75, (*fills)[1].Price, "seller receives less")
}

func TestOrderValidation(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)

	err := b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{Symbol: "MES", Side: broker.Buy, Size: 1})
	assert.ErrorIs(t, err, broker.ErrDisconnected)

	require.NoError(t, b.Connect(ctx))
	err = b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{Symbol: "ES", Side: broker.Buy, Size: 1})
	assert.ErrorIs(t, err, broker.ErrUnknownSymbol)

	err = b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{Symbol: "MES", Side: broker.Buy, Size: 1})
	assert.ErrorIs(t, err, broker.ErrRejected, "no market data yet")

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	err = b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{Symbol: "MES", Side: broker.Buy, Size: 0})
	assert.ErrorIs(t, err, broker.ErrRejected)
}

func TestStopLossOnNextBar(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1, Stop: 4990, Take: 5040,
	}))
	require.Len(t, *fills, 1)

	// Next bar trades down through the stop.
	b.UpdateBar(bar(1, 4998, 4999, 4985, 4988))

	require.Len(t, *fills, 2)
	f := (*fills)[1]
	assert.Equal(t, "StopLoss", f.Reason)
	assert.Equal(t, broker.Sell, f.Side)
	assert.Equal(t, 4990.0, f.Price)
	assert.Empty(t, f.IntentID)

	pos, _ := b.Positions(ctx)
	assert.Empty(t, pos)
}

func TestTakeProfitShort(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Sell, Size: 1, Stop: 5012, Take: 4990,
	}))

	b.UpdateBar(bar(1, 4996, 4998, 4988, 4992))

	require.Len(t, *fills, 2)
	f := (*fills)[1]
	assert.Equal(t, "TakeProfit", f.Reason)
	assert.Equal(t, broker.Buy, f.Side)
	assert.Equal(t, 4990.0, f.Price)
}

func TestStopFirstTiebreak(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1, Stop: 4995, Take: 5005,
	}))

	// A wide bar reaches both levels; StopFirst assumes the worst.
	b.UpdateBar(bar(1, 5000, 5010, 4990, 5002))

	require.Len(t, *fills, 2)
	assert.Equal(t, "StopLoss", (*fills)[1].Reason)
}

func TestTakeFirstTiebreak(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, TakeFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1, Stop: 4995, Take: 5005,
	}))

	b.UpdateBar(bar(1, 5000, 5010, 4990, 5002))

	require.Len(t, *fills, 2)
	assert.Equal(t, "TakeProfit", (*fills)[1].Reason)
}

func TestProtectiveNotEvaluatedOnEntryBar(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	fills := collectFills(b)
	require.NoError(t, b.Connect(ctx))

	// The entry bar's own range spans the stop level, but stop/take are
	// evaluated against subsequent bars only.
	b.UpdateBar(bar(0, 5000, 5005, 4985, 5000))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1, Stop: 4990,
	}))

	assert.Len(t, *fills, 1, "no protective fill on the entry bar")

	b.UpdateBar(bar(1, 5000, 5002, 4998, 5001))
	assert.Len(t, *fills, 1, "stop untouched while price holds")
}

func TestFlattenClearsPosition(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	collectFills(b)
	require.NoError(t, b.Connect(ctx))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I1", Symbol: "MES", Side: broker.Buy, Size: 1,
	}))

	b.UpdateBar(bar(1, 5001, 5003, 5000, 5002))
	require.NoError(t, b.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: "I2", Symbol: "MES", Side: broker.Sell, Size: 1,
	}))

	pos, err := b.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestSubscribeBarsForwardsAfterProtectiveEval(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)
	collectFills(b)
	require.NoError(t, b.Connect(ctx))

	assert.ErrorIs(t, b.SubscribeBars(ctx, "ES", "5m", nil), broker.ErrUnknownSymbol)

	var seen []market.Bar
	require.NoError(t, b.SubscribeBars(ctx, "MES", "5m", func(bb market.Bar) {
		seen = append(seen, bb)
	}))

	b.UpdateBar(bar(0, 5000, 5001, 4999, 5000))
	b.UpdateBar(bar(1, 5001, 5002, 5000, 5001))

	require.Len(t, seen, 2)
	assert.Equal(t, 5000.0, seen[0].Close)
	assert.True(t, b.LastBarTime().Equal(seen[1].Time))
}

func TestForcePosition(t *testing.T) {
	ctx := context.Background()
	b := New("MES", 0, StopFirst)

	b.ForcePosition("MES", -2, 5010)
	pos, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, -2, pos[0].Size)

	b.ForcePosition("MES", 0, 0)
	pos, _ = b.Positions(ctx)
	assert.Empty(t, pos)
}
