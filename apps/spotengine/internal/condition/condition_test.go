package condition

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
)

func usd(s string) *big.Int {
	v, err := units.ParseUnits(s, units.PrecisionDecimals)
	if err != nil {
		panic(err)
	}
	return v
}

func rising(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := float64(i + 1)
		out[i] = model.Candle{Timestamp: int64(i * 60), Open: p, High: p + 0.5, Low: p - 0.5, Close: p, Volume: 1}
	}
	return out
}

func TestEntryPriceThreshold(t *testing.T) {
	e := NewEvaluator(Standard{}, zap.NewNop())
	order := &model.Order{Entry: model.Entry{PriceThreshold: usd("1.25")}}

	tests := []struct {
		price string
		met   bool
	}{
		{"1.2", true},
		{"1.25", false},
		{"2", false},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			d := e.Entry(order, model.TokenSnapshot{PriceUSD: tt.price}, nil)
			assert.Equal(t, tt.met, d.Met)
			assert.Equal(t, KindPrice, d.Kind)
		})
	}

	d := e.Entry(&model.Order{}, model.TokenSnapshot{PriceUSD: "1"}, nil)
	assert.False(t, d.Met)
	assert.Equal(t, ReasonNoCondition, d.Reason)
}

func TestExitTakeProfitBeforeStopLoss(t *testing.T) {
	e := NewEvaluator(Standard{}, zap.NewNop())
	order := &model.Order{Exit: model.Exit{
		TakeProfit: model.TakeProfit{Price: usd("2")},
		StopLoss:   model.StopLoss{Price: usd("1"), IsActive: true},
	}}

	tests := []struct {
		name  string
		price string
		met   bool
		kind  Kind
	}{
		{"above take profit", "2.5", true, KindTakeProfit},
		{"between", "1.5", false, KindStopLoss},
		{"below stop loss", "0.9", true, KindStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Exit(order, model.TokenSnapshot{PriceUSD: tt.price}, nil)
			assert.Equal(t, tt.met, d.Met)
			assert.Equal(t, tt.kind, d.Kind)
		})
	}

	order.Exit.StopLoss.IsActive = false
	d := e.Exit(order, model.TokenSnapshot{PriceUSD: "0.5"}, nil)
	assert.False(t, d.Met)
	assert.Equal(t, ReasonTakeProfitNotMet, d.Reason)
}

func TestTechnicalNeedsCandles(t *testing.T) {
	e := NewEvaluator(Standard{}, zap.NewNop())
	order := &model.Order{Entry: model.Entry{IsTechnical: true, Logic: &model.Logic{Field: FieldHolders, Comparator: GreaterThan, Value: 1}}}

	d := e.Entry(order, model.TokenSnapshot{Holders: 10}, nil)
	assert.False(t, d.Met)
	assert.Equal(t, ReasonCandlesMissing, d.Reason)

	d = e.Entry(order, model.TokenSnapshot{Holders: 10}, model.CandleSet{})
	assert.True(t, d.Met)
}

func TestEvaluateTree(t *testing.T) {
	e := NewEvaluator(Standard{}, zap.NewNop())
	snap := model.TokenSnapshot{PriceUSD: "3", Liquidity: "50000", Holders: 200}
	candles := model.CandleSet{"1": rising(40), "60": rising(40)}

	liquid := model.Logic{Field: FieldLiquidity, Comparator: GreaterThanOrEqual, Value: 50000}
	fewHolders := model.Logic{Field: FieldHolders, Comparator: LessThan, Value: 100}
	uptrend := model.Logic{Field: "SMA", Resolution: "1", Period: 5, Comparator: GreaterThan, Value: 30}
	unknown := model.Logic{Field: "Nope", Comparator: GreaterThan, Value: 0}

	tests := []struct {
		name  string
		logic model.Logic
		want  bool
	}{
		{"leaf", liquid, true},
		{"and short-circuits", model.Logic{Op: OpAnd, Children: []model.Logic{liquid, fewHolders}}, false},
		{"or", model.Logic{Op: OpOr, Children: []model.Logic{fewHolders, uptrend}}, true},
		{"unknown indicator is false", unknown, false},
		{"nested", model.Logic{Op: OpAnd, Children: []model.Logic{
			liquid,
			{Op: OpOr, Children: []model.Logic{unknown, uptrend}},
		}}, true},
		{"empty and", model.Logic{Op: OpAnd}, true},
		{"empty or", model.Logic{Op: OpOr}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(&tt.logic, snap, candles))
		})
	}
}

func TestPriceLeafFallsBackToLastClose(t *testing.T) {
	e := NewEvaluator(Standard{}, zap.NewNop())
	leaf := &model.Logic{Field: FieldPrice, Comparator: Equal, Value: 40}
	assert.True(t, e.Evaluate(leaf, model.TokenSnapshot{}, model.CandleSet{"1": rising(40)}))
}

func TestResample(t *testing.T) {
	set := model.CandleSet{"1": rising(10)}

	bars, ok := Resample(set, "5")
	require.True(t, ok)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Open)
	assert.Equal(t, 5.0, bars[0].Close)
	assert.Equal(t, 5.5, bars[0].High)
	assert.Equal(t, 0.5, bars[0].Low)
	assert.Equal(t, 5.0, bars[0].Volume)
	assert.Equal(t, int64(300), bars[1].Timestamp)

	_, ok = Resample(set, "240")
	assert.False(t, ok)

	bars, ok = Resample(set, "")
	require.True(t, ok)
	assert.Len(t, bars, 10)
}

func TestStandardIndicators(t *testing.T) {
	bars := rising(40)

	v, ok := Standard{}.Indicator("SMA", bars, 5)
	require.True(t, ok)
	assert.InDelta(t, 38.0, v, 1e-9)

	v, ok = Standard{}.Indicator("RSI", bars, 14)
	require.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-9)

	v, ok = Standard{}.Indicator("WilliamsR", bars, 14)
	require.True(t, ok)
	assert.InDelta(t, -0.5/14*100, v, 1e-9)

	_, ok = Standard{}.Indicator("SMA", rising(10), 5)
	assert.False(t, ok, "too few candles")

	upper, ok := Standard{}.Indicator("BollingerBands.Upper", bars, 0)
	require.True(t, ok)
	lower, ok := Standard{}.Indicator("BollingerBands.Lower", bars, 0)
	require.True(t, ok)
	assert.Greater(t, upper, lower)

	line, ok := Standard{}.Indicator("MACD", bars, 0)
	require.True(t, ok)
	assert.Greater(t, line, 0.0)
}
