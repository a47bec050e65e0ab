// Package condition decides whether an order's entry or exit condition holds for the
// current market snapshot.
package condition

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
)

type Kind string

const (
	KindNone       Kind = "none"
	KindPrice      Kind = "price"
	KindTechnical  Kind = "technical"
	KindTakeProfit Kind = "take_profit"
	KindStopLoss   Kind = "stop_loss"
)

// Reason codes reported with a Decision.
const (
	ReasonNoCondition      = "NO_CONDITION_MET"
	ReasonCandlesMissing   = "CANDLE_DATA_MISSING"
	ReasonTechnicalMet     = "TECHNICAL_CONDITION_MET"
	ReasonTechnicalNotMet  = "TECHNICAL_CONDITION_NOT_MET"
	ReasonPriceMet         = "PRICE_CONDITION_MET"
	ReasonPriceNotMet      = "PRICE_CONDITION_NOT_MET"
	ReasonPriceInvalid     = "PRICE_EVALUATION_ERROR"
	ReasonTakeProfitMet    = "TAKE_PROFIT_CONDITION_MET"
	ReasonTakeProfitNotMet = "TAKE_PROFIT_NOT_MET"
	ReasonStopLossMet      = "STOP_LOSS_CONDITION_MET"
	ReasonStopLossNotMet   = "STOP_LOSS_NOT_MET"
)

type Decision struct {
	Met    bool
	Kind   Kind
	Reason string
}

// Group operators and leaf comparators of a logic tree.
const (
	OpAnd = "AND"
	OpOr  = "OR"

	GreaterThan        = "GREATER_THAN"
	LessThan           = "LESS_THAN"
	GreaterThanOrEqual = "GREATER_THAN_OR_EQUAL"
	LessThanOrEqual    = "LESS_THAN_OR_EQUAL"
	Equal              = "EQUAL"
	NotEqual           = "NOT_EQUAL"
)

// Market fields read straight from the token snapshot.
const (
	FieldPrice     = "Price"
	FieldLiquidity = "Liquidity"
	FieldHolders   = "Holders"
)

const equalityTolerance = 0.00001

// IndicatorSource computes an indicator value over candles. ok is false when there is
// not enough data or the indicator is unknown.
type IndicatorSource interface {
	Indicator(name string, candles []model.Candle, period int) (value float64, ok bool)
}

type Evaluator struct {
	indicators IndicatorSource
	logger     *zap.Logger
}

func NewEvaluator(indicators IndicatorSource, logger *zap.Logger) *Evaluator {
	return &Evaluator{indicators: indicators, logger: logger}
}

// Entry evaluates a BUY order. Technical entries need candles; price entries fire when
// the token trades below the threshold.
func (e *Evaluator) Entry(o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) Decision {
	if o.Entry.IsTechnical {
		return e.technicalDecision(o.Entry.Logic, snap, candles)
	}
	if !units.IsPositive(o.Entry.PriceThreshold) {
		return Decision{Kind: KindNone, Reason: ReasonNoCondition}
	}
	price, err := SnapshotPrice(snap)
	if err != nil {
		return Decision{Kind: KindPrice, Reason: ReasonPriceInvalid}
	}
	if price.Cmp(o.Entry.PriceThreshold) < 0 {
		return Decision{Met: true, Kind: KindPrice, Reason: ReasonPriceMet}
	}
	return Decision{Kind: KindPrice, Reason: ReasonPriceNotMet}
}

// Exit evaluates a SELL order. Take profit is checked first; stop loss only when it is
// active and take profit did not fire.
func (e *Evaluator) Exit(o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) Decision {
	if o.Exit.IsTechnicalExit {
		return e.technicalDecision(o.Exit.Logic, snap, candles)
	}

	tp := o.Exit.TakeProfit.Price
	sl := o.Exit.StopLoss.Price
	slActive := o.Exit.StopLoss.IsActive && units.IsPositive(sl)
	if !units.IsPositive(tp) && !slActive {
		return Decision{Kind: KindNone, Reason: ReasonNoCondition}
	}

	price, err := SnapshotPrice(snap)
	if err != nil {
		return Decision{Kind: KindPrice, Reason: ReasonPriceInvalid}
	}

	d := Decision{Kind: KindNone, Reason: ReasonNoCondition}
	if units.IsPositive(tp) {
		if price.Cmp(tp) > 0 {
			return Decision{Met: true, Kind: KindTakeProfit, Reason: ReasonTakeProfitMet}
		}
		d = Decision{Kind: KindTakeProfit, Reason: ReasonTakeProfitNotMet}
	}
	if slActive {
		if price.Cmp(sl) < 0 {
			return Decision{Met: true, Kind: KindStopLoss, Reason: ReasonStopLossMet}
		}
		d = Decision{Kind: KindStopLoss, Reason: ReasonStopLossNotMet}
	}
	return d
}

func (e *Evaluator) technicalDecision(logic *model.Logic, snap model.TokenSnapshot, candles model.CandleSet) Decision {
	if logic == nil {
		return Decision{Kind: KindTechnical, Reason: ReasonNoCondition}
	}
	if candles == nil {
		return Decision{Kind: KindTechnical, Reason: ReasonCandlesMissing}
	}
	if e.Evaluate(logic, snap, candles) {
		return Decision{Met: true, Kind: KindTechnical, Reason: ReasonTechnicalMet}
	}
	return Decision{Kind: KindTechnical, Reason: ReasonTechnicalNotMet}
}

// Evaluate walks the tree. AND stops at the first false child and OR at the first true
// one. A leaf whose value cannot be computed is false.
func (e *Evaluator) Evaluate(logic *model.Logic, snap model.TokenSnapshot, candles model.CandleSet) bool {
	if logic == nil {
		return false
	}
	switch logic.Op {
	case OpAnd:
		for i := range logic.Children {
			if !e.Evaluate(&logic.Children[i], snap, candles) {
				return false
			}
		}
		return true
	case OpOr:
		for i := range logic.Children {
			if e.Evaluate(&logic.Children[i], snap, candles) {
				return true
			}
		}
		return false
	}

	value, ok := e.leafValue(logic, snap, candles)
	if !ok {
		return false
	}
	return compare(value, logic.Comparator, logic.Value)
}

func (e *Evaluator) leafValue(leaf *model.Logic, snap model.TokenSnapshot, candles model.CandleSet) (float64, bool) {
	switch leaf.Field {
	case FieldLiquidity:
		return parseFloat(snap.Liquidity)
	case FieldHolders:
		return float64(snap.Holders), true
	case FieldPrice:
		if v, ok := parseFloat(snap.PriceUSD); ok {
			return v, true
		}
	}

	series, ok := Resample(candles, leaf.Resolution)
	if !ok {
		return 0, false
	}
	if leaf.Field == FieldPrice {
		if len(series) == 0 {
			return 0, false
		}
		return series[len(series)-1].Close, true
	}
	if e.indicators == nil {
		return 0, false
	}
	v, ok := e.indicators.Indicator(leaf.Field, series, leaf.Period)
	if ok && e.logger != nil {
		e.logger.Debug("Computed indicator",
			zap.String("indicator", leaf.Field),
			zap.String("resolution", leaf.Resolution),
			zap.Float64("value", v))
	}
	return v, ok
}

func compare(actual float64, comparator string, expected float64) bool {
	if math.IsNaN(actual) || math.IsNaN(expected) {
		return false
	}
	switch comparator {
	case GreaterThan:
		return actual > expected
	case LessThan:
		return actual < expected
	case GreaterThanOrEqual:
		return actual >= expected
	case LessThanOrEqual:
		return actual <= expected
	case Equal:
		return math.Abs(actual-expected) < equalityTolerance
	case NotEqual:
		return math.Abs(actual-expected) >= equalityTolerance
	}
	return false
}

// SnapshotPrice returns the snapshot's USD price scaled by units.PrecisionDecimals.
func SnapshotPrice(snap model.TokenSnapshot) (*big.Int, error) {
	if snap.PriceUSD == "" {
		return new(big.Int), nil
	}
	return units.ParseUnits(snap.PriceUSD, units.PrecisionDecimals)
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	v, _ := d.Float64()
	return v, true
}
