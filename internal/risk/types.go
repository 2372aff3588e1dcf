package risk

import (
	"risk-core/internal/invalidation"
)

// Sides and order types accepted on a Decision.
const (
	SideBuy  = "buy"
	SideSell = "sell"
	SideHold = "hold"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Rejection reason tokens. These are the audit trail: stable, grep-able
// strings that tests and operators match on. Reasons that carry a
// variable part (remaining cooldown seconds, deviation bps) prefix with
// the token below.
const (
	ReasonOK                 = "ok"
	ReasonHold               = "hold"
	ReasonInvalidSide        = "invalid side"
	ReasonMissingSymbol      = "missing symbol"
	ReasonSymbolUnconfigured = "symbol not configured"
	ReasonPriceUnavailable   = "price unavailable"
	ReasonEquityUnavailable  = "equity unavailable"
	ReasonExtremeSignal      = "extreme signal"
	ReasonKillSwitch         = "kill-switch"
	ReasonInvalidation       = "invalidation triggered"
	ReasonGlobalCooldown     = "global cooldown"
	ReasonSymbolCooldown     = "symbol cooldown"
	ReasonLimitDeviation     = "limit price deviates"
	ReasonBelowMinLot        = "size below minimum lot"
	ReasonRawRTooLow         = "raw R too low"
	ReasonEffectiveRTooLow   = "effective R after fees too low"
	ReasonOpenRiskExceeded   = "open risk exceeds cap"
)

// RiskParams is the advisor-supplied stop/target pair, both expressed
// as fractions of entry price.
type RiskParams struct {
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// ExitPlan carries the advisor's free-text invalidation condition. The
// engine never parses it; it passes through to the injected predicate.
type ExitPlan struct {
	InvalidationCondition string `json:"invalidation_condition"`
}

// Decision is one proposed trade as delivered by the signal source.
// Optional numeric fields use pointers so "absent" and "zero" stay
// distinguishable.
type Decision struct {
	Symbol     string      `json:"symbol"`
	Side       string      `json:"side"`
	OrderType  string      `json:"order_type"`
	LimitPrice *float64    `json:"limit_price,omitempty"`
	Size       *float64    `json:"size,omitempty"`
	Leverage   *float64    `json:"leverage,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	Risk       *RiskParams `json:"risk,omitempty"`
	ExitPlan   *ExitPlan   `json:"exit_plan,omitempty"`
}

// ConfidenceOr returns the decision confidence or def when absent.
func (d Decision) ConfidenceOr(def float64) float64 {
	if d.Confidence == nil {
		return def
	}
	return *d.Confidence
}

// MarketRow is one symbol's snapshot: the latest price, optional 24h
// extremes, and optional per-timeframe indicator bundles keyed "3m",
// "30m", "4h". Indicators feed only the extreme-signal veto and the
// invalidation predicate.
type MarketRow struct {
	Price      float64                            `json:"price"`
	High24h    float64                            `json:"high24h,omitempty"`
	Low24h     float64                            `json:"low24h,omitempty"`
	Timeframes map[string]invalidation.Indicators `json:"tf,omitempty"`
}

// MarketSnapshot maps symbol to its current row.
type MarketSnapshot map[string]MarketRow

// Balance is the account's available funds by asset. Sizing spends the
// quote asset (USDT).
type Balance struct {
	Available map[string]float64 `json:"available"`
}

// AvailableUSDT returns the spendable quote balance.
func (b Balance) AvailableUSDT() float64 {
	return b.Available["USDT"]
}

// Order is an admitted, tick/lot-aligned order ready for the execution
// layer. LimitPrice is set only for limit orders.
type Order struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	OrderType  string   `json:"order_type"`
	Size       float64  `json:"size"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
}

// Verdict is the engine's answer for one Decision.
type Verdict struct {
	Admitted bool   `json:"admitted"`
	Order    *Order `json:"order,omitempty"`
	Reason   string `json:"reason"`
}

// Fill reports a confirmed execution back to the engine.
type Fill struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// StateSummary is the read-only observability snapshot.
type StateSummary struct {
	TradingDay        string   `json:"trading_day"`
	Equity            float64  `json:"equity"`
	DayOpenEquity     float64  `json:"day_open_equity"`
	RealizedPnLToday  float64  `json:"realized_pnl_today"`
	DrawdownPct       float64  `json:"drawdown_pct"`
	ConsecutiveLosses int      `json:"consecutive_losses"`
	ConsecutiveWins   int      `json:"consecutive_wins"`
	OpenPositions     int      `json:"open_positions"`
	SymbolsOnCooldown []string `json:"symbols_on_cooldown"`
}

// EquityProvider returns the current mark-to-market account equity
// including unrealized P&L. Implementations return 0 on failure; the
// engine treats that as a precondition rejection, never a crash.
type EquityProvider interface {
	Equity() float64
}

// PriceProvider returns the latest price for a symbol, 0 when unknown.
type PriceProvider interface {
	Price(symbol string) float64
}

// EquityFunc adapts a plain function to EquityProvider.
type EquityFunc func() float64

func (f EquityFunc) Equity() float64 { return f() }

// PriceFunc adapts a plain function to PriceProvider.
type PriceFunc func(symbol string) float64

func (f PriceFunc) Price(symbol string) float64 { return f(symbol) }
