// Package risk implements the admission-control engine: an ordered
// pipeline of gates that admits, resizes or rejects proposed trades,
// plus the post-fill bookkeeping that feeds the next decision.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"risk-core/internal/invalidation"
	"risk-core/internal/state"
	"risk-core/internal/volatility"
	"risk-core/pkg/policy"
)

// Default signal confidence assumed when the advisor omits the field.
const defaultConfidence = 0.7

// Extreme-signal veto thresholds on the short timeframe. A reading
// beyond these bypasses every downstream score and rejects outright.
const (
	extremeRSIHigh = 90.0
	extremeRSILow  = 10.0
	extremeADX     = 80.0
)

const shortTimeframe = "3m"

// Engine evaluates decisions against policy and persisted state. One
// mutex serializes Evaluate and RecordFill: the contract is
// single-writer and the lock makes that safe even if two callers race.
type Engine struct {
	mu sync.Mutex

	cfg    policy.Config
	store  *state.Store
	vol    *volatility.Estimator
	equity EquityProvider
	prices PriceProvider
	pred   invalidation.Predicate
	logger zerolog.Logger
	now    func() time.Time
}

// Options bundles the engine's injected collaborators.
type Options struct {
	Policy       policy.Config
	Store        *state.Store
	Volatility   *volatility.Estimator
	Equity       EquityProvider
	Prices       PriceProvider
	Invalidation invalidation.Predicate
	Logger       zerolog.Logger
	Now          func() time.Time // test hook; defaults to time.Now
}

// NewEngine wires an Engine from its collaborators. Equity and the
// store are mandatory; Prices and Invalidation may be nil, in which
// case held positions are marked at their average price and
// invalidation conditions never trigger.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("risk engine: state store is required")
	}
	if opts.Equity == nil {
		return nil, fmt.Errorf("risk engine: equity provider is required")
	}
	if opts.Volatility == nil {
		opts.Volatility = volatility.New(volatility.DefaultCapacity, opts.Policy.ATRLookback, opts.Policy.ATRFloorBps)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		cfg:    opts.Policy,
		store:  opts.Store,
		vol:    opts.Volatility,
		equity: opts.Equity,
		prices: opts.Prices,
		pred:   opts.Invalidation,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// PushPrice feeds one price observation into the volatility estimator.
// Callers push independently of evaluation calls.
func (e *Engine) PushPrice(symbol string, price float64) {
	e.vol.Push(symbol, price)
}

// Policy returns the immutable policy the engine runs under.
func (e *Engine) Policy() policy.Config {
	return e.cfg
}

func reject(reason string) Verdict {
	return Verdict{Admitted: false, Reason: reason}
}

// Evaluate runs the gate pipeline over one decision. It short-circuits
// on the first failing gate and returns a verdict whose reason is a
// stable token; it never returns an error for a rejected trade.
func (e *Engine) Evaluate(dec Decision, market MarketSnapshot, balance Balance) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Gate 1: structural validation.
	switch dec.Side {
	case SideHold:
		return reject(ReasonHold)
	case SideBuy, SideSell:
	default:
		return reject(ReasonInvalidSide)
	}
	if dec.Symbol == "" {
		return reject(ReasonMissingSymbol)
	}
	rule, ok := e.cfg.Rule(dec.Symbol)
	if !ok {
		return reject(ReasonSymbolUnconfigured)
	}
	orderType := dec.OrderType
	if orderType == "" {
		orderType = OrderTypeMarket
	}

	// Gate 2: market-data precondition.
	row, ok := market[dec.Symbol]
	if !ok || row.Price <= 0 {
		return reject(ReasonPriceUnavailable)
	}
	px := row.Price

	// Gate 3: equity precondition.
	equity := e.equity.Equity()
	if equity <= 0 {
		return reject(ReasonEquityUnavailable)
	}

	st := e.store.State()
	e.store.RolloverIfNewDay(equity)

	// Gate 4: extreme-signal veto, independent of any scoring below.
	if ind, ok := row.Timeframes[shortTimeframe]; ok {
		if ind.RSI14 > extremeRSIHigh || (ind.RSI14 > 0 && ind.RSI14 < extremeRSILow) || ind.ADX14 > extremeADX {
			return reject(fmt.Sprintf("%s: 3m rsi=%.1f adx=%.1f", ReasonExtremeSignal, ind.RSI14, ind.ADX14))
		}
	}

	// Gate 5: daily kill switch.
	drawdown := (equity - st.DayOpenEquity) / math.Max(st.DayOpenEquity, 1e-9)
	if drawdown <= -e.cfg.DailyLossLimitPct {
		return reject(fmt.Sprintf("%s: daily loss %.2f%%", ReasonKillSwitch, drawdown*100))
	}

	// Gate 6: exit-plan invalidation, before any cooldown bookkeeping.
	if e.pred != nil && dec.ExitPlan != nil && dec.ExitPlan.InvalidationCondition != "" {
		irow := invalidation.Row{Price: px, Timeframes: row.Timeframes}
		if e.pred.Holds(dec.ExitPlan.InvalidationCondition, dec.Symbol, irow) {
			return reject(ReasonInvalidation)
		}
	}

	confidence := dec.ConfidenceOr(defaultConfidence)
	volBps := e.vol.EstimateBps(dec.Symbol)
	volPct := volBps * 1e-4

	// Gate 7: global loss-streak cooldown with conditional early unlock.
	if st.ConsecutiveLosses >= e.cfg.MaxConsecutiveLosses {
		required := e.cfg.CooldownFixedSec
		if required <= 0 {
			required = RequiredCooldown(st.ConsecutiveLosses, math.Abs(drawdown), volPct, confidence)
		}
		if lastTS := st.LastTradeAny(); lastTS > 0 {
			elapsed := e.now().Unix() - lastTS
			if elapsed < int64(required) {
				if !CanUnlockEarly(volPct, confidence) {
					remaining := int64(required) - elapsed
					return reject(fmt.Sprintf("%s, remaining %ds", ReasonGlobalCooldown, remaining))
				}
				// Market calmed and the signal is confident: lift the
				// streak instead of waiting out the clock.
				st.ConsecutiveLosses = 0
				if err := e.store.Save(); err != nil {
					e.logger.Error().Err(err).Msg("persist early unlock failed")
				}
				e.logger.Info().Str("symbol", dec.Symbol).
					Float64("volatility_pct", volPct).Float64("confidence", confidence).
					Msg("loss-streak cooldown lifted early")
			}
		}
	}

	// Gate 8: per-symbol cooldown.
	if lastTS := st.LastTradeTS[dec.Symbol]; lastTS > 0 {
		if e.now().Unix()-lastTS < int64(e.cfg.SymbolCooldownSec) {
			return reject(fmt.Sprintf("%s %s", ReasonSymbolCooldown, dec.Symbol))
		}
	}

	// Gate 9: limit-price deviation guard.
	var limitPx *float64
	if orderType == OrderTypeLimit && dec.LimitPrice != nil && *dec.LimitPrice > 0 {
		aligned := AlignPrice(*dec.LimitPrice, rule)
		devBps := math.Abs(aligned-px) / px * 1e4
		if devBps > e.cfg.DeviationGuardBps {
			return reject(fmt.Sprintf("%s %.1fbps > %.0fbps guard", ReasonLimitDeviation, devBps, e.cfg.DeviationGuardBps))
		}
		limitPx = &aligned
	}

	// Gate 10: spendable balance and exposure caps.
	reserve := e.cfg.BalanceReservePct * equity
	spendable := math.Max(0, balance.AvailableUSDT()-reserve)

	// Gate 11: stop distance, advisor-supplied or volatility-derived.
	var stopPct float64
	if dec.Risk != nil && dec.Risk.StopLossPct > 0 {
		stopPct = dec.Risk.StopLossPct
	} else {
		stopPct = e.cfg.ATRMultStop * math.Max(e.cfg.ATRFloorBps, volBps) * 1e-4
	}

	// Gate 12: position sizing.
	budget := RiskBudget(e.cfg, confidence, volBps, st.ConsecutiveLosses, st.ConsecutiveWins, equity)
	caps := []float64{
		e.cfg.MaxSymbolExposurePct * equity / px,
		e.cfg.MaxTradeRatio * equity / px,
		spendable / (px * (1 + e.cfg.FeeRateBps*1e-4)),
	}
	size, ok := SizeFromBudget(budget, stopPct*px, dec.Size, caps, rule)
	if !ok {
		return reject(fmt.Sprintf("%s: %.8f < %.8f", ReasonBelowMinLot, size, rule.LotSizeMin))
	}

	// Gate 13: reward/risk screen, raw then net of round-trip fees.
	if dec.Risk != nil && dec.Risk.StopLossPct > 0 && dec.Risk.TakeProfitPct > 0 {
		rawR := dec.Risk.TakeProfitPct / dec.Risk.StopLossPct
		if rawR < 1.5 {
			return reject(fmt.Sprintf("%s: %.2f < 1.5", ReasonRawRTooLow, rawR))
		}
		roundTripFee := 2 * e.cfg.FeeRateBps * 1e-4
		effectiveR := (dec.Risk.TakeProfitPct - roundTripFee) / (dec.Risk.StopLossPct + roundTripFee)
		if effectiveR < 1.0 {
			return reject(fmt.Sprintf("%s: %.2f < 1.0", ReasonEffectiveRTooLow, effectiveR))
		}
	}

	// Gate 14: aggregate open-risk cap across the whole book.
	openRisk := e.openRiskAfter(st, dec.Symbol, size, px, stopPct)
	if openRisk > e.cfg.MaxOpenRiskPct*equity {
		return reject(ReasonOpenRiskExceeded)
	}

	order := &Order{
		Symbol:     dec.Symbol,
		Side:       dec.Side,
		OrderType:  orderType,
		Size:       size,
		LimitPrice: limitPx,
	}
	return Verdict{Admitted: true, Order: order, Reason: ReasonOK}
}

// openRiskAfter sums the proposed trade's notional risk with the
// estimated risk of every other open position, each marked at the
// latest price when a provider is wired and stopped at the
// volatility-derived proxy.
func (e *Engine) openRiskAfter(st *state.EngineState, symbol string, size, px, stopPct float64) float64 {
	total := size * px * stopPct

	for sym, pos := range st.OpenPositions {
		if sym == symbol {
			continue
		}
		qty := math.Abs(pos.Qty)
		mark := pos.AvgPrice
		if e.prices != nil {
			if latest := e.prices.Price(sym); latest > 0 {
				mark = latest
			}
		}
		if qty <= 0 || mark <= 0 {
			continue
		}
		posStopPct := e.cfg.ATRMultStop * math.Max(e.cfg.ATRFloorBps, e.vol.EstimateBps(sym)) * 1e-4
		total += qty * mark * posStopPct
	}
	return total
}

// RecordFill applies a confirmed execution: trade timestamps, realized
// P&L, the win/loss streaks (mutually exclusive), the volume-weighted
// position book and the symbol exposure, then persists synchronously.
// A persist failure is returned and must be treated as fatal by the
// caller — continuing with state that diverges from disk risks
// double-risking the account.
func (e *Engine) RecordFill(fill Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fill.Symbol == "" || fill.Size <= 0 || fill.Price <= 0 {
		return fmt.Errorf("record fill: invalid fill %+v", fill)
	}
	side := fill.Side
	if side != SideBuy && side != SideSell {
		return fmt.Errorf("record fill: invalid side %q", side)
	}

	st := e.store.State()
	e.store.RolloverIfNewDay(e.equity.Equity())

	st.LastTradeTS[fill.Symbol] = e.now().Unix()
	st.RealizedPnLToday += fill.RealizedPnL

	switch {
	case fill.RealizedPnL < 0:
		st.ConsecutiveLosses++
		st.ConsecutiveWins = 0
	case fill.RealizedPnL > 0:
		st.ConsecutiveWins++
		st.ConsecutiveLosses = 0
	}

	e.applyToBook(st, fill, side)
	st.SymbolExposure[fill.Symbol] = math.Abs(fill.Size * fill.Price)

	if err := e.store.Save(); err != nil {
		return fmt.Errorf("persist state after fill: %w", err)
	}

	e.logger.Info().Str("symbol", fill.Symbol).Str("side", side).
		Float64("size", fill.Size).Float64("price", fill.Price).
		Float64("realized_pnl", fill.RealizedPnL).
		Int("consecutive_losses", st.ConsecutiveLosses).
		Int("consecutive_wins", st.ConsecutiveWins).
		Msg("fill recorded")
	return nil
}

// applyToBook merges one fill into the position book. Same-side fills
// average in at volume weights; opposite-side fills reduce, and a fill
// that crosses through flat flips the side with the remainder at the
// fill price. A position reduced to zero is removed.
func (e *Engine) applyToBook(st *state.EngineState, fill Fill, side string) {
	pos, exists := st.OpenPositions[fill.Symbol]
	if !exists {
		st.OpenPositions[fill.Symbol] = state.Position{Side: side, Qty: fill.Size, AvgPrice: fill.Price}
		return
	}

	if pos.Side == side {
		totalQty := pos.Qty + fill.Size
		pos.AvgPrice = (pos.Qty*pos.AvgPrice + fill.Size*fill.Price) / totalQty
		pos.Qty = totalQty
		st.OpenPositions[fill.Symbol] = pos
		return
	}

	switch {
	case fill.Size < pos.Qty:
		pos.Qty -= fill.Size
		st.OpenPositions[fill.Symbol] = pos
	case fill.Size == pos.Qty:
		delete(st.OpenPositions, fill.Symbol)
	default:
		st.OpenPositions[fill.Symbol] = state.Position{
			Side:     side,
			Qty:      fill.Size - pos.Qty,
			AvgPrice: fill.Price,
		}
	}
}

// StateSummary returns the read-only observability snapshot.
func (e *Engine) StateSummary() StateSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.store.State()
	equity := e.equity.Equity()

	var drawdownPct float64
	if st.DayOpenEquity > 0 {
		drawdownPct = (equity - st.DayOpenEquity) / st.DayOpenEquity * 100
	}

	nowTS := e.now().Unix()
	cooling := make([]string, 0)
	for sym, ts := range st.LastTradeTS {
		if nowTS-ts < int64(e.cfg.SymbolCooldownSec) {
			cooling = append(cooling, sym)
		}
	}

	return StateSummary{
		TradingDay:        st.TradingDay,
		Equity:            equity,
		DayOpenEquity:     st.DayOpenEquity,
		RealizedPnLToday:  st.RealizedPnLToday,
		DrawdownPct:       drawdownPct,
		ConsecutiveLosses: st.ConsecutiveLosses,
		ConsecutiveWins:   st.ConsecutiveWins,
		OpenPositions:     len(st.OpenPositions),
		SymbolsOnCooldown: cooling,
	}
}
