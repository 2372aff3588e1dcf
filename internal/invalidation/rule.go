// Package invalidation evaluates free-text exit invalidation conditions
// against a market snapshot.
//
// The condition language is produced by an external advisor and has no
// formal grammar. The reference evaluator therefore recognizes only the
// simple comparison shapes that actually occur — "price < 50000",
// "price above 65000", "4h rsi14 > 70" — and treats anything else as a
// condition that never triggers. Guessing semantics for an unknown
// condition could close a healthy position.
package invalidation

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Indicators is one timeframe's indicator bundle as delivered in the
// market snapshot.
type Indicators struct {
	RSI14      float64 `json:"rsi14"`
	ADX14      float64 `json:"adx14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
}

// Row is the per-symbol market view the evaluator reads: the latest
// price plus optional per-timeframe indicator bundles keyed "3m",
// "30m", "4h".
type Row struct {
	Price      float64
	Timeframes map[string]Indicators
}

// Predicate decides whether a free-text invalidation condition
// currently holds for a symbol.
type Predicate interface {
	Holds(condition, symbol string, row Row) bool
}

// RuleEvaluator is the reference Predicate. Safe for concurrent use.
type RuleEvaluator struct {
	logger zerolog.Logger

	mu     sync.Mutex
	warned map[string]struct{}
}

// NewRuleEvaluator returns the reference evaluator.
func NewRuleEvaluator(logger zerolog.Logger) *RuleEvaluator {
	return &RuleEvaluator{
		logger: logger,
		warned: make(map[string]struct{}),
	}
}

type comparison struct {
	timeframe string // "" means the default timeframe ("30m")
	metric    string // price, rsi14, adx14, macd
	op        string // "<" or ">" after normalization
	threshold float64
}

var metricAliases = map[string]string{
	"price": "price",
	"px":    "price",
	"rsi":   "rsi14",
	"rsi14": "rsi14",
	"adx":   "adx14",
	"adx14": "adx14",
	"macd":  "macd",
}

var timeframes = map[string]struct{}{"3m": {}, "30m": {}, "4h": {}}

// Holds reports whether condition is currently true. Unparseable
// conditions never trigger; the first sighting of each is logged.
func (e *RuleEvaluator) Holds(condition, symbol string, row Row) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false
	}

	cmp, ok := parse(condition)
	if !ok {
		e.warnOnce(condition, symbol)
		return false
	}

	value, ok := e.metricValue(cmp, row)
	if !ok {
		return false
	}

	if cmp.op == "<" {
		return value < cmp.threshold
	}
	return value > cmp.threshold
}

func (e *RuleEvaluator) metricValue(cmp comparison, row Row) (float64, bool) {
	if cmp.metric == "price" {
		if row.Price <= 0 {
			return 0, false
		}
		return row.Price, true
	}

	tf := cmp.timeframe
	if tf == "" {
		tf = "30m"
	}
	ind, ok := row.Timeframes[tf]
	if !ok {
		return 0, false
	}
	switch cmp.metric {
	case "rsi14":
		return ind.RSI14, true
	case "adx14":
		return ind.ADX14, true
	case "macd":
		return ind.MACD, true
	}
	return 0, false
}

func parse(condition string) (comparison, bool) {
	fields := strings.Fields(strings.ToLower(condition))

	var cmp comparison
	if len(fields) > 0 {
		if _, ok := timeframes[fields[0]]; ok {
			cmp.timeframe = fields[0]
			fields = fields[1:]
		}
	}
	if len(fields) != 3 {
		return comparison{}, false
	}

	metric, ok := metricAliases[fields[0]]
	if !ok {
		return comparison{}, false
	}
	cmp.metric = metric

	switch fields[1] {
	case "<", "<=", "below", "under":
		cmp.op = "<"
	case ">", ">=", "above", "over":
		cmp.op = ">"
	default:
		return comparison{}, false
	}

	threshold, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "%"), 64)
	if err != nil {
		return comparison{}, false
	}
	cmp.threshold = threshold
	return cmp, true
}

func (e *RuleEvaluator) warnOnce(condition, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.warned[condition]; seen {
		return
	}
	e.warned[condition] = struct{}{}
	e.logger.Warn().Str("symbol", symbol).Str("condition", condition).
		Msg("unparseable invalidation condition, treating as never-triggers")
}
