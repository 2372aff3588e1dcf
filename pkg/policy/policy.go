package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolRule describes the exchange trading rules for one symbol.
// All three fields are required; Load rejects incomplete rules so a
// missing symbol can never fall back to a silent default.
type SymbolRule struct {
	PriceTick   float64 `yaml:"price_tick" json:"price_tick"`
	LotSizeMin  float64 `yaml:"lot_size_min" json:"lot_size_min"`
	LotSizeStep float64 `yaml:"lot_size_step" json:"lot_size_step"`
}

// Config holds every account-, symbol- and trade-level threshold the
// admission engine enforces. It is loaded once at startup and never
// mutated afterwards.
type Config struct {
	// Account-level limits
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`
	MaxOpenRiskPct      float64 `yaml:"max_open_risk_pct" json:"max_open_risk_pct"`
	MaxGrossExposurePct float64 `yaml:"max_gross_exposure_pct" json:"max_gross_exposure_pct"`
	BalanceReservePct   float64 `yaml:"balance_reserve_pct" json:"balance_reserve_pct"`

	// Loss-streak protection
	MaxConsecutiveLosses int `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	GlobalCooldownSec    int `yaml:"global_cooldown_sec" json:"global_cooldown_sec"`
	// CooldownFixedSec substitutes a fixed cooldown for the adaptive
	// formula when > 0. Test harnesses only; production leaves it 0.
	CooldownFixedSec int `yaml:"cooldown_fixed_sec" json:"cooldown_fixed_sec"`

	// Symbol-level limits
	MaxSymbolExposurePct float64 `yaml:"max_symbol_exposure_pct" json:"max_symbol_exposure_pct"`
	SymbolCooldownSec    int     `yaml:"symbol_cooldown_sec" json:"symbol_cooldown_sec"`

	// Sizing
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	RiskMinPct      float64 `yaml:"risk_min_pct" json:"risk_min_pct"`
	RiskMaxPct      float64 `yaml:"risk_max_pct" json:"risk_max_pct"`
	MaxTradeRatio   float64 `yaml:"max_trade_ratio" json:"max_trade_ratio"`

	// Price protection
	MaxSlippageBps    float64 `yaml:"max_slippage_bps" json:"max_slippage_bps"`
	DeviationGuardBps float64 `yaml:"deviation_guard_bps" json:"deviation_guard_bps"`

	// Volatility band for sizing
	VolatilityLowBps  float64 `yaml:"volatility_low_bps" json:"volatility_low_bps"`
	VolatilityHighBps float64 `yaml:"volatility_high_bps" json:"volatility_high_bps"`

	// ATR proxy parameters
	ATRLookback int     `yaml:"atr_lookback" json:"atr_lookback"`
	ATRFloorBps float64 `yaml:"atr_floor_bps" json:"atr_floor_bps"`
	ATRMultStop float64 `yaml:"atr_mult_stop" json:"atr_mult_stop"`
	ATRMultTP   float64 `yaml:"atr_mult_tp" json:"atr_mult_tp"`

	// Fees
	FeeRateBps float64 `yaml:"fee_rate_bps" json:"fee_rate_bps"`

	SymbolRules map[string]SymbolRule `yaml:"symbol_rules" json:"symbol_rules"`
}

// Default returns the production baseline used when no policy file is
// supplied. Symbol rules carry the OKX spot increments for the majors.
func Default() Config {
	return Config{
		DailyLossLimitPct:    0.03,
		MaxOpenRiskPct:       0.03,
		MaxGrossExposurePct:  1.0,
		BalanceReservePct:    0.10,
		MaxConsecutiveLosses: 3,
		GlobalCooldownSec:    900,
		MaxSymbolExposurePct: 0.30,
		SymbolCooldownSec:    180,
		RiskPerTradePct:      0.005,
		RiskMinPct:           0.001,
		RiskMaxPct:           0.02,
		MaxTradeRatio:        0.30,
		MaxSlippageBps:       20,
		DeviationGuardBps:    30,
		VolatilityLowBps:     50,
		VolatilityHighBps:    200,
		ATRLookback:          14,
		ATRFloorBps:          25,
		ATRMultStop:          2.0,
		ATRMultTP:            3.0,
		FeeRateBps:           8.0,
		SymbolRules: map[string]SymbolRule{
			"BTC-USDT":  {PriceTick: 0.1, LotSizeMin: 0.0001, LotSizeStep: 0.0001},
			"ETH-USDT":  {PriceTick: 0.01, LotSizeMin: 0.001, LotSizeStep: 0.001},
			"SOL-USDT":  {PriceTick: 0.001, LotSizeMin: 0.01, LotSizeStep: 0.01},
			"BNB-USDT":  {PriceTick: 0.01, LotSizeMin: 0.01, LotSizeStep: 0.01},
			"XRP-USDT":  {PriceTick: 0.0001, LotSizeMin: 1.0, LotSizeStep: 1.0},
			"DOGE-USDT": {PriceTick: 0.00001, LotSizeMin: 1.0, LotSizeStep: 1.0},
		},
	}
}

// Load reads a policy YAML at path. An empty path returns Default().
// The loaded config is validated; startup should fail on any error
// rather than trade under a half-formed policy.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate policy file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every threshold is inside a sane range and every
// symbol rule is fully specified.
func (c Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.DailyLossLimitPct > 0 && c.DailyLossLimitPct < 1, "daily_loss_limit_pct must be in (0,1)"},
		{c.MaxOpenRiskPct > 0 && c.MaxOpenRiskPct < 1, "max_open_risk_pct must be in (0,1)"},
		{c.MaxGrossExposurePct > 0, "max_gross_exposure_pct must be > 0"},
		{c.BalanceReservePct >= 0 && c.BalanceReservePct < 1, "balance_reserve_pct must be in [0,1)"},
		{c.MaxConsecutiveLosses > 0, "max_consecutive_losses must be > 0"},
		{c.GlobalCooldownSec > 0, "global_cooldown_sec must be > 0"},
		{c.SymbolCooldownSec > 0, "symbol_cooldown_sec must be > 0"},
		{c.MaxSymbolExposurePct > 0 && c.MaxSymbolExposurePct <= 1, "max_symbol_exposure_pct must be in (0,1]"},
		{c.RiskPerTradePct > 0 && c.RiskPerTradePct < 1, "risk_per_trade_pct must be in (0,1)"},
		{c.RiskMinPct > 0 && c.RiskMinPct <= c.RiskPerTradePct, "risk_min_pct must be in (0, risk_per_trade_pct]"},
		{c.RiskMaxPct >= c.RiskPerTradePct && c.RiskMaxPct < 1, "risk_max_pct must be in [risk_per_trade_pct, 1)"},
		{c.MaxTradeRatio > 0 && c.MaxTradeRatio <= 1, "max_trade_ratio must be in (0,1]"},
		{c.DeviationGuardBps > 0, "deviation_guard_bps must be > 0"},
		{c.VolatilityLowBps > 0 && c.VolatilityLowBps < c.VolatilityHighBps, "volatility band must satisfy 0 < low < high"},
		{c.ATRLookback >= 2, "atr_lookback must be >= 2"},
		{c.ATRFloorBps > 0, "atr_floor_bps must be > 0"},
		{c.ATRMultStop > 0, "atr_mult_stop must be > 0"},
		{c.ATRMultTP > 0, "atr_mult_tp must be > 0"},
		{c.FeeRateBps >= 0, "fee_rate_bps must be >= 0"},
		{len(c.SymbolRules) > 0, "symbol_rules must not be empty"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%s", chk.msg)
		}
	}

	for sym, rule := range c.SymbolRules {
		if rule.PriceTick <= 0 || rule.LotSizeMin <= 0 || rule.LotSizeStep <= 0 {
			return fmt.Errorf("symbol rule %s: price_tick, lot_size_min and lot_size_step must all be > 0", sym)
		}
	}
	return nil
}

// Rule returns the trading rule for symbol. The second result is false
// when the symbol is not configured; callers must reject, not default.
func (c Config) Rule(symbol string) (SymbolRule, bool) {
	r, ok := c.SymbolRules[symbol]
	return r, ok
}
