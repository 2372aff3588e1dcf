package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	raw := `
daily_loss_limit_pct: 0.05
symbol_cooldown_sec: 60
symbol_rules:
  BTC-USDT:
    price_tick: 0.5
    lot_size_min: 0.001
    lot_size_step: 0.001
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.DailyLossLimitPct)
	assert.Equal(t, 60, cfg.SymbolCooldownSec)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().RiskPerTradePct, cfg.RiskPerTradePct)
	assert.Equal(t, Default().FeeRateBps, cfg.FeeRateBps)

	rule, ok := cfg.Rule("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, 0.5, rule.PriceTick)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daily_loss_limit_pct: 1.5\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "daily_loss_limit_pct")
}

func TestValidateRejectsIncompleteSymbolRule(t *testing.T) {
	cfg := Default()
	cfg.SymbolRules["PEPE-USDT"] = SymbolRule{PriceTick: 0.0001}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "PEPE-USDT")
}

func TestValidateRejectsInconsistentRiskBand(t *testing.T) {
	cfg := Default()
	cfg.RiskMinPct = 0.01
	cfg.RiskPerTradePct = 0.005

	assert.Error(t, cfg.Validate())
}

func TestRuleLookup(t *testing.T) {
	cfg := Default()

	_, ok := cfg.Rule("BTC-USDT")
	assert.True(t, ok)

	_, ok = cfg.Rule("UNKNOWN-USDT")
	assert.False(t, ok)
}
