// Package state owns the persisted per-account engine state: day
// boundary equity, realized P&L, win/loss streaks, last-trade
// timestamps and the open position book.
//
// The snapshot is a human-readable JSON file so an operator can hand
// edit it (for example to clear a loss streak) while the process is
// stopped. Writes go through a temp file and a rename so a crash
// mid-write can never leave a truncated snapshot behind.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Position is one open position as tracked by the engine.
type Position struct {
	Side     string  `json:"side"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// EngineState is the mutable record behind the admission engine. The
// two streak counters are mutually exclusive: incrementing one resets
// the other to zero.
type EngineState struct {
	TradingDay        string              `json:"trading_day"`
	DayOpenEquity     float64             `json:"day_open_equity"`
	RealizedPnLToday  float64             `json:"realized_pnl_today"`
	ConsecutiveLosses int                 `json:"consecutive_losses"`
	ConsecutiveWins   int                 `json:"consecutive_wins"`
	LastTradeTS       map[string]int64    `json:"last_trade_ts"`
	OpenPositions     map[string]Position `json:"open_positions"`
	SymbolExposure    map[string]float64  `json:"symbol_exposure"`
}

func (s *EngineState) ensureMaps() {
	if s.LastTradeTS == nil {
		s.LastTradeTS = make(map[string]int64)
	}
	if s.OpenPositions == nil {
		s.OpenPositions = make(map[string]Position)
	}
	if s.SymbolExposure == nil {
		s.SymbolExposure = make(map[string]float64)
	}
}

// LastTradeAny returns the most recent trade timestamp across all
// symbols, or zero when no trade has been recorded.
func (s *EngineState) LastTradeAny() int64 {
	var max int64
	for _, ts := range s.LastTradeTS {
		if ts > max {
			max = ts
		}
	}
	return max
}

// Store loads, mutates and persists one EngineState. It is not safe
// for concurrent use on its own; the engine serializes access.
type Store struct {
	path   string
	logger zerolog.Logger
	state  *EngineState
	now    func() time.Time
}

// defaultSeedEquity is used when no equity reading is available at
// first start (matches the original operator default).
const defaultSeedEquity = 100000.0

// NewStore loads the snapshot at path, falling back to a fresh state
// seeded from seedEquity when the file is missing or corrupt. A corrupt
// file is a warning, never fatal: trading resumes from a clean slate
// rather than refusing to start.
func NewStore(path string, seedEquity float64, logger zerolog.Logger, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	st := &Store{path: path, logger: logger, now: now}

	loaded, err := st.load(seedEquity)
	if err != nil {
		return nil, err
	}
	st.state = loaded
	st.RolloverIfNewDay(seedEquity)
	return st, nil
}

func (st *Store) load(seedEquity float64) (*EngineState, error) {
	raw, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return st.fresh(seedEquity), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var es EngineState
	if err := json.Unmarshal(raw, &es); err != nil || es.TradingDay == "" {
		st.logger.Warn().Str("path", st.path).Err(err).
			Msg("state file corrupt, starting from fresh state")
		return st.fresh(seedEquity), nil
	}
	es.ensureMaps()
	return &es, nil
}

func (st *Store) fresh(seedEquity float64) *EngineState {
	if seedEquity <= 0 {
		seedEquity = defaultSeedEquity
	}
	es := &EngineState{
		TradingDay:    st.today(),
		DayOpenEquity: seedEquity,
	}
	es.ensureMaps()
	return es
}

func (st *Store) today() string {
	// Calendar days are UTC so the kill-switch boundary does not move
	// with the host timezone.
	return st.now().UTC().Format("2006-01-02")
}

// State exposes the current in-memory state. Callers mutate it only
// under the engine's write lock and must call Save afterwards.
func (st *Store) State() *EngineState {
	return st.state
}

// RolloverIfNewDay re-baselines the day-open equity exactly once per
// UTC calendar day and resets the daily counters. It persists the
// rolled state; a persist failure here is logged but not fatal since
// the rollover will simply repeat on the next call.
func (st *Store) RolloverIfNewDay(equity float64) bool {
	today := st.today()
	if st.state.TradingDay == today {
		return false
	}

	if equity > 0 {
		st.state.DayOpenEquity = equity
	}
	st.state.TradingDay = today
	st.state.RealizedPnLToday = 0
	st.state.ConsecutiveLosses = 0

	if err := st.Save(); err != nil {
		st.logger.Error().Err(err).Msg("persist day rollover failed")
	}
	st.logger.Info().Str("trading_day", today).
		Float64("day_open_equity", st.state.DayOpenEquity).
		Msg("trading day rolled over")
	return true
}

// Save writes the snapshot atomically (temp file, fsync, rename).
func (st *Store) Save() error {
	raw, err := json.MarshalIndent(st.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, st.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
