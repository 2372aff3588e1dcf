package main

import (
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"risk-core/internal/api"
	"risk-core/internal/invalidation"
	"risk-core/internal/risk"
	"risk-core/internal/state"
	"risk-core/internal/volatility"
	"risk-core/pkg/config"
	"risk-core/pkg/db"
	"risk-core/pkg/policy"
)

var buildVersion = "dev"

// priceCache remembers the latest reported price per symbol so the
// engine can mark held positions when estimating open risk.
type priceCache struct {
	mu sync.RWMutex
	m  map[string]float64
}

func (p *priceCache) set(sym string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]float64)
	}
	p.m[sym] = price
}

func (p *priceCache) get(sym string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.m[sym]
}

// equityCache holds the last mark-to-market equity reported by the
// driving loop. Zero until the first report, which the engine treats
// as "equity unavailable".
type equityCache struct {
	mu  sync.RWMutex
	val float64
}

func (e *equityCache) set(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.val = v
}

func (e *equityCache) get() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.val
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg)

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load policy")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open journal database")
	}
	defer database.Close()
	if err := database.Init(); err != nil {
		logger.Fatal().Err(err).Msg("init journal schema")
	}

	// The service has no exchange connection of its own: equity and
	// prices arrive through the API from the driving loop.
	equity := &equityCache{}
	marks := &priceCache{}

	store, err := state.NewStore(cfg.StatePath, equity.get(), logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("load engine state")
	}

	vol := volatility.New(cfg.PriceBufferSize, pol.ATRLookback, pol.ATRFloorBps)

	engine, err := risk.NewEngine(risk.Options{
		Policy:       pol,
		Store:        store,
		Volatility:   vol,
		Equity:       risk.EquityFunc(equity.get),
		Prices:       risk.PriceFunc(marks.get),
		Invalidation: invalidation.NewRuleEvaluator(logger),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build admission engine")
	}

	symbols := make([]string, 0, len(pol.SymbolRules))
	for sym := range pol.SymbolRules {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	server := api.NewServer(engine, database, logger, api.SystemMeta{
		Version:   buildVersion,
		StatePath: cfg.StatePath,
		Symbols:   symbols,
	}, api.Sinks{
		OnPrice:  marks.set,
		OnEquity: equity.set,
	})

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("admission service listening")
		if err := server.Start(":" + cfg.Port); err != nil {
			logger.Fatal().Err(err).Msg("api server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("shutting down")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
