package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"risk-core/internal/risk"
	"risk-core/internal/state"
	"risk-core/internal/volatility"
	"risk-core/pkg/policy"
)

// dry_run_demo drives a few realistic decisions through the admission
// engine in-process. It does not touch the HTTP server or database.
//
// Usage (from the repo root):
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Admit a clean BUY and print the sized order.
//   2) Record three losing fills and show the cooldown rejection.
//   3) Show the early unlock on a calm, confident signal.

func main() {
	log.Println("=== DRY-RUN demo starting ===")

	dir, err := os.MkdirTemp("", "risk-demo-*")
	if err != nil {
		log.Fatalf("temp dir error: %v", err)
	}
	defer os.RemoveAll(dir)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	pol := policy.Default()

	equity := 100000.0
	store, err := state.NewStore(filepath.Join(dir, "state.json"), equity, logger, nil)
	if err != nil {
		log.Fatalf("state store error: %v", err)
	}

	engine, err := risk.NewEngine(risk.Options{
		Policy:     pol,
		Store:      store,
		Volatility: volatility.New(volatility.DefaultCapacity, pol.ATRLookback, pol.ATRFloorBps),
		Equity:     risk.EquityFunc(func() float64 { return equity }),
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("engine error: %v", err)
	}

	confidence := 0.7
	decision := risk.Decision{
		Symbol:     "BTC-USDT",
		Side:       risk.SideBuy,
		OrderType:  risk.OrderTypeMarket,
		Confidence: &confidence,
		Risk:       &risk.RiskParams{StopLossPct: 0.01, TakeProfitPct: 0.02},
	}
	market := risk.MarketSnapshot{"BTC-USDT": {Price: 50000}}
	balance := risk.Balance{Available: map[string]float64{"USDT": 100000}}

	log.Println("[SCENARIO 1] Clean BUY on BTC-USDT")
	verdict := engine.Evaluate(decision, market, balance)
	log.Printf("  admitted=%v reason=%q", verdict.Admitted, verdict.Reason)
	if verdict.Order != nil {
		log.Printf("  order: %+v", *verdict.Order)
	}

	log.Println("[SCENARIO 2] Three losing fills trigger the loss-streak cooldown")
	for i := 0; i < 3; i++ {
		if err := engine.RecordFill(risk.Fill{
			Symbol: "BTC-USDT", Side: risk.SideSell, Size: 0.01, Price: 50000, RealizedPnL: -100,
		}); err != nil {
			log.Fatalf("record fill error: %v", err)
		}
	}
	verdict = engine.Evaluate(decision, market, balance)
	log.Printf("  admitted=%v reason=%q", verdict.Admitted, verdict.Reason)

	log.Println("[SCENARIO 3] Calm market, confident signal unlocks early")
	confident := 0.9
	decision.Confidence = &confident
	decision.Symbol = "ETH-USDT"
	verdict = engine.Evaluate(decision,
		risk.MarketSnapshot{"ETH-USDT": {Price: 3000}}, balance)
	log.Printf("  admitted=%v reason=%q", verdict.Admitted, verdict.Reason)

	summary := engine.StateSummary()
	log.Printf("final state: day=%s equity=%.0f losses=%d positions=%d",
		summary.TradingDay, summary.Equity, summary.ConsecutiveLosses, summary.OpenPositions)
	log.Println("=== DRY-RUN demo finished ===")
}
