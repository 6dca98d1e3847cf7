// Replay drives the full decision pipeline from a JSONL bar file against the
// in-memory brokerage, for offline evaluation of strategy and gate behavior.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"
	"sort"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/config"
	"github.com/quantpulse/trading-engine/internal/engine"
	"github.com/quantpulse/trading-engine/internal/marketdata"
	"github.com/quantpulse/trading-engine/internal/observ"
)

func main() {
	barsPath := flag.String("bars", "data/bars.jsonl", "JSONL file of bars to replay")
	configPath := flag.String("config", "config/config.yaml", "engine configuration")
	equity := flag.Float64("equity", 100000, "starting equity")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Error("config_load_failed", err, map[string]any{"path": *configPath})
		os.Exit(1)
	}
	observ.Init(cfg.Logging.Level, true)
	log := observ.Logger("replay")

	bars, err := loadBars(*barsPath)
	if err != nil {
		log.Error().Err(err).Str("path", *barsPath).Msg("load bars")
		os.Exit(1)
	}
	if len(bars) == 0 {
		log.Error().Msg("no bars to replay")
		os.Exit(1)
	}

	sim := broker.NewSim(broker.Account{
		Equity: *equity, Cash: *equity, BuyingPower: *equity * 2,
	})
	eng := engine.New(cfg, sim, nil, nil)

	ctx := context.Background()
	history := make(map[string][]marketdata.Bar)
	executed, evaluated := 0, 0

	for _, bar := range bars {
		history[bar.Symbol] = append(history[bar.Symbol], bar)
		if n := len(history[bar.Symbol]); n > cfg.BarWindow {
			history[bar.Symbol] = history[bar.Symbol][n-cfg.BarWindow:]
		}
		eng.Cache().Append(bar)

		half := bar.Close * 0.0005
		sim.SetBars(bar.Symbol, history[bar.Symbol])
		sim.SetQuote(broker.Quote{
			Symbol: bar.Symbol, Bid: bar.Close - half, Ask: bar.Close + half,
			Timestamp: bar.Timestamp,
		})

		decisions := eng.RunDecisionCycle(ctx, bar.Timestamp)
		evaluated += len(decisions)
		for _, d := range decisions {
			if d.ShouldExecute {
				executed++
			}
		}
		eng.RunRiskCycle(ctx, bar.Timestamp)
		eng.RunLearningCycle(bar.Timestamp)
	}

	last := bars[len(bars)-1].Timestamp
	if s, ok := eng.Stop(last); ok {
		log.Info().
			Str("session_id", s.SessionID).
			Int("trades", s.TradesExecuted).
			Float64("pnl", s.TotalPnL).
			Float64("accuracy", s.Accuracy()).
			Msg("final session")
	}
	log.Info().
		Int("bars", len(bars)).
		Int("decisions", evaluated).
		Int("executed", executed).
		Msg("replay complete")
}

func loadBars(path string) ([]marketdata.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var bars []marketdata.Bar
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var b marketdata.Bar
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			continue
		}
		bars = append(bars, b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}
