package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/config"
	"github.com/quantpulse/trading-engine/internal/engine"
	"github.com/quantpulse/trading-engine/internal/marketdata"
	"github.com/quantpulse/trading-engine/internal/observ"
	"github.com/quantpulse/trading-engine/internal/outcome"
	"github.com/quantpulse/trading-engine/internal/sentiment"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to engine configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Error("config_load_failed", err, map[string]any{"path": *configPath})
		os.Exit(1)
	}
	observ.Init(cfg.Logging.Level, cfg.Logging.Console)
	log := observ.Logger("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg.Outcome)
	if err != nil {
		log.Error().Err(err).Msg("outcome store unavailable")
		os.Exit(1)
	}
	defer store.Close()

	gw := broker.NewHTTPGateway(cfg.Broker.BaseURL, cfg.Broker.Timeout,
		cfg.Broker.RatePerSecond, cfg.Broker.RateBurst)

	var provider sentiment.Provider = sentiment.NewStatic(nil)
	if cfg.Sentiment.RedisAddr != "" {
		cache := sentiment.NewRedisCache(provider, cfg.Sentiment.RedisAddr, cfg.Sentiment.TTL)
		defer cache.Close()
		provider = cache
	}

	eng := engine.New(cfg, gw, provider, store)

	// Streamed bars land in the same cache the polled refresh fills.
	if cfg.Broker.StreamURL != "" {
		stream := broker.NewBarStream(cfg.Broker.StreamURL, func(b marketdata.Bar) {
			eng.Cache().Append(b)
		})
		go stream.Run(ctx)
	}

	ops := engine.NewOpsServer(eng)
	go func() {
		if err := ops.Start(cfg.OpsListenAddr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()

	log.Info().Strs("symbols", cfg.Symbols).Msg("engine starting")
	engine.NewScheduler(eng, cfg.Scheduler).Run(ctx)

	if s, ok := eng.Stop(time.Now().UTC()); ok {
		log.Info().Str("session_id", s.SessionID).
			Int("trades", s.TradesExecuted).Float64("pnl", s.TotalPnL).
			Msg("session closed on shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops shutdown")
	}
	log.Info().Msg("engine stopped")
}

// buildStore assembles the outcome persistence chain: Postgres when a DSN is
// configured, the JSONL journal otherwise, optionally fronted by a Kafka
// publisher.
func buildStore(ctx context.Context, cfg config.Outcome) (outcome.Store, error) {
	var store outcome.Store
	var err error
	if cfg.PostgresDSN != "" {
		store, err = outcome.NewPostgresStore(ctx, cfg.PostgresDSN)
	} else {
		store, err = outcome.NewJournal(cfg.JournalPath)
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.KafkaBrokers) > 0 {
		store = outcome.NewKafkaPublisher(store, cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return store, nil
}
