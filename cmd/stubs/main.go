package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quantpulse/trading-engine/internal/observ"
	"github.com/quantpulse/trading-engine/internal/stubs"
)

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	symbols := flag.String("symbols", "AAPL,MSFT,TSLA", "comma-separated symbols to simulate")
	equity := flag.Float64("equity", 100000, "starting account equity")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random-walk seed")
	flag.Parse()

	observ.Init("info", true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := stubs.NewGatewayServer(strings.Split(*symbols, ","), *equity, *seed)
	if err := srv.Run(ctx, *addr); err != nil {
		observ.Error("stub_gateway_failed", err, nil)
		os.Exit(1)
	}
}
