// ticktest logs in through the gateway sidecar, subscribes one instrument,
// and prints ticks to the console. With --order it also places a limit
// order and prints the settled result.
//
// Usage:
//
//	go run ./cmd/ticktest --config configs/ctpbridge.local.yaml --instrument rb2510 --count 5
//	go run ./cmd/ticktest --config configs/ctpbridge.local.yaml --instrument rb2510 \
//	    --order --direction buy --price 3520 --volume 1
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/ctpbridge/internal/bridge"
	"github.com/rickgao/ctpbridge/internal/config"
	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/model"
	"github.com/rickgao/ctpbridge/internal/order"
	"github.com/rickgao/ctpbridge/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/ctpbridge.example.yaml", "path to config file")
	instrument := flag.String("instrument", "", "instrument to subscribe (required)")
	count := flag.Int("count", 10, "ticks to print before exiting (0 = until interrupted)")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	placeOrder := flag.Bool("order", false, "place a limit order after the ticks")
	direction := flag.String("direction", "buy", "order direction: buy or sell")
	offset := flag.String("offset", "open", "order offset: open, close, or close_today")
	price := flag.String("price", "", "order limit price")
	volume := flag.Int64("volume", 1, "order volume")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *instrument == "" {
		logger.Error("--instrument is required")
		os.Exit(2)
	}

	var req model.OrderRequest
	if *placeOrder {
		var err error
		req, err = buildOrder(*instrument, *direction, *offset, *price, *volume)
		if err != nil {
			logger.Error("invalid order flags", "error", err)
			os.Exit(2)
		}
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	bridgeCfg, err := bridge.ConfigFrom(cfg)
	if err != nil {
		logger.Error("failed to build bridge config", "error", err)
		os.Exit(1)
	}

	broker := events.NewBroker()
	br := bridge.New(bridgeCfg, broker, logger)
	sess := session.New(br, br,
		session.WithBroker(broker),
		session.WithLogger(logger),
		session.WithOrderConfig(order.Config{RefStart: cfg.Session.OrderRefStart}),
	)
	br.SetHandler(sess)

	logger.Info("logging in", "url", cfg.Bridge.URL)
	if err := br.Start(ctx); err != nil {
		logger.Error("failed to start bridge", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		sess.Close()
		br.Stop(shutdownCtx)
	}()

	subscriber := "ticktest-" + uuid.NewString()
	if err := sess.Subscribe(ctx, *instrument, subscriber); err != nil {
		logger.Error("subscribe failed", "instrument", *instrument, "error", err)
		return
	}
	logger.Info("subscribed", "instrument", *instrument, "trading_day", br.TradingDay())

	printed := 0
	for *count == 0 || printed < *count {
		waitCtx, waitCancel := context.WithTimeout(ctx, cfg.Session.WaitTimeout)
		err := sess.WaitForData(waitCtx, *instrument, subscriber)
		waitCancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("no tick within wait timeout", "instrument", *instrument, "timeout", cfg.Session.WaitTimeout)
				continue
			}
			logger.Error("wait failed", "error", err)
			return
		}

		tick, ok := sess.Latest(*instrument)
		if !ok {
			continue
		}
		printTick(tick, *verbose)
		printed++
	}

	if err := sess.Unsubscribe(ctx, *instrument, subscriber); err != nil {
		logger.Warn("unsubscribe failed", "error", err)
	}

	if !*placeOrder {
		return
	}

	orderCtx, orderCancel := context.WithTimeout(ctx, cfg.Session.OrderTimeout)
	defer orderCancel()

	logger.Info("placing order",
		"contract", req.Contract,
		"direction", req.Direction,
		"price", req.Price,
		"volume", req.Volume,
	)
	res, err := sess.PlaceOrder(orderCtx, req)
	if err != nil {
		logger.Warn("order did not fill", "error", err)
	}
	data, _ := json.MarshalIndent(res, "", "  ")
	fmt.Printf("[RESULT] %s\n", data)
}

func buildOrder(instrument, direction, offset, price string, volume int64) (model.OrderRequest, error) {
	dir, err := model.ParseDirection(direction)
	if err != nil {
		return model.OrderRequest{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return model.OrderRequest{}, fmt.Errorf("price %q: %w", price, err)
	}
	req := model.OrderRequest{
		Contract:  instrument,
		Direction: dir,
		Offset:    model.Offset(offset),
		Price:     p,
		Volume:    volume,
	}
	if err := req.Validate(); err != nil {
		return model.OrderRequest{}, err
	}
	return req, nil
}

func printTick(tick model.Tick, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(tick, "", "  ")
		fmt.Printf("[TICK] %s\n", data)
		return
	}
	fmt.Printf("[TICK] %s last=%s bid=%s x %d ask=%s x %d vol=%d oi=%d src=%s\n",
		tick.Instrument, tick.LastPrice, tick.BidPrice, tick.BidVolume,
		tick.AskPrice, tick.AskVolume, tick.Volume, tick.OpenInterest, tick.Source)
}
