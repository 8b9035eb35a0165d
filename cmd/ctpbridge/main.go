// ctpbridge logs in to the CTP gateway sidecar and keeps market data
// subscriptions, the tick archive, and the quote poller running.
//
// Usage: ctpbridge --config configs/ctpbridge.local.yaml [--instruments rb2510,ag2512]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/rickgao/ctpbridge/internal/archive"
	"github.com/rickgao/ctpbridge/internal/auth"
	"github.com/rickgao/ctpbridge/internal/bridge"
	"github.com/rickgao/ctpbridge/internal/config"
	"github.com/rickgao/ctpbridge/internal/database"
	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/order"
	"github.com/rickgao/ctpbridge/internal/publish"
	"github.com/rickgao/ctpbridge/internal/quote"
	"github.com/rickgao/ctpbridge/internal/session"
	"github.com/rickgao/ctpbridge/internal/version"
)

// subscriberID owns the subscriptions made from --instruments.
const subscriberID = "ctpbridge"

func main() {
	configPath := flag.String("config", "configs/ctpbridge.local.yaml", "path to config file")
	instruments := flag.String("instruments", "", "comma-separated instruments to subscribe at startup")
	flag.Parse()

	// Set up structured logging; the level is replaced once config loads.
	level := new(slog.LevelVar)
	level.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting ctpbridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if lvl, err := cfg.Logging.SlogLevel(); err == nil {
		level.Set(lvl)
	}

	logger.Info("configuration loaded",
		"bridge_url", cfg.Bridge.URL,
		"front_hq", cfg.ConnectInfo.FrontMarketData,
		"front_trade", cfg.ConnectInfo.FrontTrading,
		"quote_services", len(cfg.ConnectInfo.Level1QuoteURLs),
	)

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            cfg.Profiling.Tags,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			logger.Error("failed to start profiler", "error", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
		logger.Info("profiling enabled", "server", cfg.Profiling.ServerAddress)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	broker := events.NewBroker()
	sessOpts := []session.Option{
		session.WithBroker(broker),
		session.WithLogger(logger),
		session.WithOrderConfig(order.Config{RefStart: cfg.Session.OrderRefStart}),
	}
	parts := components{}

	// Tick archive
	var writer *archive.TickWriter
	if cfg.Database.Timescale.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}

		writer = archive.NewTickWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger)
		writer.Start(ctx)

		sessOpts = append(sessOpts, session.WithTickSink(writer))
		parts.db = pool
		parts.archive = writer
	}

	// Settlement publisher
	var publisher *publish.Publisher
	if cfg.Kafka.Enabled() {
		publisher = publish.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		sessOpts = append(sessOpts, session.WithPublisher(publisher))
		logger.Info("publishing fill results", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	bridgeCfg, err := bridge.ConfigFrom(cfg)
	if err != nil {
		logger.Error("failed to build bridge config", "error", err)
		os.Exit(1)
	}

	var sess *session.Session
	bridgeCfg.OnReconnect = func(ctx context.Context) {
		sess.Resubscribe(ctx)
	}
	br := bridge.New(bridgeCfg, broker, logger)
	sess = session.New(br, br, sessOpts...)
	br.SetHandler(sess)

	// Secondary quote poller, started once the fronts are up
	poller := newQuotePoller(cfg, bridgeCfg.Client.Credentials, sess, logger)

	parts.bridge = br
	parts.session = sess
	parts.poller = poller

	// Start health server early so login progress is visible
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           createHealthHandler(parts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("logging in to gateway fronts")
	if err := br.Start(ctx); err != nil {
		logger.Error("failed to start bridge", "error", err)
		os.Exit(1)
	}

	for _, inst := range splitList(*instruments) {
		subCtx, subCancel := context.WithTimeout(ctx, cfg.Bridge.CommandTimeout)
		if err := sess.Subscribe(subCtx, inst, subscriberID); err != nil {
			logger.Warn("startup subscribe failed", "instrument", inst, "error", err)
		}
		subCancel()
	}

	if poller != nil {
		poller.Start(ctx)
	}

	// Stats logger
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bs := br.Stats()
				ss := sess.Stats()
				logger.Info("stats",
					"connected", bs.Connected,
					"trading_day", bs.TradingDay,
					"ticks", bs.Ticks,
					"fills", bs.Fills,
					"subscriptions", len(ss.Subscriptions),
					"open_orders", ss.Orders.Open,
					"pending_events", len(ss.PendingEvents),
				)
			}
		}
	}()

	logger.Info("ctpbridge running",
		"trading_day", br.TradingDay(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if poller != nil {
		poller.Stop(shutdownCtx)
	}
	sess.Close()
	if err := br.Stop(shutdownCtx); err != nil {
		logger.Warn("bridge stop", "error", err)
	}
	if writer != nil {
		writer.Stop(shutdownCtx)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", "error", err)
		}
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("ctpbridge stopped")
}

// newQuotePoller builds the level-1 quote poller, or returns nil when no
// quote service is configured. Requests are signed with creds when set.
func newQuotePoller(cfg *config.Config, creds *auth.Credentials, sess *session.Session, logger *slog.Logger) *quote.Poller {
	urls := cfg.ConnectInfo.Level1QuoteURLs
	if len(urls) == 0 {
		return nil
	}

	opts := []quote.ClientOption{
		quote.WithLogger(logger),
		quote.WithTimeout(cfg.Poller.Timeout),
		quote.WithRetries(cfg.Poller.MaxRetries, 200*time.Millisecond),
	}
	if creds != nil {
		opts = append(opts, quote.WithCredentials(creds))
	}

	clients := make([]*quote.Client, 0, len(urls))
	for _, u := range urls {
		c := quote.NewClient(u, opts...)
		logger.Info("quote service", "url", c.BaseURL(), "signed", creds != nil)
		clients = append(clients, c)
	}
	return quote.NewPoller(quote.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, clients, sess.Ledger(), sess.Store(), logger)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
