package quote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/ctpbridge/internal/model"
)

// InstrumentSource lists the instruments to poll.
type InstrumentSource interface {
	Instruments() []string
}

// TickSink receives fetched ticks.
type TickSink interface {
	Append(tick model.Tick)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval
	Concurrency int           // Max concurrent requests
	Timeout     time.Duration // Per-instrument timeout across all services
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    3 * time.Second,
		Concurrency: 8,
		Timeout:     5 * time.Second,
	}
}

// Stats counts poll outcomes.
type Stats struct {
	Cycles  int64 `json:"cycles"`
	Fetched int64 `json:"fetched"`
	Errors  int64 `json:"errors"`
}

// Poller periodically fetches quotes for every subscribed instrument.
type Poller struct {
	cfg     Config
	clients []*Client
	source  InstrumentSource
	sink    TickSink
	logger  *slog.Logger

	cycles, fetched, errs atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller. Clients are tried in order for each
// instrument until one succeeds.
func NewPoller(cfg Config, clients []*Client, source InstrumentSource, sink TickSink, logger *slog.Logger) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		clients: clients,
		source:  source,
		sink:    sink,
		logger:  logger.With("component", "quote_poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("quote poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"services", len(p.clients),
	)
}

// Stop cancels the loop and waits for it, bounded by ctx.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("quote poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Fetched: p.fetched.Load(),
		Errors:  p.errs.Load(),
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs one cycle over the current instruments.
func (p *Poller) PollOnce(ctx context.Context) {
	instruments := p.source.Instruments()
	if len(instruments) == 0 || len(p.clients) == 0 {
		return
	}
	start := time.Now()
	p.cycles.Add(1)

	var fetched, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, instrument := range instruments {
		instrument := instrument
		g.Go(func() error {
			if err := p.poll(gctx, instrument); err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Warn("failed to poll quote", "instrument", instrument, "error", err)
				}
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	p.fetched.Add(fetched.Load())
	p.errs.Add(failed.Load())

	p.logger.Debug("poll cycle complete",
		"instruments", len(instruments),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

func (p *Poller) poll(ctx context.Context, instrument string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var errs []error
	for _, c := range p.clients {
		q, err := c.GetQuote(ctx, instrument)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		p.sink.Append(q.ToTick(time.Now()))
		return nil
	}
	return errors.Join(errs...)
}
