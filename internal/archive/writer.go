package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/ctpbridge/internal/model"
)

// BatchSender is the subset of pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer settings.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits in a partial batch
	BufferSize    int           // Initial queue capacity
	MaxBuffer     int           // Queue ceiling; ticks past it are dropped
	WriteTimeout  time.Duration // Bound on a single batch insert
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    4096,
		MaxBuffer:     1 << 20,
		WriteTimeout:  10 * time.Second,
	}
}

// Metrics counts writer outcomes.
type Metrics struct {
	Inserts   int64      `json:"inserts"`
	Conflicts int64      `json:"conflicts"`
	Errors    int64      `json:"errors"`
	Flushes   int64      `json:"flushes"`
	Queue     QueueStats `json:"queue"`
}

// TickWriter batches ticks into the ticks table.
type TickWriter struct {
	cfg    Config
	db     BatchSender
	input  *Queue[model.Tick]
	logger *slog.Logger

	batch   []tickRow
	batchMu sync.Mutex
	metrics Metrics // guarded by batchMu

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type tickRow struct {
	ReceivedAt   time.Time
	ExchangeTS   int64
	Instrument   string
	Exchange     string
	TradingDay   string
	Source       string
	LastPrice    decimal.NullDecimal
	BidPrice     decimal.NullDecimal
	AskPrice     decimal.NullDecimal
	BidVolume    int64
	AskVolume    int64
	Volume       int64
	OpenInterest int64
	Turnover     decimal.NullDecimal
}

// NewTickWriter creates a writer. Zero config fields take defaults.
func NewTickWriter(cfg Config, db BatchSender, logger *slog.Logger) *TickWriter {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = def.MaxBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TickWriter{
		cfg:    cfg,
		db:     db,
		input:  NewQueue[model.Tick](cfg.BufferSize, cfg.MaxBuffer),
		logger: logger.With("component", "tick_writer"),
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Enqueue queues tick for archiving. It returns false when the queue is
// full or the writer has stopped.
func (w *TickWriter) Enqueue(tick model.Tick) bool {
	return w.input.Send(tick)
}

// Start launches the consumer and flush goroutines.
func (w *TickWriter) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop(ctx)
	go w.flushLoop(ctx)

	w.logger.Info("tick writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
}

// Stop closes the queue, waits for the goroutines, and writes whatever is
// still queued. ctx bounds the wait and the final write.
func (w *TickWriter) Stop(ctx context.Context) {
	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("tick writer stop timed out")
	}

	for _, tick := range w.input.Drain(0) {
		w.add(tick)
	}
	w.flush(ctx)

	st := w.Stats()
	w.logger.Info("tick writer stopped",
		"inserts", st.Inserts,
		"conflicts", st.Conflicts,
		"errors", st.Errors,
		"dropped", st.Queue.Dropped,
	)
}

// Stats returns current metrics.
func (w *TickWriter) Stats() Metrics {
	w.batchMu.Lock()
	m := w.metrics
	w.batchMu.Unlock()
	m.Queue = w.input.Stats()
	return m
}

func (w *TickWriter) consumeLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		ticks := w.input.Batch(ctx, w.cfg.BatchSize)
		if ticks == nil {
			return
		}
		full := false
		for _, tick := range ticks {
			full = w.add(tick)
		}
		if full {
			w.flush(ctx)
		}
	}
}

func (w *TickWriter) flushLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// add appends a row and reports whether the batch is full.
func (w *TickWriter) add(tick model.Tick) bool {
	row := transform(tick)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func transform(tick model.Tick) tickRow {
	receivedAt := time.Now().UTC()
	if tick.ReceivedAt > 0 {
		receivedAt = time.UnixMicro(tick.ReceivedAt).UTC()
	}
	return tickRow{
		ReceivedAt:   receivedAt,
		ExchangeTS:   tick.ExchangeTS,
		Instrument:   tick.Instrument,
		Exchange:     tick.Exchange,
		TradingDay:   tick.TradingDay,
		Source:       tick.Source,
		LastPrice:    nullable(tick.LastPrice),
		BidPrice:     nullable(tick.BidPrice),
		AskPrice:     nullable(tick.AskPrice),
		BidVolume:    tick.BidVolume,
		AskVolume:    tick.AskVolume,
		Volume:       tick.Volume,
		OpenInterest: tick.OpenInterest,
		Turnover:     nullable(tick.Turnover),
	}
}

// nullable maps a zero price to NULL; the gateway reports missing levels as 0.
func nullable(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: !d.IsZero()}
}

func (w *TickWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	rows := w.batch
	w.batch = make([]tickRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	// The final flush runs after ctx is canceled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
	defer cancel()

	conflicts, err := w.batchInsert(writeCtx, rows)

	w.batchMu.Lock()
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Inserts += int64(len(rows) - conflicts)
		w.metrics.Conflicts += int64(conflicts)
		w.metrics.Flushes++
	}
	w.batchMu.Unlock()

	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		return
	}
	w.logger.Debug("flushed ticks",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

const insertTick = `
	INSERT INTO ticks (received_at, exchange_ts, instrument, exchange, trading_day, source,
		last_price, bid_price, ask_price, bid_volume, ask_volume, volume, open_interest, turnover)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (instrument, source, received_at) DO NOTHING`

func (w *TickWriter) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTick,
			r.ReceivedAt, r.ExchangeTS, r.Instrument, r.Exchange, r.TradingDay, r.Source,
			r.LastPrice, r.BidPrice, r.AskPrice, r.BidVolume, r.AskVolume, r.Volume, r.OpenInterest, r.Turnover)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
