package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kite_clickhouse/config"
	"kite_clickhouse/db"
	"kite_clickhouse/kite"
	"kite_clickhouse/metrics"
	"kite_clickhouse/middleware"
	"kite_clickhouse/models"
	"kite_clickhouse/monitoring"
	"kite_clickhouse/ticker"
	"kite_clickhouse/utils"
)

func main() {
	// Load environment variables; a missing .env just means plain env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := utils.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer utils.Logger.Sync()

	monitoring.StartMetricsCollection()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.NewClickHouseDB(cfg)
	if err != nil {
		utils.Logger.Fatalw("Failed to initialize ClickHouse", "error", err)
	}
	defer store.Close()

	monitoring.RegisterHealthCheck("clickhouse", func() bool {
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Ping(pctx) == nil
	})

	accessToken, err := resolveAccessToken(ctx, cfg)
	if err != nil {
		utils.Logger.Fatalw("Failed to obtain access token", "error", err)
	}

	engine, handle := ticker.New(cfg.Kite.APIKey, accessToken,
		ticker.WithRootURL(cfg.Kite.TickerURL),
		ticker.WithAutoReconnect(cfg.Ticker.AutoReconnect),
		ticker.WithReconnectMaxRetries(cfg.Ticker.MaxRetries),
		ticker.WithReconnectMaxDelay(cfg.Ticker.ReconnectMaxDelay),
		ticker.WithConnectTimeout(cfg.Ticker.ConnectTimeout),
		ticker.WithEventBuffer(cfg.Ticker.EventBuffer),
		ticker.WithLogger(utils.Logger),
	)

	// Storage worker pool.
	jobs := make(chan models.MarketTick, cfg.App.BufferSize)
	var workers sync.WaitGroup
	flushInterval := time.Duration(cfg.App.FlushSecs) * time.Second
	for w := 1; w <= cfg.App.NumWorkers; w++ {
		workers.Add(1)
		workerID := w
		go middleware.Recover("storage-worker", func() {
			defer workers.Done()
			storageWorker(ctx, workerID, jobs, store, cfg.App.BatchSize, flushInterval)
		})
	}

	startMetricsServer(cfg.App.MetricsAddr)

	if len(cfg.Kite.Tokens) > 0 {
		go subscribeConfigured(ctx, handle, cfg)
	}

	go verifyLoop(ctx, store, cfg)

	if err := runFeed(ctx, engine, handle, jobs); err != nil && err != context.Canceled {
		utils.Error(err, "Feed terminated")
	}

	close(jobs)
	workers.Wait()
}

// resolveAccessToken prefers a pre-issued token from the environment and
// falls back to exchanging a request token.
func resolveAccessToken(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Kite.AccessToken != "" {
		return cfg.Kite.AccessToken, nil
	}

	client := kite.NewClient(cfg.Kite.APIKey)
	session, err := client.GenerateSession(ctx, cfg.Kite.RequestToken, cfg.Kite.APISecret)
	if err != nil {
		return "", err
	}
	utils.Logger.Infow("Session generated", "user_id", session.UserID)
	return session.AccessToken, nil
}

// subscribeConfigured issues the initial subscription once the engine is
// streaming; the command resolves after it has been applied.
func subscribeConfigured(ctx context.Context, handle ticker.Handle, cfg *config.Config) {
	if err := handle.Subscribe(ctx, cfg.Kite.Tokens); err != nil {
		utils.Error(err, "Initial subscribe failed")
		return
	}
	mode := ticker.Mode(cfg.Kite.Mode)
	if mode != "" && mode != ticker.ModeQuote {
		if err := handle.SetMode(ctx, mode, cfg.Kite.Tokens); err != nil {
			utils.Error(err, "Initial set-mode failed", "mode", cfg.Kite.Mode)
		}
	}
	utils.Logger.Infow("Subscribed", "tokens", len(cfg.Kite.Tokens), "mode", cfg.Kite.Mode)
}

// runFeed drains the ticker event stream into the storage pipeline until
// the engine shuts down.
func runFeed(ctx context.Context, engine *ticker.Ticker, handle ticker.Handle, jobs chan<- models.MarketTick) error {
	stream := handle.SubscribeEvents()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- engine.Serve(ctx)
	}()

	stats := newStatsBook()
	go stats.logSummaries(ctx)

	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if slow, ok := err.(*ticker.SlowConsumerError); ok {
				metrics.AddDroppedEvents(slow.Dropped)
				utils.Logger.Warnw("Event consumer lagged", "dropped", slow.Dropped)
				continue
			}
			if err == ticker.ErrStreamClosed || err == context.Canceled || err == ctx.Err() {
				return <-serveErr
			}
			return err
		}

		switch ev.Type {
		case ticker.EventConnect:
			utils.Logger.Infow("Ticker connected")
		case ticker.EventTick:
			metrics.IncrementDecoded()
			stats.observe(ev.Tick)
			select {
			case jobs <- tickToRow(ev.Tick):
			default:
				utils.Logger.Warnw("Job buffer full, dropping tick",
					"instrument_token", ev.Tick.InstrumentToken)
				metrics.IncrementErrors("pipeline")
			}
		case ticker.EventOrderUpdate:
			utils.Logger.Infow("Order update",
				"order_id", ev.Order.OrderID,
				"status", ev.Order.Status)
		case ticker.EventError:
			metrics.IncrementErrors("ticker")
			utils.Logger.Warnw("Ticker error", "message", ev.Message)
		case ticker.EventReconnect:
			metrics.IncrementReconnects()
			utils.Logger.Infow("Ticker reconnecting",
				"attempt", ev.Attempt, "delay", ev.Delay)
		case ticker.EventClose:
			utils.Logger.Infow("Ticker closed", "code", ev.Code, "reason", ev.Reason)
			return <-serveErr
		}
	}
}

func tickToRow(t *ticker.Tick) models.MarketTick {
	timestamp := t.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return models.MarketTick{
		Timestamp:         timestamp,
		InstrumentToken:   t.InstrumentToken,
		Mode:              string(t.Mode),
		LastPrice:         t.LastPrice,
		LastQuantity:      t.LastTradedQuantity,
		AveragePrice:      t.AverageTradePrice,
		Volume:            t.VolumeTraded,
		TotalBuyQuantity:  t.TotalBuyQuantity,
		TotalSellQuantity: t.TotalSellQuantity,
		OpenPrice:         t.OHLC.Open,
		HighPrice:         t.OHLC.High,
		LowPrice:          t.OHLC.Low,
		ClosePrice:        t.OHLC.Close,
		OI:                t.OI,
	}
}

// storageWorker batches ticks and writes them behind the circuit breaker,
// retrying transient failures with exponential backoff.
func storageWorker(ctx context.Context, id int, jobs <-chan models.MarketTick, store *db.ClickHouseDB, batchSize int, flushInterval time.Duration) {
	batch := make([]models.MarketTick, 0, batchSize)
	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()

	stats := models.WorkerStats{WorkerID: id}
	defer func() {
		utils.Logger.Infow("Storage worker stopped",
			"worker_id", stats.WorkerID,
			"processed", stats.ProcessedCount,
			"errors", stats.ErrorCount)
	}()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		monitoring.BatchSize.Set(float64(len(batch)))

		operation := func() error {
			ictx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return middleware.WithCircuitBreaker(func() error {
				return store.InsertTicks(ictx, batch)
			})
		}

		start := time.Now()
		retry := backoff.WithContext(utils.NewExponentialBackoff(), ctx)
		if err := backoff.Retry(operation, retry); err != nil {
			utils.Error(err, "Dropping tick batch", "worker_id", id, "size", len(batch))
			metrics.IncrementErrors("storage")
			stats.ErrorCount++
		} else {
			metrics.IncrementStored(len(batch))
			metrics.RecordInsertDuration(time.Since(start))
			stats.ProcessedCount += int64(len(batch))
			stats.LastProcessed = time.Now()
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case tick, ok := <-jobs:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tick)
			if len(batch) >= batchSize {
				flush()
			}
		case <-flushTicker.C:
			flush()
		}
	}
}

// verifyLoop periodically reads back the newest stored row for the first
// configured instrument as an end-to-end sanity check.
func verifyLoop(ctx context.Context, store *db.ClickHouseDB, cfg *config.Config) {
	if len(cfg.Kite.Tokens) == 0 {
		return
	}
	token := cfg.Kite.Tokens[0]

	verifyTicker := time.NewTicker(1 * time.Minute)
	defer verifyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-verifyTicker.C:
			vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			tick, err := store.LastInserted(vctx, token)
			cancel()
			if err != nil {
				utils.Logger.Warnw("Verification query failed", "error", err)
				continue
			}
			utils.Logger.Infow("Last stored tick verified",
				"instrument_token", tick.InstrumentToken,
				"timestamp", tick.Timestamp.Format("15:04:05"),
				"last_price", tick.LastPrice)
		}
	}
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", monitoring.HealthCheckHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: utils.RequestLogger(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error(err, "Metrics server error")
		}
	}()
}

// statsBook keeps per-instrument counters for the minutely summary line.
type statsBook struct {
	mu    sync.Mutex
	items map[uint32]*models.TokenStats
}

func newStatsBook() *statsBook {
	return &statsBook{items: make(map[uint32]*models.TokenStats)}
}

func (b *statsBook) observe(t *ticker.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.items[t.InstrumentToken]
	if !ok {
		s = &models.TokenStats{InstrumentToken: t.InstrumentToken}
		b.items[t.InstrumentToken] = s
	}
	s.Observe(t.LastPrice, t.VolumeTraded, time.Now())
}

func (b *statsBook) logSummaries(ctx context.Context) {
	summaryTicker := time.NewTicker(1 * time.Minute)
	defer summaryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-summaryTicker.C:
			processed, errorCount, lastProcessed, uptime := metrics.GetStats()
			utils.Logger.Infow("Pipeline summary",
				"processed", processed,
				"errors", errorCount,
				"last_processed", lastProcessed.Format("15:04:05"),
				"uptime", uptime.Round(time.Second))

			b.mu.Lock()
			for _, s := range b.items {
				utils.Logger.Infow("Instrument summary",
					"instrument_token", s.InstrumentToken,
					"ticks", s.TickCount,
					"last", s.LastPrice,
					"min", s.MinPrice,
					"max", s.MaxPrice,
					"volume", s.TotalVolume)
			}
			b.mu.Unlock()
		}
	}
}
