// Package engine wires the whole system together and runs it: source
// feed in, pipeline, dual-path emission out, with reconciliation and
// ledger lifecycle running alongside.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/config"
	"github.com/riskcast/omen/internal/consumer"
	"github.com/riskcast/omen/internal/domain"
	"github.com/riskcast/omen/internal/emit"
	"github.com/riskcast/omen/internal/enrich"
	"github.com/riskcast/omen/internal/httpapi"
	"github.com/riskcast/omen/internal/ledger"
	"github.com/riskcast/omen/internal/metrics"
	"github.com/riskcast/omen/internal/pipeline"
	"github.com/riskcast/omen/internal/reconcile"
	"github.com/riskcast/omen/internal/repo"
	"github.com/riskcast/omen/internal/source"
	"github.com/riskcast/omen/internal/validate"
)

// Engine owns every long-lived component and their shutdown order.
type Engine struct {
	cfg     config.Config
	clock   clock.Clock
	metrics *metrics.Metrics
	log     zerolog.Logger

	repos     repo.SignalRepository
	memory    *repo.Memory
	db        *sqlx.DB
	writer    *ledger.Writer
	reader    *ledger.Reader
	pipeline  *pipeline.Pipeline
	client    *consumer.Client
	emitter   *emit.Emitter
	recon     *reconcile.Job
	lifecycle *ledger.Lifecycle
	src       source.Source
	server    *httpapi.Server

	startedAt       time.Time
	eventsProcessed atomic.Uint64
	signalsEmitted  atomic.Uint64

	mu            sync.Mutex
	state         string
	lastReconcile time.Time
}

// New builds the engine from configuration. Nothing is started until
// Run.
func New(cfg config.Config, clk clock.Clock, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		clock:   clk,
		metrics: metrics.New(),
		log:     log.With().Str("component", "engine").Logger(),
		state:   "starting",
	}

	repos, err := e.buildRepository(cfg, log)
	if err != nil {
		return nil, err
	}
	e.repos = repos

	writer, err := ledger.OpenWriter(cfg.Ledger, clk, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	e.writer = writer
	e.reader = ledger.NewReader(cfg.Ledger.BasePath)

	validator := validate.NewEngine(cfg.Validation, log, validate.DefaultRules(cfg.Rules)...)
	e.pipeline = pipeline.New(validator, enrich.New(enrich.DefaultConfig()), repos, clk, e.metrics, log)

	e.client = consumer.New(cfg.Consumer)
	e.emitter = emit.New(cfg.Emitter, writer, e.client, repos, clk, e.metrics, log)

	store := reconcile.NewOffsetStore(cfg.Reconcile.OffsetPath)
	e.recon = reconcile.New(cfg.Reconcile.Job, e.reader, store, e.client, e.metrics, log)

	e.lifecycle = ledger.NewLifecycle(cfg.Lifecycle, cfg.Ledger.BasePath, writer, clk, log)

	switch cfg.Source.Mode {
	case "stream":
		e.src = source.NewStream(cfg.Source.Stream, clk, log)
	default:
		e.src = source.NewPoller(cfg.Source.Poller, clk, log)
	}

	e.server = httpapi.New(httpapi.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, e, e.metrics, clk, log)

	return e, nil
}

// buildRepository assembles the signal store: Postgres when a DSN is
// configured, in-memory otherwise, with an optional Redis read cache
// in front.
func (e *Engine) buildRepository(cfg config.Config, log zerolog.Logger) (repo.SignalRepository, error) {
	var repos repo.SignalRepository
	if cfg.Database.DSN != "" {
		db, err := sqlx.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		e.db = db
		repos = repo.NewPostgres(db, 5*time.Second)
	} else {
		e.memory = repo.NewMemory(cfg.Repository.MaxSize)
		repos = e.memory
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		repos = repo.NewRedisCache(repos, client, cfg.Redis.TTL, log)
	}
	return repos, nil
}

// Run starts every component and blocks until ctx is cancelled and the
// engine has drained.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = e.clock.Now()
	e.state = "running"
	e.mu.Unlock()
	e.log.Info().Msg("engine starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.server.Run(ctx); err != nil {
			select {
			case errCh <- fmt.Errorf("operational server: %w", err):
			default:
			}
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.src.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.Error().Err(err).Msg("source stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.lifecycle.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reconcileLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.processLoop(ctx)
	}()

	<-ctx.Done()
	e.mu.Lock()
	e.state = "stopping"
	e.mu.Unlock()
	wg.Wait()

	if err := e.writer.Close(); err != nil {
		e.log.Error().Err(err).Msg("ledger close failed")
	}
	if e.db != nil {
		e.db.Close()
	}
	e.log.Info().Msg("engine stopped")

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// processLoop drains the source channel through the pipeline and the
// emitter.
func (e *Engine) processLoop(ctx context.Context) {
	for event := range e.src.Events() {
		if ctx.Err() != nil {
			return
		}
		e.handleEvent(ctx, event)
	}
}

func (e *Engine) handleEvent(ctx context.Context, event domain.RawEvent) {
	result, err := e.pipeline.Process(ctx, event)
	if err != nil {
		e.log.Warn().Err(err).Str("event_id", event.EventID).Msg("event rejected")
		return
	}
	e.eventsProcessed.Add(1)
	if !result.Success || result.Cached {
		return
	}
	for _, signal := range result.Signals {
		res := e.emitter.Emit(ctx, signal)
		e.signalsEmitted.Add(1)
		e.log.Info().
			Str("signal_id", signal.SignalID).
			Str("status", string(res.Status)).
			Str("partition", res.PartitionID).
			Msg("signal emitted")
	}
}

// reconcileLoop runs reconciliation passes on the configured interval,
// recording when the last pass finished.
func (e *Engine) reconcileLoop(ctx context.Context) {
	interval := e.cfg.Reconcile.Job.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.recon.RunOnce(ctx); err != nil {
				e.log.Warn().Err(err).Msg("reconcile pass stopped early")
			}
			e.mu.Lock()
			e.lastReconcile = e.clock.Now()
			e.mu.Unlock()
		}
	}
}

// Status implements httpapi.StatusProvider.
func (e *Engine) Status(ctx context.Context) httpapi.Status {
	e.mu.Lock()
	state := e.state
	startedAt := e.startedAt
	lastReconcile := e.lastReconcile
	e.mu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	consumerHealthy := e.client.Health(healthCtx) == nil

	repoSize := 0
	if e.memory != nil {
		repoSize = e.memory.Len()
	}

	srcName := e.cfg.Source.Poller.Name
	if e.cfg.Source.Mode == "stream" {
		srcName = e.cfg.Source.Stream.Name
	}

	s := httpapi.Status{
		State:           state,
		StartedAt:       startedAt,
		Source:          srcName,
		HotPartition:    e.writer.HotPartitionID(),
		BreakerState:    e.emitter.BreakerState(),
		EventsProcessed: e.eventsProcessed.Load(),
		SignalsEmitted:  e.signalsEmitted.Load(),
		LastReconcileAt: lastReconcile,
		RepositorySize:  repoSize,
		ConsumerHealthy: consumerHealthy,
	}
	if !startedAt.IsZero() {
		s.UptimeSeconds = e.clock.Now().Sub(startedAt).Seconds()
	}
	return s
}
