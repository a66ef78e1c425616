package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"pulseboard/internal/alerts"
	"pulseboard/internal/config"
	"pulseboard/internal/handlers"
	"pulseboard/internal/jobs"
	"pulseboard/internal/kafka"
	"pulseboard/internal/logger"
	"pulseboard/internal/mailer"
	"pulseboard/internal/scheduler"
	"pulseboard/internal/storage"
)

// Processor is the high-level coordinator that wires storage, the two
// jobs, their scheduler and the operational HTTP server.
type Processor struct {
	cfg *config.Config

	store     storage.Store
	ownsStore bool
	producer  *kafka.Producer
	deliverer mailer.Deliverer
	generator alerts.Generator
	runNow    bool

	evaluator  *jobs.Evaluator
	delivery   *jobs.Delivery
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
	wg         sync.WaitGroup
}

// Option customises a Processor
type Option func(*Processor)

// WithStore uses store instead of opening the configured backend. The
// caller keeps ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(p *Processor) { p.store = store }
}

// WithDeliverer replaces the SMTP mailer
func WithDeliverer(d mailer.Deliverer) Option {
	return func(p *Processor) { p.deliverer = d }
}

// WithGenerator replaces the random mock value generator
func WithGenerator(g alerts.Generator) Option {
	return func(p *Processor) { p.generator = g }
}

// WithRunNow runs one evaluation pass as soon as the scheduler starts
func WithRunNow() Option {
	return func(p *Processor) { p.runNow = true }
}

// New constructs a Processor with given config.
func New(cfg *config.Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready is closed once the HTTP listener is bound and the scheduler runs
func (p *Processor) Ready() <-chan struct{} { return p.ready }

// Addr returns the bound HTTP address, or "" before Ready
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if err := p.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := p.initStore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize storage")
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer p.closeStore()

	if err := p.loadSeed(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load seed data")
		return fmt.Errorf("failed to load seed data: %w", err)
	}

	if err := p.initProducer(); err != nil {
		log.Error().Err(err).Msg("failed to initialize producer")
		return fmt.Errorf("failed to initialize producer: %w", err)
	}

	p.initJobs()

	if err := p.initScheduler(); err != nil {
		p.closeProducer()
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := p.initHTTPServer(); err != nil {
		log.Error().Err(err).Msg("failed to initialize HTTP server")
		p.closeProducer()
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	// Start HTTP server in background
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.Addr()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	p.scheduler.Start(ctx)

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	close(p.ready)

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Graceful shutdown
	return p.shutdown()
}

// initStore opens the configured storage backend unless one was injected
func (p *Processor) initStore(ctx context.Context) error {
	if p.store != nil {
		return nil
	}
	log := logger.WithComponent("processor")

	switch p.cfg.Storage.Backend {
	case "memory":
		p.store = storage.NewMemoryStore()
	default:
		store, err := storage.OpenSQLite(ctx, p.cfg.Storage.Path)
		if err != nil {
			return err
		}
		p.store = store
	}
	p.ownsStore = true

	log.Info().
		Str("backend", p.cfg.Storage.Backend).
		Str("path", p.cfg.Storage.Path).
		Msg("storage initialized")
	return nil
}

func (p *Processor) closeStore() {
	if !p.ownsStore {
		return
	}
	if err := p.store.Close(); err != nil {
		log := logger.WithComponent("processor")
		log.Error().Err(err).Msg("storage close error")
	}
}

// loadSeed applies the configured seed file, if any
func (p *Processor) loadSeed(ctx context.Context) error {
	if p.cfg.SeedPath == "" {
		return nil
	}
	f, err := os.Open(p.cfg.SeedPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = storage.Seed(ctx, p.store, f)
	return err
}

// initProducer initializes the Kafka producer when alert events are enabled
func (p *Processor) initProducer() error {
	log := logger.WithComponent("processor")
	if !p.cfg.Kafka.Enabled {
		log.Info().Msg("kafka disabled, alert events will not be published")
		return nil
	}

	producer, err := kafka.NewProducer(
		p.cfg.Kafka.Brokers,
		p.cfg.Kafka.Topic,
		p.cfg.Kafka.Producer,
	)
	if err != nil {
		return err
	}

	p.producer = producer
	log.Info().
		Strs("brokers", p.cfg.Kafka.Brokers).
		Str("topic", p.cfg.Kafka.Topic).
		Msg("kafka producer initialized")
	return nil
}

func (p *Processor) closeProducer() {
	if p.producer == nil {
		return
	}
	if err := p.producer.Close(); err != nil {
		log := logger.WithComponent("processor")
		log.Error().Err(err).Msg("producer close error")
	}
}

// initJobs builds the evaluation and delivery jobs
func (p *Processor) initJobs() {
	log := logger.WithComponent("processor")

	gen := p.generator
	if gen == nil {
		gen = alerts.NewRandomGenerator(nil)
	}
	var evalOpts []jobs.EvaluatorOption
	if p.producer != nil {
		evalOpts = append(evalOpts, jobs.WithPublisher(p.producer))
	}
	p.evaluator = jobs.NewEvaluator(p.store, gen, evalOpts...)

	if p.deliverer == nil {
		if !p.cfg.SMTP.Enabled() {
			log.Warn().Msg("smtp is not configured, alert deliveries will fail until it is")
		}
		p.deliverer = mailer.New(p.cfg.SMTP, p.cfg.FromAddress())
	}
	p.delivery = jobs.NewDelivery(p.store, p.deliverer, p.cfg.ProductName)
}

// initScheduler registers both jobs on their intervals
func (p *Processor) initScheduler() error {
	s, err := scheduler.New(
		scheduler.Entry{
			Name:       jobs.EvaluationJob,
			Interval:   p.cfg.Jobs.EvaluationInterval,
			Timeout:    p.cfg.Jobs.PassTimeout,
			RunOnStart: p.runNow,
			Run: func(ctx context.Context) error {
				_, err := p.evaluator.Run(ctx)
				return err
			},
		},
		scheduler.Entry{
			Name:     jobs.DeliveryJob,
			Interval: p.cfg.Jobs.DeliveryInterval,
			Timeout:  p.cfg.Jobs.PassTimeout,
			Run: func(ctx context.Context) error {
				_, err := p.delivery.Run(ctx)
				return err
			},
		},
	)
	if err != nil {
		return err
	}
	p.scheduler = s
	return nil
}

// initHTTPServer binds the listener and builds the router
func (p *Processor) initHTTPServer() error {
	ln, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	p.listener = ln

	hcfg := handlers.Config{
		Store:        p.store,
		Evaluator:    p.evaluator,
		Delivery:     p.delivery,
		TriggerToken: p.cfg.HTTP.TriggerToken,
		StartedAt:    time.Now(),
	}
	if p.producer != nil {
		hcfg.Events = p.producer
	}

	p.httpServer = &http.Server{
		Handler:      handlers.NewRouter(hcfg),
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	timeout := p.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop future fires and wait for in-flight passes
	log.Info().Msg("stopping scheduler")
	p.scheduler.Stop()

	// 3. Close producer
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
	}
	p.closeProducer()

	// 4. Wait for all goroutines
	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := log.Info()
			if res, ok := p.evaluator.Last(); ok {
				ev = ev.Int("last_eval_updated", res.Updated).
					Int("last_eval_alerts", res.Alerts).
					Int("last_eval_failed", res.Failed)
			}
			if res, ok := p.delivery.Last(); ok {
				ev = ev.Int("last_delivery_pending", res.Pending).
					Int("last_delivery_sent", res.Sent)
			}
			if p.producer != nil {
				stats := p.producer.Stats()
				ev = ev.Uint64("producer_sent", stats.MessagesSent).
					Uint64("producer_failed", stats.MessagesFailed).
					Uint64("producer_bytes", stats.BytesWritten)
			}
			ev.Msg("stats")
		}
	}
}
