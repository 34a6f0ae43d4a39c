package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/limit"
	mw "github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/notify"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/store"
	"github.com/conveyorhq/conveyor/worker"
)

// Engine is the top-level Conveyor instance. Create one with New, then
// Register job definitions and Start it.
type Engine struct {
	cfg      conveyor.Config
	store    store.Store
	queue    queue.Queue
	registry *job.Registry
	hooks    *hook.Registry
	broker   *notify.Broker
	limiter  *limit.Manager
	pool     *worker.Pool
	bo       backoff.Strategy
	mws      []mw.Middleware
	logger   *slog.Logger

	// Stale-running sweep settings; zero threshold disables the sweep.
	staleThreshold time.Duration
	sweepInterval  time.Duration
	sweepStop      chan struct{}
	sweepDone      chan struct{}

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine. The notification
// broker is always registered; hooks added here run alongside it.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.hooks.Register(h)
	}
}

// WithMiddleware appends middleware to the engine's chain, after the
// built-in recover/tracing/metrics/logging/timeout stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the strategy the worker pool uses to delay after
// infrastructure errors. Defaults to backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTenantLimits configures per-tenant rate limiting and concurrency
// caps. Tenants not listed are unlimited.
func WithTenantLimits(configs ...limit.TenantConfig) Option {
	return func(eng *Engine) {
		eng.limiter = limit.NewManager(configs...)
	}
}

// WithStaleThreshold sets how long a job may sit in running without an
// update before the sweep requeues it. Zero disables the sweep.
func WithStaleThreshold(d time.Duration) Option {
	return func(eng *Engine) {
		eng.staleThreshold = d
	}
}

// WithSweepInterval sets how often the stale-running sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(eng *Engine) {
		eng.sweepInterval = d
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// metrics middleware uses this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithBrokerOptions forwards options to the notification broker.
func WithBrokerOptions(opts ...notify.BrokerOption) Option {
	return func(eng *Engine) {
		eng.broker = notify.NewBroker(eng.logger, opts...)
	}
}

// normalizeConfig backfills zero fields from the defaults. A zero
// Workers would start a pool that never dequeues and a zero MaxAttempts
// would finalize every job unrun, so neither is a usable setting.
// JobTimeout stays as given; zero legitimately means unlimited.
func normalizeConfig(cfg conveyor.Config) conveyor.Config {
	defaults := conveyor.DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaults.DequeueTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	return cfg
}

// New creates an Engine from a store, a queue, and a logger.
func New(cfg conveyor.Config, st store.Store, q queue.Queue, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, conveyor.ErrNoStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = normalizeConfig(cfg)

	eng := &Engine{
		cfg:            cfg,
		store:          st,
		queue:          q,
		registry:       job.NewRegistry(),
		hooks:          hook.NewRegistry(logger),
		broker:         notify.NewBroker(logger),
		logger:         logger,
		staleThreshold: 5 * time.Minute,
		sweepInterval:  time.Minute,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// The broker observes every lifecycle transition through the hook
	// registry and fans it out to subscribers.
	eng.hooks.Register(eng.broker)

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/conveyorhq/conveyor"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/conveyorhq/conveyor"))
	} else {
		metricsMw = mw.Metrics()
	}

	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(cfg.JobTimeout),
	}
	allMws = append(allMws, eng.mws...)

	execOpts := []worker.ExecutorOption{
		worker.WithMaxAttempts(cfg.MaxAttempts),
		worker.WithMiddleware(allMws...),
	}
	if eng.limiter != nil {
		execOpts = append(execOpts, worker.WithLimiter(eng.limiter))
	}
	executor := worker.NewExecutor(eng.registry, eng.hooks, eng.store, eng.queue, logger, execOpts...)

	eng.pool = worker.NewPool(eng.queue, executor, logger,
		worker.WithPoolConcurrency(cfg.Workers),
		worker.WithDequeueTimeout(cfg.DequeueTimeout),
		worker.WithBackoff(eng.bo),
	)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Submit creates and enqueues a job with a typed payload.
func Submit[T any](ctx context.Context, eng *Engine, tenantID, jobType string, payload T) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job type %q: %w", jobType, err)
	}
	return eng.SubmitRaw(ctx, tenantID, jobType, data)
}

// SubmitRaw creates and enqueues a job with a pre-serialized payload.
// The job is durable once SubmitRaw returns: it is persisted pending
// with zero attempts and its id sits in the queue.
func (eng *Engine) SubmitRaw(ctx context.Context, tenantID, jobType string, payload []byte) (*job.Job, error) {
	if tenantID == "" {
		return nil, conveyor.ErrMissingTenant
	}
	if jobType == "" {
		return nil, conveyor.ErrMissingType
	}

	j := &job.Job{
		Entity:   conveyor.NewEntity(),
		ID:       id.NewJobID(),
		TenantID: tenantID,
		Type:     jobType,
		Payload:  payload,
		Status:   job.StatusPending,
	}

	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	// The submitted event must go out before the id becomes dequeueable.
	// A worker can pick the job up the instant Enqueue lands it, and
	// subscribers must never see started before submitted.
	eng.hooks.EmitJobSubmitted(ctx, j)

	if err := eng.queue.Enqueue(ctx, j.ID); err != nil {
		// The job is persisted but not queued; the stale sweep will not
		// pick it up, so surface the error to the caller.
		return nil, fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}

	eng.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
	)
	return j, nil
}

// GetJob retrieves a job by id.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// ListJobs returns the tenant's jobs matching opts, newest first, plus
// the total count before pagination.
func (eng *Engine) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, int, error) {
	if tenantID == "" {
		return nil, 0, conveyor.ErrMissingTenant
	}
	return eng.store.ListJobs(ctx, tenantID, opts)
}

// Subscribe registers a subscriber for the given topics and returns its
// event channel handle. Topics must be valid per notify.ValidateTopic.
// Subscribing an existing id again returns the same subscriber.
func (eng *Engine) Subscribe(subscriberID string, topics ...string) (*notify.Subscriber, error) {
	for _, topic := range topics {
		if err := notify.ValidateTopic(topic); err != nil {
			return nil, err
		}
	}
	return eng.broker.Subscribe(subscriberID, topics...), nil
}

// Unsubscribe removes the subscriber from the given topics. Events are
// never delivered for a topic after Unsubscribe returns.
func (eng *Engine) Unsubscribe(subscriberID string, topics ...string) {
	eng.broker.Unsubscribe(subscriberID, topics...)
}

// RemoveSubscriber drops all of the subscriber's topics and closes its
// channel.
func (eng *Engine) RemoveSubscriber(subscriberID string) {
	eng.broker.RemoveSubscriber(subscriberID)
}

// Start runs migrations, verifies store connectivity, and launches the
// worker pool and the stale-running sweep.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.running {
		return nil
	}

	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	if eng.staleThreshold > 0 {
		eng.sweepStop = make(chan struct{})
		eng.sweepDone = make(chan struct{})
		go eng.sweepLoop()
	}

	eng.running = true
	eng.logger.Info("engine started",
		slog.Int("workers", eng.cfg.Workers),
		slog.Int("max_attempts", eng.cfg.MaxAttempts),
	)
	return nil
}

// Stop gracefully shuts the engine down: the pool drains in-flight jobs
// within the configured shutdown timeout, then shutdown hooks run and
// all subscriber channels close.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if !eng.running {
		return nil
	}
	eng.running = false

	if eng.sweepStop != nil {
		close(eng.sweepStop)
		<-eng.sweepDone
		eng.sweepStop = nil
	}

	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.pool.Stop(ctx); err != nil {
		eng.logger.Error("worker pool stop error", slog.String("error", err.Error()))
	}

	eng.hooks.EmitShutdown(ctx)

	eng.logger.Info("engine stopped")
	return nil
}

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Broker returns the notification broker.
func (eng *Engine) Broker() *notify.Broker { return eng.broker }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Queue returns the engine's queue.
func (eng *Engine) Queue() queue.Queue { return eng.queue }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Limiter returns the tenant limiter, or nil when limits are not
// configured.
func (eng *Engine) Limiter() *limit.Manager { return eng.limiter }

// Config returns the engine's configuration.
func (eng *Engine) Config() conveyor.Config { return eng.cfg }
