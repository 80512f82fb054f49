package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/v4"
	"go.openly.dev/pointy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"google.golang.org/grpc"

	"github.com/helvethink/sf-trigger-toggler/pkg/config"
	"github.com/helvethink/sf-trigger-toggler/pkg/deploy"
	"github.com/helvethink/sf-trigger-toggler/pkg/metadata"
	"github.com/helvethink/sf-trigger-toggler/pkg/ratelimit"
	"github.com/helvethink/sf-trigger-toggler/pkg/salesforce"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
	"github.com/helvethink/sf-trigger-toggler/pkg/store"
)

const tracerName = "sf-trigger-toggler"

// Controller holds the necessary clients and components to run the application and handle its operations.
// The UUID field uniquely identifies this controller instance, especially useful when several
// instances share the same Redis.
type Controller struct {
	Config         config.Config        // Application configuration settings
	Redis          *redis.Client        // Redis client, nil when running with the local driver
	Salesforce     *salesforce.Client   // Salesforce login & Metadata API client
	Orchestrator   *deploy.Orchestrator // Runs the toggle workflow
	Store          store.Store          // Deployment jobs and queued tasks
	TaskController TaskController       // Manages background tasks and job queues

	// ToggleRequests counts the toggle requests served, by outcome.
	ToggleRequests *prometheus.CounterVec

	// UUID uniquely identifies this controller instance among others when running
	// in clustered mode, facilitating coordination via Redis.
	UUID uuid.UUID
}

// New creates and initializes a new Controller instance.
// It sets up tracing, the Redis connection, the task controller, the store, the
// Salesforce client and the orchestrator, then starts the schedulers.
func New(ctx context.Context, cfg config.Config, version string) (c *Controller, err error) {
	c = &Controller{
		Config:         cfg,
		UUID:           uuid.New(),
		ToggleRequests: NewInternalCollectorToggleRequestsCount(),
	}

	if err = configureTracing(ctx, cfg.OpenTelemetry.GRPCEndpoint); err != nil {
		return
	}

	if err = c.configureRedis(ctx, cfg.Redis.URL); err != nil {
		return
	}

	c.TaskController = NewTaskController(ctx, c.Redis, cfg.Deploy.MaximumJobsQueueSize)
	c.registerTasks()

	c.Store = store.New(ctx, c.Redis)

	if err = c.configureSalesforce(cfg.Salesforce, version); err != nil {
		return
	}

	c.configureOrchestrator(cfg.Salesforce.APIVersion, cfg.Deploy)

	c.Schedule(ctx, cfg.GarbageCollect)

	return
}

// registerTasks registers all task handlers with the TaskController's task map.
func (c *Controller) registerTasks() {
	for n, h := range map[schemas.TaskType]interface{}{
		schemas.TaskTypeTrackDeployment:           c.TaskHandlerTrackDeployment,
		schemas.TaskTypeGarbageCollectDeployments: c.TaskHandlerGarbageCollectDeployments,
	} {
		_, _ = c.TaskController.TaskMap.Register(string(n), &taskq.TaskConfig{
			Handler:    h,
			RetryLimit: 1,
		})
	}
}

// unqueueTask removes a task from the queue bookkeeping of the store, logging on failure.
func (c *Controller) unqueueTask(ctx context.Context, tt schemas.TaskType, uniqueID string) {
	if err := c.Store.UnqueueTask(ctx, tt, uniqueID); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"task_type":      tt,
				"task_unique_id": uniqueID,
			}).
			WithError(err).
			Warn("unqueuing task")
	}
}

// configureTracing sets up OpenTelemetry tracing via a gRPC endpoint.
// If no endpoint is provided, tracing support is skipped.
func configureTracing(ctx context.Context, grpcEndpoint string) error {
	if len(grpcEndpoint) == 0 {
		log.Debug("opentelemetry.grpc_endpoint is not configured, skipping open telemetry support")
		return nil
	}

	log.WithFields(log.Fields{
		"opentelemetry_grpc_endpoint": grpcEndpoint,
	}).Info("opentelemetry gRPC endpoint provided, initializing connection..")

	traceClient := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(grpcEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()), // nolint: staticcheck
	)

	traceExp, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("sf-trigger-toggler"),
		),
	)
	if err != nil {
		return err
	}

	otel.SetTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
	))

	return nil
}

// configureSalesforce initializes the Salesforce client. Requests are rate limited
// through Redis when available so that every instance shares the same budget.
func (c *Controller) configureSalesforce(cfg config.Salesforce, version string) (err error) {
	var rl ratelimit.Limiter

	if c.Redis != nil {
		rl = ratelimit.NewRedisLimiter(c.Redis, cfg.MaximumRequestsPerSecond)
	} else {
		rl = ratelimit.NewLocalLimiter(cfg.MaximumRequestsPerSecond, cfg.BurstableRequestsPerSecond)
	}

	c.Salesforce, err = salesforce.NewClient(salesforce.ClientConfig{
		LoginURL:         cfg.LoginURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		AuthMode:         salesforce.AuthMode(cfg.AuthMode),
		APIVersion:       cfg.APIVersion,
		UserAgentVersion: version,
		DisableTLSVerify: !cfg.EnableTLSVerify,
		RequestTimeout:   time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		TransportRetries: cfg.TransportRetries,
		ReadinessURL:     cfg.HealthURL,
		RateLimiter:      rl,
	})

	return
}

// configureOrchestrator builds the orchestrator from the deploy settings. Jobs
// whose polling budget runs out are handed over to background tracking when enabled.
func (c *Controller) configureOrchestrator(apiVersion string, cfg config.Deploy) {
	opts := deploy.Options{
		Package: metadata.Options{
			APIVersion:  apiVersion,
			IncludeBody: cfg.IncludeTriggerBody,
			SObject:     cfg.PlaceholderSObject,
		},
		Deploy: salesforce.DefaultDeployOptions(),
		Policy: deploy.Policy{
			Delay:       time.Duration(cfg.PollIntervalSeconds) * time.Second,
			MaxAttempts: cfg.MaxPollAttempts,
			Deadline:    time.Duration(cfg.PollDeadlineSeconds) * time.Second,
		},
	}

	opts.Deploy.CheckOnly = pointy.Bool(cfg.CheckOnly)
	opts.Deploy.IgnoreWarnings = pointy.Bool(cfg.IgnoreWarnings)
	opts.Deploy.TestLevel = cfg.TestLevel

	var client deploy.Client
	if c.Salesforce != nil {
		client = c.Salesforce
	}

	c.Orchestrator = deploy.New(client, c.Store, opts)

	if cfg.TrackInBackground {
		c.Orchestrator.OnPollTimeout = c.ScheduleDeploymentTracking
	}
}

// configureRedis initializes the Redis client using the provided URL and sets up OpenTelemetry tracing instrumentation.
func (c *Controller) configureRedis(ctx context.Context, url string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:configureRedis")
	defer span.End()

	if len(url) <= 0 {
		log.Debug("redis url is not configured, skipping configuration & using local driver")
		return
	}

	log.Info("redis url configured, initializing connection..")

	var opt *redis.Options

	if opt, err = redis.ParseURL(url); err != nil {
		return
	}

	c.Redis = redis.NewClient(opt)

	if err = redisotel.InstrumentTracing(c.Redis); err != nil {
		return
	}

	if _, err := c.Redis.Ping(ctx).Result(); err != nil {
		return errors.Wrap(err, "connecting to redis")
	}

	log.Info("connected to redis")

	return
}
