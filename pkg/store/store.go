package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// Store keeps track of the deployment jobs submitted by the service and of
// the background tasks currently queued.
type Store interface {
	// SetDeploymentJob stores a job. It returns schemas.ErrDeploymentFinalized
	// when the stored version of the job is already done.
	SetDeploymentJob(ctx context.Context, j schemas.DeploymentJob) error
	DelDeploymentJob(ctx context.Context, k schemas.DeploymentJobKey) error
	// GetDeploymentJob fills j from the store, leaving it untouched when unknown.
	GetDeploymentJob(ctx context.Context, j *schemas.DeploymentJob) error
	DeploymentJobExists(ctx context.Context, k schemas.DeploymentJobKey) (bool, error)
	DeploymentJobs(ctx context.Context) (schemas.DeploymentJobs, error)
	DeploymentJobsCount(ctx context.Context) (int64, error)

	// Helpers to keep track of currently queued tasks and avoid scheduling them
	// twice at the risk of ending up with loads of dangling goroutines being locked
	QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (bool, error)
	UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) error
	CurrentlyQueuedTasksCount(ctx context.Context) (uint64, error)
	ExecutedTasksCount(ctx context.Context) (uint64, error)
}

// NewLocalStore creates a new in-memory store.
func NewLocalStore() Store {
	return &Local{
		deploymentJobs: make(schemas.DeploymentJobs),
	}
}

// NewRedisStore creates a new store backed by redis.
func NewRedisStore(client *redis.Client) Store {
	return &Redis{
		Client: client,
	}
}

// New returns a redis store when a client is given, a local one otherwise.
func New(ctx context.Context, r *redis.Client) (s Store) {
	_, span := otel.Tracer("sf-trigger-toggler").Start(ctx, "store:New")
	defer span.End()

	if r != nil {
		return NewRedisStore(r)
	}

	return NewLocalStore()
}
