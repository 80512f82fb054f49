package controller

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/memqueue/v4"
	"github.com/vmihailenco/taskq/redisq/v4"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/sf-trigger-toggler/pkg/config"
	"github.com/helvethink/sf-trigger-toggler/pkg/deploy"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
	"github.com/helvethink/sf-trigger-toggler/pkg/store"
)

// TaskController holds the components needed to manage task queues and scheduling.
type TaskController struct {
	Factory                  taskq.Factory             // Factory creates task queues and manages their lifecycle.
	Queue                    taskq.Queue               // Queue is where tasks are enqueued and consumed.
	TaskMap                  *taskq.TaskMap            // TaskMap maps task types to their handlers.
	TaskSchedulingMonitoring *TaskSchedulingMonitoring // Last and next scheduling of the periodic tasks.
}

// TaskSchedulingStatus represents the scheduling status of a task.
type TaskSchedulingStatus struct {
	Last time.Time // The last time the task was executed
	Next time.Time // The next time the task is scheduled to be executed
}

// TaskSchedulingMonitoring keeps a TaskSchedulingStatus per task type.
type TaskSchedulingMonitoring struct {
	mu       sync.RWMutex
	statuses map[schemas.TaskType]TaskSchedulingStatus
}

// NewTaskSchedulingMonitoring returns an empty TaskSchedulingMonitoring.
func NewTaskSchedulingMonitoring() *TaskSchedulingMonitoring {
	return &TaskSchedulingMonitoring{statuses: make(map[schemas.TaskType]TaskSchedulingStatus)}
}

// Statuses returns a copy of the current statuses.
func (m *TaskSchedulingMonitoring) Statuses() map[schemas.TaskType]TaskSchedulingStatus {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[schemas.TaskType]TaskSchedulingStatus, len(m.statuses))
	for tt, s := range m.statuses {
		statuses[tt] = s
	}

	return statuses
}

func (m *TaskSchedulingMonitoring) update(tt schemas.TaskType, f func(*TaskSchedulingStatus)) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.statuses[tt]
	f(&s)
	m.statuses[tt] = s
}

// NewTaskController initializes and returns a new TaskController.
// The queue is backed by Redis when a client is provided, in memory otherwise.
func NewTaskController(ctx context.Context, r *redis.Client, maximumJobsQueueSize int) (t TaskController) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:NewTaskController")
	defer span.End()

	t.TaskMap = &taskq.TaskMap{}

	queueOptions := &taskq.QueueConfig{
		Name:                 "default",
		PauseErrorsThreshold: 3,
		Handler:              t.TaskMap,
		BufferSize:           maximumJobsQueueSize,
	}

	if r != nil {
		t.Factory = redisq.NewFactory()
		queueOptions.Redis = r
	} else {
		t.Factory = memqueue.NewFactory()
	}

	t.Queue = t.Factory.RegisterQueue(queueOptions)

	// Purge the queue to start fresh, caution advised if running in HA setups
	if err := t.Queue.Purge(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Error("purging the task queue")
	}

	if r != nil {
		if err := t.Factory.StartConsumers(context.TODO()); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Fatal("starting consuming the task queue")
		}
	}

	t.TaskSchedulingMonitoring = NewTaskSchedulingMonitoring()

	return
}

// TaskHandlerTrackDeployment keeps polling a deploy whose synchronous polling
// budget ran out, recording every observation in the store.
func (c *Controller) TaskHandlerTrackDeployment(ctx context.Context, req schemas.TrackingRequest) error {
	defer c.unqueueTask(ctx, schemas.TaskTypeTrackDeployment, req.JobID)

	return c.TrackDeployment(ctx, req)
}

// TaskHandlerGarbageCollectDeployments removes outdated deployment jobs from the store.
func (c *Controller) TaskHandlerGarbageCollectDeployments(ctx context.Context) error {
	defer c.unqueueTask(ctx, schemas.TaskTypeGarbageCollectDeployments, "_")
	defer c.TaskController.monitorLastTaskScheduling(schemas.TaskTypeGarbageCollectDeployments)

	return c.GarbageCollectDeployments(ctx)
}

// TrackDeployment polls the job of req under the tracking policy.
func (c *Controller) TrackDeployment(ctx context.Context, req schemas.TrackingRequest) error {
	logger := log.WithContext(ctx).WithField("job-id", req.JobID)
	logger.Debug("tracking deployment in background")

	j, err := c.Orchestrator.PollStatus(ctx, req.Session(), req.JobID, deploy.Policy{
		Delay:       time.Duration(c.Config.Deploy.TrackingIntervalSeconds) * time.Second,
		MaxAttempts: c.Config.Deploy.TrackingMaxAttempts,
	})
	if err != nil {
		logger.WithError(err).Warn("background tracking of deployment ended")
		return err
	}

	logger.WithField("status", j.Status).Info("deployment done")

	return nil
}

// ScheduleDeploymentTracking queues a background tracking task for j.
// The session is needed to keep polling and travels with the task payload.
func (c *Controller) ScheduleDeploymentTracking(ctx context.Context, session schemas.Session, j schemas.DeploymentJob) {
	if c.TaskController.TaskMap == nil {
		return
	}

	// The request that timed out is about to return, the task must outlive it.
	c.ScheduleTask(context.WithoutCancel(ctx), schemas.TaskTypeTrackDeployment, j.ID, schemas.TrackingRequest{
		JobID:       j.ID,
		AccessToken: session.AccessToken,
		InstanceURL: session.InstanceURL,
	})
}

// Schedule starts the periodic tasks and, with Redis, the keepalive of this instance.
func (c *Controller) Schedule(ctx context.Context, gc config.GarbageCollect) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:Schedule")
	defer span.End()

	for tt, cfg := range map[schemas.TaskType]config.SchedulerConfig{
		schemas.TaskTypeGarbageCollectDeployments: {
			OnInit:          gc.Deployments.OnInit,
			Scheduled:       gc.Deployments.Scheduled,
			IntervalSeconds: gc.Deployments.IntervalSeconds,
		},
	} {
		if cfg.OnInit {
			c.ScheduleTask(ctx, tt, "_")
		}

		if cfg.Scheduled {
			c.ScheduleTaskWithTicker(ctx, tt, cfg.IntervalSeconds)
		}
	}

	if c.Redis != nil {
		c.ScheduleRedisSetKeepalive(ctx)
	}
}

// ScheduleRedisSetKeepalive refreshes every second a Redis key signaling that
// this instance is alive, so that other instances do not take over its tasks.
func (c *Controller) ScheduleRedisSetKeepalive(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleRedisSetKeepalive")
	defer span.End()

	go func(ctx context.Context) {
		ticker := time.NewTicker(time.Duration(1) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("stopped redis keepalive")

				return
			case <-ticker.C:
				if _, err := c.Store.(*store.Redis).SetKeepalive(ctx, c.UUID.String(), time.Duration(10)*time.Second); err != nil {
					log.WithContext(ctx).
						WithError(err).
						Fatal("setting keepalive")
				}
			}
		}
	}(ctx)
}

// ScheduleTask schedules a new task of type tt identified by uniqueID.
//
// The task is skipped when the queue is full or when the store reports that
// the same task is already queued.
func (c *Controller) ScheduleTask(ctx context.Context, tt schemas.TaskType, uniqueID string, args ...interface{}) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTask")
	defer span.End()

	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.String("task_unique_id", uniqueID))

	logFields := log.Fields{
		"task_type":      tt,
		"task_unique_id": uniqueID,
	}
	task := c.TaskController.TaskMap.Get(string(tt))
	msg := task.NewJob(args...)

	qlen, err := c.TaskController.Queue.Len(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to read task queue length, skipping scheduling of task..")

		return
	}

	if qlen >= c.TaskController.Queue.Options().BufferSize {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("queue buffer size exhausted, skipping scheduling of task..")

		return
	}

	queued, err := c.Store.QueueTask(ctx, tt, uniqueID, c.UUID.String())
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to declare the queueing, skipping scheduling of task..")

		return
	}

	if !queued {
		log.WithFields(logFields).
			Debug("task already queued, skipping scheduling of task..")

		return
	}

	go func(job *taskq.Job) {
		if err := c.TaskController.Queue.AddJob(ctx, job); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Warn("scheduling task")
		}
	}(msg)
}

// ScheduleTaskWithTicker schedules a task of type tt every intervalSeconds
// until ctx is done.
func (c *Controller) ScheduleTaskWithTicker(ctx context.Context, tt schemas.TaskType, intervalSeconds int) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTaskWithTicker")
	defer span.End()
	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.Int("interval_seconds", intervalSeconds))

	if intervalSeconds <= 0 {
		log.WithContext(ctx).
			WithField("task", tt).
			Warn("task scheduling misconfigured, currently disabled")

		return
	}

	log.WithFields(log.Fields{
		"task":             tt,
		"interval_seconds": intervalSeconds,
	}).Debug("task scheduled")

	c.TaskController.monitorNextTaskScheduling(tt, intervalSeconds)

	go func(ctx context.Context) {
		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.WithField("task", tt).Info("scheduling of task stopped")

				return
			case <-ticker.C:
				c.ScheduleTask(ctx, tt, "_")
				c.TaskController.monitorNextTaskScheduling(tt, intervalSeconds)
			}
		}
	}(ctx)
}

func (tc *TaskController) monitorNextTaskScheduling(tt schemas.TaskType, duration int) {
	tc.TaskSchedulingMonitoring.update(tt, func(s *TaskSchedulingStatus) {
		s.Next = time.Now().Add(time.Duration(duration) * time.Second)
	})
}

func (tc *TaskController) monitorLastTaskScheduling(tt schemas.TaskType) {
	tc.TaskSchedulingMonitoring.update(tt, func(s *TaskSchedulingStatus) {
		s.Last = time.Now()
	})
}
