package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// Constants for Redis keys
const (
	redisDeploymentJobsKey     string = "deployments"
	redisTaskKey               string = "task"
	redisTasksExecutedCountKey string = "tasksExecutedCount"
	redisKeepaliveKey          string = "keepalive"
)

// Redis is a Store shared by every replica using the same redis.
type Redis struct {
	*redis.Client
}

// maxTxRetries bounds the attempts of an optimistic transaction losing the
// race against concurrent writers of the same key.
const maxTxRetries = 10

// SetDeploymentJob stores a job unless its stored version is already done.
// The check and the write happen in a single optimistic transaction.
func (r *Redis) SetDeploymentJob(ctx context.Context, j schemas.DeploymentJob) error {
	marshalledJob, err := msgpack.Marshal(j)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, redisDeploymentJobsKey, string(j.Key())).Result()

		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			existing := schemas.DeploymentJob{}
			if err = msgpack.Unmarshal([]byte(current), &existing); err != nil {
				return err
			}

			if existing.Done {
				return schemas.ErrDeploymentFinalized
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisDeploymentJobsKey, string(j.Key()), marshalledJob)
			return nil
		})

		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = r.Watch(ctx, txf, redisDeploymentJobsKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return errors.Wrapf(err, "writing deployment job %s", j.ID)
}

// DelDeploymentJob removes a job.
func (r *Redis) DelDeploymentJob(ctx context.Context, k schemas.DeploymentJobKey) error {
	_, err := r.HDel(ctx, redisDeploymentJobsKey, string(k)).Result()
	return err
}

// GetDeploymentJob retrieves a job.
func (r *Redis) GetDeploymentJob(ctx context.Context, j *schemas.DeploymentJob) error {
	marshalledJob, err := r.HGet(ctx, redisDeploymentJobsKey, string(j.Key())).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}

	if err != nil {
		return err
	}

	return msgpack.Unmarshal([]byte(marshalledJob), j)
}

// DeploymentJobExists checks whether a job is known.
func (r *Redis) DeploymentJobExists(ctx context.Context, k schemas.DeploymentJobKey) (bool, error) {
	return r.HExists(ctx, redisDeploymentJobsKey, string(k)).Result()
}

// DeploymentJobs returns every stored job.
func (r *Redis) DeploymentJobs(ctx context.Context) (schemas.DeploymentJobs, error) {
	jobs := schemas.DeploymentJobs{}

	marshalledJobs, err := r.HGetAll(ctx, redisDeploymentJobsKey).Result()
	if err != nil {
		return jobs, err
	}

	for stringJobKey, marshalledJob := range marshalledJobs {
		j := schemas.DeploymentJob{}

		if err = msgpack.Unmarshal([]byte(marshalledJob), &j); err != nil {
			return jobs, err
		}

		jobs[schemas.DeploymentJobKey(stringJobKey)] = j
	}

	return jobs, nil
}

// DeploymentJobsCount returns the number of stored jobs.
func (r *Redis) DeploymentJobsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisDeploymentJobsKey).Result()
}

// SetKeepalive sets a key with a UUID corresponding to the currently running process.
func (r *Redis) SetKeepalive(ctx context.Context, uuid string, ttl time.Duration) (bool, error) {
	return r.SetNX(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid), nil, ttl).Result()
}

// KeepaliveExists returns whether a keepalive exists or not for a particular UUID.
func (r *Redis) KeepaliveExists(ctx context.Context, uuid string) (bool, error) {
	exists, err := r.Exists(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid)).Result()
	return exists == 1, err
}

func getRedisQueueKey(tt schemas.TaskType, taskUUID string) string {
	return fmt.Sprintf("%s:%v:%s", redisTaskKey, tt, taskUUID)
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
// A task held by a process whose keepalive expired is taken over.
func (r *Redis) QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (set bool, err error) {
	k := getRedisQueueKey(tt, taskUUID)

	set, err = r.SetNX(ctx, k, processUUID, 0).Result()
	if err != nil || set {
		return
	}

	var tpuuid string
	if tpuuid, err = r.Get(ctx, k).Result(); err != nil {
		return
	}

	if tpuuid != processUUID {
		var uuidIsAlive bool
		if uuidIsAlive, err = r.KeepaliveExists(ctx, tpuuid); err != nil {
			return
		}

		if !uuidIsAlive {
			if _, err = r.Set(ctx, k, processUUID, 0).Result(); err != nil {
				return
			}

			return true, nil
		}
	}

	return
}

// UnqueueTask removes the task from the tracker.
func (r *Redis) UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) (err error) {
	var matched int64

	matched, err = r.Del(ctx, getRedisQueueKey(tt, taskUUID)).Result()
	if err != nil {
		return
	}

	if matched > 0 {
		_, err = r.Incr(ctx, redisTasksExecutedCountKey).Result()
	}

	return
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (r *Redis) CurrentlyQueuedTasksCount(ctx context.Context) (count uint64, err error) {
	iter := r.Scan(ctx, 0, fmt.Sprintf("%s:*", redisTaskKey), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	err = iter.Err()

	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (r *Redis) ExecutedTasksCount(ctx context.Context) (uint64, error) {
	countString, err := r.Get(ctx, redisTasksExecutedCountKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	c, err := strconv.ParseUint(countString, 10, 64)

	return c, err
}
