package store

import (
	"context"
	"sync"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// Local is an in-memory Store, suitable for a single replica.
type Local struct {
	deploymentJobs      schemas.DeploymentJobs
	deploymentJobsMutex sync.RWMutex

	tasks              schemas.Tasks
	tasksMutex         sync.RWMutex
	executedTasksCount uint64
}

// SetDeploymentJob stores a job unless its stored version is already done.
func (l *Local) SetDeploymentJob(_ context.Context, j schemas.DeploymentJob) error {
	l.deploymentJobsMutex.Lock()
	defer l.deploymentJobsMutex.Unlock()

	if existing, ok := l.deploymentJobs[j.Key()]; ok && existing.Done {
		return schemas.ErrDeploymentFinalized
	}

	l.deploymentJobs[j.Key()] = j

	return nil
}

// DelDeploymentJob removes a job.
func (l *Local) DelDeploymentJob(_ context.Context, k schemas.DeploymentJobKey) error {
	l.deploymentJobsMutex.Lock()
	defer l.deploymentJobsMutex.Unlock()

	delete(l.deploymentJobs, k)

	return nil
}

// GetDeploymentJob retrieves a job.
func (l *Local) GetDeploymentJob(_ context.Context, j *schemas.DeploymentJob) error {
	l.deploymentJobsMutex.RLock()
	defer l.deploymentJobsMutex.RUnlock()

	if stored, ok := l.deploymentJobs[j.Key()]; ok {
		*j = stored
	}

	return nil
}

// DeploymentJobExists checks whether a job is known.
func (l *Local) DeploymentJobExists(_ context.Context, k schemas.DeploymentJobKey) (bool, error) {
	l.deploymentJobsMutex.RLock()
	defer l.deploymentJobsMutex.RUnlock()

	_, ok := l.deploymentJobs[k]

	return ok, nil
}

// DeploymentJobs returns a copy of every stored job.
func (l *Local) DeploymentJobs(_ context.Context) (jobs schemas.DeploymentJobs, err error) {
	jobs = make(schemas.DeploymentJobs)

	l.deploymentJobsMutex.RLock()
	defer l.deploymentJobsMutex.RUnlock()

	for k, v := range l.deploymentJobs {
		jobs[k] = v
	}

	return
}

// DeploymentJobsCount returns the number of stored jobs.
func (l *Local) DeploymentJobsCount(_ context.Context) (int64, error) {
	l.deploymentJobsMutex.RLock()
	defer l.deploymentJobsMutex.RUnlock()

	return int64(len(l.deploymentJobs)), nil
}

// isTaskAlreadyQueued assesses if a task is already queued or not.
func (l *Local) isTaskAlreadyQueued(tt schemas.TaskType, uniqueID string) bool {
	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if l.tasks == nil {
		l.tasks = make(schemas.Tasks)
	}

	taskTypeQueue, ok := l.tasks[tt]
	if !ok {
		l.tasks[tt] = make(map[string]interface{})

		return false
	}

	_, alreadyQueued := taskTypeQueue[uniqueID]

	return alreadyQueued
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
func (l *Local) QueueTask(_ context.Context, tt schemas.TaskType, uniqueID, _ string) (bool, error) {
	if l.isTaskAlreadyQueued(tt, uniqueID) {
		return false, nil
	}

	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if _, ok := l.tasks[tt][uniqueID]; ok {
		return false, nil
	}

	l.tasks[tt][uniqueID] = nil

	return true, nil
}

// UnqueueTask removes the task from the tracker.
func (l *Local) UnqueueTask(_ context.Context, tt schemas.TaskType, uniqueID string) error {
	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if _, ok := l.tasks[tt][uniqueID]; ok {
		delete(l.tasks[tt], uniqueID)
		l.executedTasksCount++
	}

	return nil
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (l *Local) CurrentlyQueuedTasksCount(_ context.Context) (count uint64, err error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	for _, t := range l.tasks {
		count += uint64(len(t))
	}

	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (l *Local) ExecutedTasksCount(_ context.Context) (uint64, error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	return l.executedTasksCount, nil
}
