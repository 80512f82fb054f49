package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/sf-trigger-toggler/pkg/deploy"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

func TestTaskHandlerTrackDeployment(t *testing.T) {
	client := &fakeSalesforce{statuses: []schemas.DeploymentJob{inProgress(), inProgress(), succeeded()}}
	c, _ := newTestController(t, client)
	ctx := context.Background()

	require.NoError(t, c.Store.SetDeploymentJob(ctx, schemas.DeploymentJob{
		ID:          "X",
		TriggerName: "AccountTrigger",
		Status:      schemas.DeployStatusInProgress,
		Attempts:    15,
	}))

	queued, err := c.Store.QueueTask(ctx, schemas.TaskTypeTrackDeployment, "X", c.UUID.String())
	require.NoError(t, err)
	require.True(t, queued)

	err = c.TaskHandlerTrackDeployment(ctx, schemas.TrackingRequest{
		JobID:       "X",
		AccessToken: testSession.AccessToken,
		InstanceURL: testSession.InstanceURL,
	})
	require.NoError(t, err)

	j := schemas.DeploymentJob{ID: "X"}
	require.NoError(t, c.Store.GetDeploymentJob(ctx, &j))
	assert.True(t, j.Done)
	assert.Equal(t, 18, j.Attempts)
	assert.Equal(t, "AccountTrigger", j.TriggerName)

	count, err := c.Store.CurrentlyQueuedTasksCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTaskHandlerTrackDeploymentGivesUp(t *testing.T) {
	client := &fakeSalesforce{statuses: []schemas.DeploymentJob{inProgress()}}
	c, _ := newTestController(t, client)
	c.Config.Deploy.TrackingMaxAttempts = 4

	err := c.TaskHandlerTrackDeployment(context.Background(), schemas.TrackingRequest{JobID: "X", AccessToken: "t", InstanceURL: "https://acme.my.salesforce.com"})

	var timeout *schemas.PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 4, timeout.Attempts)
}

func TestToggleTimeoutIsTrackedInBackground(t *testing.T) {
	client := &fakeSalesforce{
		jobID:    "X",
		statuses: []schemas.DeploymentJob{inProgress(), inProgress(), inProgress(), succeeded()},
	}
	c, _ := newTestController(t, client)
	ctx := context.Background()

	c.TaskController = NewTaskController(ctx, nil, 100)
	c.registerTasks()
	t.Cleanup(func() { _ = c.TaskController.Queue.Close() })

	c.Orchestrator.Options.Policy = deploy.Policy{MaxAttempts: 2}
	c.Orchestrator.OnPollTimeout = c.ScheduleDeploymentTracking

	_, err := c.Orchestrator.Toggle(ctx, deploy.Request{
		Credentials: schemas.Credentials{SessionID: testSession.AccessToken, InstanceURL: testSession.InstanceURL},
		TriggerName: "AccountTrigger",
		Status:      "off",
	})

	var timeout *schemas.PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 2, timeout.Attempts)

	j := schemas.DeploymentJob{ID: "X"}
	require.Eventually(t, func() bool {
		current := schemas.DeploymentJob{ID: "X"}
		if err := c.Store.GetDeploymentJob(ctx, &current); err != nil || !current.Done {
			return false
		}

		j = current

		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, schemas.DeployStatusSucceeded, j.Status)
	assert.Equal(t, 4, j.Attempts)
	assert.Equal(t, "AccountTrigger", j.TriggerName)

	require.Eventually(t, func() bool {
		count, err := c.Store.CurrentlyQueuedTasksCount(ctx)
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduleDeploymentTrackingWithoutTaskMap(t *testing.T) {
	c, _ := newTestController(t, &fakeSalesforce{})

	c.ScheduleDeploymentTracking(context.Background(), testSession, schemas.DeploymentJob{ID: "X"})

	count, err := c.Store.CurrentlyQueuedTasksCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTaskSchedulingMonitoring(t *testing.T) {
	tc := TaskController{TaskSchedulingMonitoring: NewTaskSchedulingMonitoring()}

	before := time.Now()
	tc.monitorNextTaskScheduling(schemas.TaskTypeGarbageCollectDeployments, 60)
	tc.monitorLastTaskScheduling(schemas.TaskTypeGarbageCollectDeployments)

	statuses := tc.TaskSchedulingMonitoring.Statuses()
	require.Contains(t, statuses, schemas.TaskTypeGarbageCollectDeployments)

	st := statuses[schemas.TaskTypeGarbageCollectDeployments]
	assert.False(t, st.Last.Before(before))
	assert.True(t, st.Next.After(before.Add(59*time.Second)))

	var nilMonitoring *TaskSchedulingMonitoring
	assert.Nil(t, nilMonitoring.Statuses())
	nilMonitoring.update(schemas.TaskTypeTrackDeployment, func(*TaskSchedulingStatus) {})
}
