package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

func TestGarbageCollectDeployments(t *testing.T) {
	c, _ := newTestController(t, &fakeSalesforce{})
	c.Config.GarbageCollect.Deployments.RetentionSeconds = 3600
	ctx := context.Background()

	old := schemas.DeploymentJob{ID: "old", Done: true, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	recent := schemas.DeploymentJob{ID: "recent", UpdatedAt: time.Now().Add(-10 * time.Minute)}

	require.NoError(t, c.Store.SetDeploymentJob(ctx, old))
	require.NoError(t, c.Store.SetDeploymentJob(ctx, recent))

	require.NoError(t, c.GarbageCollectDeployments(ctx))

	exists, err := c.Store.DeploymentJobExists(ctx, old.Key())
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = c.Store.DeploymentJobExists(ctx, recent.Key())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTaskHandlerGarbageCollectDeployments(t *testing.T) {
	c, _ := newTestController(t, &fakeSalesforce{})
	c.TaskController.TaskSchedulingMonitoring = NewTaskSchedulingMonitoring()

	require.NoError(t, c.TaskHandlerGarbageCollectDeployments(context.Background()))

	st := c.TaskController.TaskSchedulingMonitoring.Statuses()[schemas.TaskTypeGarbageCollectDeployments]
	assert.False(t, st.Last.IsZero())
}
