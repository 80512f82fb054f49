package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeployStatusTerminal(t *testing.T) {
	terminal := map[DeployStatus]bool{
		DeployStatusPending:          false,
		DeployStatusInProgress:       false,
		DeployStatusCanceling:        false,
		DeployStatusSucceeded:        true,
		DeployStatusSucceededPartial: true,
		DeployStatusFailed:           true,
		DeployStatusCanceled:         true,
	}

	for s, expected := range terminal {
		assert.Equal(t, expected, s.Terminal(), string(s))
	}
}

func TestDeploymentJobObserve(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	observed := created.Add(time.Minute)

	j := DeploymentJob{
		ID:           "0Af1",
		TriggerName:  "AccountTrigger",
		TargetStatus: TriggerStatusInactive,
		Status:       DeployStatusPending,
		Attempts:     2,
		CreatedAt:    created,
	}

	j.Observe(DeploymentJob{Done: true, Status: DeployStatusSucceeded, Success: true}, observed)

	assert.Equal(t, "0Af1", j.ID)
	assert.Equal(t, "AccountTrigger", j.TriggerName)
	assert.Equal(t, TriggerStatusInactive, j.TargetStatus)
	assert.Equal(t, created, j.CreatedAt)
	assert.Equal(t, observed, j.UpdatedAt)
	assert.Equal(t, 2, j.Attempts)
	assert.True(t, j.Done)
	assert.False(t, j.Failed())

	// done jobs are immutable
	j.Observe(DeploymentJob{Done: false, Status: DeployStatusInProgress}, observed.Add(time.Minute))
	assert.True(t, j.Done)
	assert.Equal(t, DeployStatusSucceeded, j.Status)
	assert.Equal(t, observed, j.UpdatedAt)
}

func TestDeploymentJobsCountByStatus(t *testing.T) {
	jobs := DeploymentJobs{
		"a": {ID: "a", Status: DeployStatusSucceeded},
		"b": {ID: "b", Status: DeployStatusSucceeded},
		"c": {ID: "c", Status: DeployStatusFailed},
	}

	counts := jobs.CountByStatus()
	assert.Equal(t, 2, counts[DeployStatusSucceeded])
	assert.Equal(t, 1, counts[DeployStatusFailed])
	assert.Equal(t, 0, counts[DeployStatusPending])
	assert.Equal(t, 3, jobs.Count())
}
