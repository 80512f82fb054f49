package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

var testSession = schemas.Session{AccessToken: "00D!session", InstanceURL: "https://acme.my.salesforce.com"}

func TestPollReturnsOnThirdAttempt(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{statuses: []schemas.DeploymentJob{inProgress(), inProgress(), succeeded()}}
	p := &Poller{Checker: client, Clock: clock}

	j, err := p.Poll(context.Background(), testSession, "X", DefaultPolicy())
	require.NoError(t, err)

	assert.True(t, j.Done)
	assert.Equal(t, schemas.DeployStatusSucceeded, j.Status)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, "X", j.ID)

	_, _, checks := client.calls()
	assert.Equal(t, 3, checks)
	assert.Equal(t, []time.Duration{DefaultPollDelay, DefaultPollDelay}, clock.Sleeps())
}

func TestPollReturnsImmediatelyWhenDone(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{statuses: []schemas.DeploymentJob{succeeded()}}
	p := &Poller{Checker: client, Clock: clock}

	j, err := p.Poll(context.Background(), testSession, "X", DefaultPolicy())
	require.NoError(t, err)
	assert.True(t, j.Done)
	assert.Equal(t, 1, j.Attempts)
	assert.Empty(t, clock.Sleeps())
}

func TestPollTimesOutWithinBudget(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	client := &fakeClient{statuses: []schemas.DeploymentJob{inProgress()}}
	p := &Poller{Checker: client, Clock: clock}

	policy := Policy{Delay: 3 * time.Second, MaxAttempts: 4}

	j, err := p.Poll(context.Background(), testSession, "X", policy)

	var timeout *schemas.PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "X", timeout.JobID)
	assert.Equal(t, 4, timeout.Attempts)
	assert.Equal(t, schemas.DeployStatusInProgress, timeout.LastStatus)
	assert.False(t, timeout.DeadlineExceeded)

	assert.False(t, j.Done)
	assert.Equal(t, schemas.DeployStatusInProgress, j.Status)

	_, _, checks := client.calls()
	assert.Equal(t, 4, checks)
	assert.Len(t, clock.Sleeps(), 3)
	assert.LessOrEqual(t, clock.Elapsed(start), time.Duration(policy.MaxAttempts)*policy.Delay)
}

func TestPollStopsAtDeadline(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	client := &fakeClient{statuses: []schemas.DeploymentJob{inProgress()}}
	p := &Poller{Checker: client, Clock: clock}

	_, err := p.Poll(context.Background(), testSession, "X", Policy{
		Delay:       3 * time.Second,
		MaxAttempts: 100,
		Deadline:    10 * time.Second,
	})

	var timeout *schemas.PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.True(t, timeout.DeadlineExceeded)
	assert.Equal(t, 4, timeout.Attempts)
	assert.LessOrEqual(t, clock.Elapsed(start), 10*time.Second)
}

func TestPollWithoutJobID(t *testing.T) {
	client := &fakeClient{statuses: []schemas.DeploymentJob{succeeded()}}
	p := &Poller{Checker: client, Clock: newFakeClock()}

	_, err := p.Poll(context.Background(), testSession, "", DefaultPolicy())

	var vErr *schemas.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, _, checks := client.calls()
	assert.Zero(t, checks)
}

func TestPollCancelled(t *testing.T) {
	client := &fakeClient{statuses: []schemas.DeploymentJob{inProgress()}}
	p := &Poller{Checker: client, Clock: stoppedClock{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j, err := p.Poll(ctx, testSession, "X", DefaultPolicy())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, j.Attempts)

	var timeout *schemas.PollTimeoutError
	assert.False(t, errors.As(err, &timeout))
}

func TestPollStopsOnCheckError(t *testing.T) {
	checkErr := errors.New("connection reset by peer")
	client := &fakeClient{checkErr: checkErr}
	p := &Poller{Checker: client, Clock: newFakeClock()}

	j, err := p.Poll(context.Background(), testSession, "X", DefaultPolicy())
	assert.ErrorIs(t, err, checkErr)
	assert.Equal(t, "X", j.ID)

	_, _, checks := client.calls()
	assert.Equal(t, 1, checks)
}

func TestPollNotifiesObservations(t *testing.T) {
	client := &fakeClient{statuses: []schemas.DeploymentJob{inProgress(), succeeded()}}

	var seen []schemas.DeployStatus

	p := &Poller{
		Checker: client,
		Clock:   newFakeClock(),
		OnObservation: func(_ context.Context, j schemas.DeploymentJob) {
			seen = append(seen, j.Status)
		},
	}

	_, err := p.Poll(context.Background(), testSession, "X", DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []schemas.DeployStatus{schemas.DeployStatusInProgress, schemas.DeployStatusSucceeded}, seen)
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{Delay: -time.Second}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Zero(t, p.Delay)
}
