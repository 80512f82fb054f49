package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/helvethink/sf-trigger-toggler/pkg/salesforce"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// fakeClock advances instantly on every After call.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)

	ch := make(chan time.Time, 1)
	ch <- c.now

	return ch
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) Elapsed(since time.Time) time.Duration {
	return c.Now().Sub(since)
}

// stoppedClock never fires.
type stoppedClock struct{}

func (stoppedClock) Now() time.Time                       { return time.Time{} }
func (stoppedClock) After(time.Duration) <-chan time.Time { return nil }

// fakeClient replays status observations in order, repeating the last one.
type fakeClient struct {
	mu sync.Mutex

	session schemas.Session
	authErr error

	jobID     string
	deployErr error

	statuses []schemas.DeploymentJob
	checkErr error

	authCalls   int
	deployCalls int
	checkCalls  int
	zipFile     string
	options     salesforce.DeployOptions
}

func (f *fakeClient) Authenticate(_ context.Context, _ schemas.Credentials) (schemas.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authCalls++

	return f.session, f.authErr
}

func (f *fakeClient) Deploy(_ context.Context, _ schemas.Session, zipFile string, opts salesforce.DeployOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deployCalls++
	f.zipFile = zipFile
	f.options = opts

	return f.jobID, f.deployErr
}

func (f *fakeClient) CheckDeployStatus(_ context.Context, _ schemas.Session, jobID string, _ bool) (schemas.DeploymentJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkCalls++

	if f.checkErr != nil {
		return schemas.DeploymentJob{}, f.checkErr
	}

	i := f.checkCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}

	j := f.statuses[i]
	j.ID = jobID

	return j, nil
}

func (f *fakeClient) calls() (auth, deploy, check int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.authCalls, f.deployCalls, f.checkCalls
}

func inProgress() schemas.DeploymentJob {
	return schemas.DeploymentJob{Status: schemas.DeployStatusInProgress}
}

func succeeded() schemas.DeploymentJob {
	return schemas.DeploymentJob{
		Done:                     true,
		Success:                  true,
		Status:                   schemas.DeployStatusSucceeded,
		NumberComponentsTotal:    1,
		NumberComponentsDeployed: 1,
	}
}

func failed() schemas.DeploymentJob {
	return schemas.DeploymentJob{
		Done:                  true,
		Status:                schemas.DeployStatusFailed,
		NumberComponentsTotal: 1,
		NumberComponentErrors: 1,
		ComponentFailures: []schemas.ComponentFailure{
			{
				ComponentType: "ApexTrigger",
				FullName:      "AccountTrigger",
				FileName:      "triggers/AccountTrigger.trigger",
				Problem:       "This trigger is referenced elsewhere",
				ProblemType:   "Error",
			},
		},
	}
}
