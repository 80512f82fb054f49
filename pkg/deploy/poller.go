package deploy

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// Default polling policy.
const (
	DefaultPollDelay       = 3 * time.Second
	DefaultPollMaxAttempts = 15
)

// StatusChecker returns the current state of a deploy job.
type StatusChecker interface {
	CheckDeployStatus(ctx context.Context, session schemas.Session, jobID string, includeDetails bool) (schemas.DeploymentJob, error)
}

// Policy bounds the polling of a deploy job.
type Policy struct {
	// Delay is waited between two status checks.
	Delay time.Duration
	// MaxAttempts is the maximum number of status checks.
	MaxAttempts int
	// Deadline, when positive, is a wall-clock budget counted from the first
	// status check. No check starts after it.
	Deadline time.Duration
}

// DefaultPolicy checks every 3 seconds, at most 15 times.
func DefaultPolicy() Policy {
	return Policy{
		Delay:       DefaultPollDelay,
		MaxAttempts: DefaultPollMaxAttempts,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	if p.Delay < 0 {
		p.Delay = 0
	}

	return p
}

// Poller checks a deploy job until it is done or its policy is exhausted.
type Poller struct {
	Checker        StatusChecker
	Clock          Clock
	IncludeDetails bool

	// OnObservation, when set, is called after every successful status check.
	OnObservation func(ctx context.Context, j schemas.DeploymentJob)
}

// NewPoller returns a Poller using the real clock and requesting component details.
func NewPoller(checker StatusChecker) *Poller {
	return &Poller{
		Checker:        checker,
		Clock:          RealClock(),
		IncludeDetails: true,
	}
}

// Poll returns the first observation reporting the job as done, without
// waiting any further. N status checks are separated by N-1 delays.
//
// When the attempts or the deadline run out first, the last observation is
// returned along with a *schemas.PollTimeoutError. A failing status check or
// a cancelled ctx stops polling; the deploy itself keeps running server-side.
func (p *Poller) Poll(ctx context.Context, session schemas.Session, jobID string, policy Policy) (last schemas.DeploymentJob, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deploy:Poll")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	if jobID == "" {
		return last, &schemas.ValidationError{Field: "jobId", Reason: "is required"}
	}

	policy = policy.normalized()

	clock := p.Clock
	if clock == nil {
		clock = RealClock()
	}

	var deadline time.Time
	if policy.Deadline > 0 {
		deadline = clock.Now().Add(policy.Deadline)
	}

	last.ID = jobID

	for attempt := 1; ; attempt++ {
		j, err := p.Checker.CheckDeployStatus(ctx, session, jobID, p.IncludeDetails)
		if err != nil {
			if ctx.Err() != nil {
				return last, errors.Wrapf(ctx.Err(), "polling deploy %s", jobID)
			}

			return last, err
		}

		j.Attempts = attempt
		last = j

		if p.OnObservation != nil {
			p.OnObservation(ctx, j)
		}

		if j.Done {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return j, nil
		}

		if attempt >= policy.MaxAttempts {
			return j, &schemas.PollTimeoutError{JobID: jobID, Attempts: attempt, LastStatus: j.Status}
		}

		if !deadline.IsZero() && !clock.Now().Add(policy.Delay).Before(deadline) {
			return j, &schemas.PollTimeoutError{JobID: jobID, Attempts: attempt, LastStatus: j.Status, DeadlineExceeded: true}
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"job-id":  jobID,
				"attempt": attempt,
				"status":  j.Status,
			}).
			Debug("deploy not done yet, waiting")

		select {
		case <-ctx.Done():
			return j, errors.Wrapf(ctx.Err(), "polling deploy %s", jobID)
		case <-clock.After(policy.Delay):
		}
	}
}
