package deploy

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/sf-trigger-toggler/pkg/metadata"
	"github.com/helvethink/sf-trigger-toggler/pkg/salesforce"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
	"github.com/helvethink/sf-trigger-toggler/pkg/store"
)

const tracerName = "sf-trigger-toggler"

// Client is the part of the Salesforce client the orchestrator needs.
type Client interface {
	StatusChecker
	Authenticate(ctx context.Context, creds schemas.Credentials) (schemas.Session, error)
	Deploy(ctx context.Context, session schemas.Session, zipFile string, opts salesforce.DeployOptions) (string, error)
}

// Options are the deployment settings shared by every request.
type Options struct {
	Package metadata.Options
	Deploy  salesforce.DeployOptions
	Policy  Policy
}

// Request asks for a trigger to be switched on or off.
type Request struct {
	Credentials schemas.Credentials
	TriggerName string
	// Status is one of on, off, active or inactive.
	Status string
}

// Orchestrator runs the authenticate, package, submit and poll steps of a
// trigger toggle. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	Client  Client
	Store   store.Store
	Clock   Clock
	Options Options

	// OnPollTimeout, when set, is called with the last observation of a job
	// whose polling budget ran out.
	OnPollTimeout func(ctx context.Context, session schemas.Session, j schemas.DeploymentJob)
}

// New returns an Orchestrator. s may be nil, in which case jobs are not recorded.
func New(client Client, s store.Store, opts Options) *Orchestrator {
	return &Orchestrator{
		Client:  client,
		Store:   s,
		Clock:   RealClock(),
		Options: opts,
	}
}

// Authenticate resolves the credentials into a session.
func (o *Orchestrator) Authenticate(ctx context.Context, creds schemas.Credentials) (schemas.Session, error) {
	if err := ValidateCredentials(creds); err != nil {
		return schemas.Session{}, err
	}

	return o.Client.Authenticate(ctx, creds)
}

// ValidateCredentials checks that creds carry either a session or a login.
func ValidateCredentials(creds schemas.Credentials) error {
	if creds.HasSession() || creds.HasPassword() {
		return nil
	}

	switch {
	case creds.SessionID != "" && creds.InstanceURL == "":
		return &schemas.ValidationError{Field: "orgUrl", Reason: "is required along with sessionId"}
	case creds.InstanceURL != "" && creds.SessionID == "":
		return &schemas.ValidationError{Field: "sessionId", Reason: "is required along with orgUrl"}
	case creds.Username != "":
		return &schemas.ValidationError{Field: "password", Reason: "is required along with username"}
	}

	return &schemas.ValidationError{Reason: "either username and password or sessionId and orgUrl are required"}
}

// BuildPackage validates the trigger name and status and assembles the
// metadata package. No network call is made.
func (o *Orchestrator) BuildPackage(triggerName, status string) (metadata.Package, error) {
	ts, err := schemas.ParseTriggerStatus(status)
	if err != nil {
		return metadata.Package{}, err
	}

	return metadata.New(triggerName, ts, o.Options.Package)
}

// SubmitDeploy sends the package and records the resulting job.
func (o *Orchestrator) SubmitDeploy(ctx context.Context, session schemas.Session, pkg metadata.Package) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deploy:SubmitDeploy")
	defer span.End()

	zipFile, err := pkg.Base64()
	if err != nil {
		return "", &schemas.DeploySubmissionError{Reason: "building archive", Err: err}
	}

	jobID, err := o.Client.Deploy(ctx, session, zipFile, o.Options.Deploy)
	if err != nil {
		return "", err
	}

	now := o.clock().Now()
	o.record(ctx, schemas.DeploymentJob{
		ID:           jobID,
		TriggerName:  pkg.TriggerName,
		TargetStatus: pkg.Status,
		Status:       schemas.DeployStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	return jobID, nil
}

// PollStatus checks the job until it is done or the policy runs out.
// A job already known as done is returned without any status check.
// A job done without success yields a *schemas.DeployFailedError.
func (o *Orchestrator) PollStatus(ctx context.Context, session schemas.Session, jobID string, policy Policy) (schemas.DeploymentJob, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deploy:PollStatus")
	defer span.End()

	tracked := schemas.DeploymentJob{ID: jobID}

	if jobID != "" && o.Store != nil {
		if err := o.Store.GetDeploymentJob(ctx, &tracked); err != nil {
			log.WithContext(ctx).
				WithField("job-id", jobID).
				WithError(err).
				Warn("reading deployment job from the store")
		}

		if tracked.Done {
			return tracked, outcome(tracked)
		}
	}

	poller := &Poller{
		Checker:        o.Client,
		Clock:          o.clock(),
		IncludeDetails: true,
		OnObservation: func(ctx context.Context, j schemas.DeploymentJob) {
			tracked.Observe(j, o.clock().Now())
			tracked.Attempts++
			o.record(ctx, tracked)
		},
	}

	_, err := poller.Poll(ctx, session, jobID, policy)
	span.SetAttributes(attribute.Int("attempts", tracked.Attempts))

	if err != nil {
		var timeout *schemas.PollTimeoutError
		if errors.As(err, &timeout) && o.OnPollTimeout != nil {
			o.OnPollTimeout(ctx, session, tracked)
		}

		return tracked, err
	}

	return tracked, outcome(tracked)
}

// Toggle switches a trigger on or off end to end. Any failing step stops the
// workflow; input is validated before the first network call.
func (o *Orchestrator) Toggle(ctx context.Context, req Request) (schemas.DeploymentJob, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deploy:Toggle")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", req.TriggerName))

	pkg, err := o.BuildPackage(req.TriggerName, req.Status)
	if err != nil {
		return schemas.DeploymentJob{}, err
	}

	if err = ValidateCredentials(req.Credentials); err != nil {
		return schemas.DeploymentJob{}, err
	}

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"trigger":       pkg.TriggerName,
		"target-status": pkg.Status,
	})

	session, err := o.Client.Authenticate(ctx, req.Credentials)
	if err != nil {
		return schemas.DeploymentJob{}, err
	}

	jobID, err := o.SubmitDeploy(ctx, session, pkg)
	if err != nil {
		return schemas.DeploymentJob{}, err
	}

	logger = logger.WithField("job-id", jobID)
	logger.Info("trigger deploy submitted, polling")

	j, err := o.PollStatus(ctx, session, jobID, o.Options.Policy)
	if j.TriggerName == "" {
		j.TriggerName = pkg.TriggerName
		j.TargetStatus = pkg.Status
	}

	if err != nil {
		logger.WithError(err).Warn("trigger toggle did not succeed")
		return j, err
	}

	logger.WithField("status", j.Status).Info("trigger toggled")

	return j, nil
}

func (o *Orchestrator) clock() Clock {
	if o.Clock == nil {
		return RealClock()
	}

	return o.Clock
}

func (o *Orchestrator) record(ctx context.Context, j schemas.DeploymentJob) {
	if o.Store == nil {
		return
	}

	if err := o.Store.SetDeploymentJob(ctx, j); err != nil && !errors.Is(err, schemas.ErrDeploymentFinalized) {
		log.WithContext(ctx).
			WithField("job-id", j.ID).
			WithError(err).
			Warn("writing deployment job in the store")
	}
}

func outcome(j schemas.DeploymentJob) error {
	if j.Failed() {
		return &schemas.DeployFailedError{Job: j}
	}

	return nil
}
